// Package notify sends job summaries to a Telegram chat.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"immobilier/server/internal/queue"
)

const defaultAPIURL = "https://api.telegram.org"

type Service struct {
	logger   *logrus.Logger
	client   *http.Client
	apiURL   string
	botToken string
	chatID   string
}

// NewService returns a Telegram notifier. It stays silent while the token or
// the chat ID is empty.
func NewService(botToken, chatID string, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Service{
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		apiURL:   defaultAPIURL,
		botToken: botToken,
		chatID:   chatID,
	}
}

// WithAPIURL points the service at another Bot API endpoint.
func (s *Service) WithAPIURL(url string) *Service {
	s.apiURL = url
	return s
}

func (s *Service) Enabled() bool {
	return s.botToken != "" && s.chatID != ""
}

// SendMessage sends an HTML formatted message to the configured chat.
func (s *Service) SendMessage(ctx context.Context, message string) error {
	if !s.Enabled() {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    s.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("invalid bot token")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		case http.StatusNotFound:
			return errors.New("bot not found")
		default:
			return fmt.Errorf("Telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}

// NotifyJob reports the outcome of a finished job. Delivery failures are
// logged, never returned.
func (s *Service) NotifyJob(ctx context.Context, job queue.Job, result interface{}, jobErr error) {
	if !s.Enabled() {
		return
	}
	if err := s.SendMessage(ctx, FormatJobSummary(job, result, jobErr)); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to send Telegram notification")
	}
}

// FormatJobSummary renders a job outcome as a Telegram HTML message.
func FormatJobSummary(job queue.Job, result interface{}, jobErr error) string {
	title := fmt.Sprintf("<b>Job %s completed</b>", html.EscapeString(string(job.Kind)))
	if jobErr != nil {
		title = fmt.Sprintf("<b>Job %s failed</b>", html.EscapeString(string(job.Kind)))
	}

	msg := fmt.Sprintf("%s\n\nID: <code>%s</code>", title, html.EscapeString(job.ID))
	if job.RequestedBy != "" {
		msg += fmt.Sprintf("\nRequested by: %s", html.EscapeString(job.RequestedBy))
	}
	if jobErr != nil {
		msg += fmt.Sprintf("\nError: %s", html.EscapeString(jobErr.Error()))
	}
	if result != nil {
		if data, err := json.MarshalIndent(result, "", "  "); err == nil {
			msg += fmt.Sprintf("\n<pre>%s</pre>", html.EscapeString(string(data)))
		}
	}
	return msg
}
