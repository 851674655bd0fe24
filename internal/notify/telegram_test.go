package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immobilier/server/internal/queue"
)

func TestSendMessage(t *testing.T) {
	var path string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewService("token123", "42", nil).WithAPIURL(srv.URL)
	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	assert.Equal(t, "/bottoken123/sendMessage", path)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "hello", payload["text"])
	assert.Equal(t, "HTML", payload["parse_mode"])
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "invalid bot token"},
		{http.StatusForbidden, "blocked"},
		{http.StatusInternalServerError, "status 500"},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		s := NewService("t", "c", nil).WithAPIURL(srv.URL)
		err := s.SendMessage(context.Background(), "x")
		srv.Close()

		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestDisabledServiceSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := NewService("", "", nil).WithAPIURL(srv.URL)
	assert.False(t, s.Enabled())
	assert.NoError(t, s.SendMessage(context.Background(), "x"))
	s.NotifyJob(context.Background(), queue.Job{ID: "1"}, nil, nil)
	assert.False(t, called)
}

func TestFormatJobSummary(t *testing.T) {
	job := queue.Job{ID: "abc", Kind: queue.KindRefresh, RequestedBy: "alice"}

	ok := FormatJobSummary(job, map[string]int{"groups": 12}, nil)
	assert.True(t, strings.HasPrefix(ok, "<b>Job refresh completed</b>"))
	assert.Contains(t, ok, "alice")
	assert.Contains(t, ok, "&#34;groups&#34;: 12")

	failed := FormatJobSummary(job, nil, errors.New("fetch <url>: status 503"))
	assert.Contains(t, failed, "<b>Job refresh failed</b>")
	assert.Contains(t, failed, "fetch &lt;url&gt;: status 503")
}
