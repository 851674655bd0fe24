package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immobilier/server/internal/apperr"
	"immobilier/server/internal/auth"
	"immobilier/server/internal/database"
	"immobilier/server/internal/queue"
)

// JobQueue is the write side of the service as seen by the handlers.
type JobQueue interface {
	Push(job queue.Job) (queue.Job, error)
	Status(id string) (queue.Status, bool)
	Len() int
}

// BreakerReporter exposes the circuit breaker state of an upstream client.
type BreakerReporter interface {
	BreakerState() string
}

type Handler struct {
	db       *database.Database
	jobs     JobQueue
	tokens   *auth.TokenService
	hasher   *auth.PasswordHasher
	upstream BreakerReporter
	logger   *logrus.Logger
	now      func() time.Time
}

type Deps struct {
	DB       *database.Database
	Jobs     JobQueue
	Tokens   *auth.TokenService
	Hasher   *auth.PasswordHasher
	Upstream BreakerReporter
	Logger   *logrus.Logger
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = auth.NewPasswordHasher(0)
	}

	return &Handler{
		db:       deps.DB,
		jobs:     deps.Jobs,
		tokens:   deps.Tokens,
		hasher:   hasher,
		upstream: deps.Upstream,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
		return
	}

	resp := gin.H{
		"status": "healthy",
		"time":   h.now().UTC().Format(time.RFC3339),
	}
	if counts, err := h.db.Counts(ctx); err == nil {
		resp["tables"] = counts
	} else {
		h.logger.WithError(err).Warn("Failed to count rows")
	}
	if h.jobs != nil {
		resp["queue_depth"] = h.jobs.Len()
	}
	if h.upstream != nil {
		resp["communes_api"] = h.upstream.BreakerState()
	}

	c.JSON(http.StatusOK, resp)
}

// enqueue pushes a write job and answers 202 with the job, or 503 when the
// queue cannot take it.
func (h *Handler) enqueue(c *gin.Context, job queue.Job) {
	if user, ok := auth.UserFrom(c); ok {
		job.RequestedBy = "user:" + user.Username
	}

	queued, err := h.jobs.Push(job)
	if err != nil {
		h.logger.WithError(err).WithField("kind", job.Kind).Warn("Failed to enqueue job")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue unavailable, try again later"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id": queued.ID,
		"kind":   queued.Kind,
	}).Info("Job enqueued")
	c.Header("Location", "/jobs/"+queued.ID)
	c.JSON(http.StatusAccepted, queued)
}

func (h *Handler) JobStatus(c *gin.Context) {
	status, ok := h.jobs.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// respondError maps the pipeline error taxonomy onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "detail": verr.Error()})
		return
	}

	h.logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters", "detail": err.Error()})
}
