// Package queue serialises the write jobs of the service. A single consumer
// runs them one after the other so the database only ever has one writer.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// historySize bounds the number of finished jobs whose status is kept.
const historySize = 100

type Kind string

const (
	KindRefresh  Kind = "refresh"
	KindIngest   Kind = "ingest"
	KindCommunes Kind = "communes"
	KindAnalysis Kind = "analysis"
)

// Job is a unit of write work.
type Job struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Source          string    `json:"source,omitempty"`
	CodeDepartement string    `json:"code_departement,omitempty"`
	CodeCommune     string    `json:"code_commune,omitempty"`
	RequestedBy     string    `json:"requested_by,omitempty"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is the observable progress of a job.
type Status struct {
	Job        Job         `json:"job"`
	State      State       `json:"state"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Handler runs one job and returns a JSON friendly summary.
type Handler func(ctx context.Context, job Job) (interface{}, error)

// JobQueue is an in-memory bounded queue with a single consumer.
type JobQueue struct {
	items    chan Job
	done     chan struct{}
	stopped  chan struct{}
	maxSize  int
	closed   bool
	started  bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []Handler

	statusMu sync.RWMutex
	statuses map[string]*Status
	finished []string

	onDepth func(int)
}

// NewJobQueue creates a queue holding at most bufferSize pending jobs.
func NewJobQueue(bufferSize int, logger *logrus.Logger) *JobQueue {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &JobQueue{
		items:    make(chan Job, bufferSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		statuses: make(map[string]*Status),
	}
}

// OnDepthChange registers a callback receiving the pending job count. It
// must be called before Start.
func (q *JobQueue) OnDepthChange(fn func(int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDepth = fn
}

// Push enqueues a job without blocking and returns it with its ID set.
func (q *JobQueue) Push(job Job) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return job, ErrQueueClosed
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	q.statusMu.Lock()
	q.statuses[job.ID] = &Status{Job: job, State: StatePending}
	q.statusMu.Unlock()

	// Non-blocking send so callers never wait on a long running job
	select {
	case q.items <- job:
		q.logger.WithFields(logrus.Fields{"job_id": job.ID, "kind": job.Kind}).Debug("Pushed job to queue")
		q.reportDepth()
		return job, nil
	default:
		q.statusMu.Lock()
		delete(q.statuses, job.ID)
		q.statusMu.Unlock()
		return job, ErrQueueFull
	}
}

// Subscribe adds a handler called for each job, in registration order.
func (q *JobQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins consuming jobs. ctx is handed to the handlers.
func (q *JobQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.process(ctx)
}

func (q *JobQueue) process(ctx context.Context) {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			return
		case <-ctx.Done():
			return
		case job := <-q.items:
			q.reportDepth()
			q.run(ctx, job)
		}
	}
}

func (q *JobQueue) run(ctx context.Context, job Job) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	started := time.Now()
	q.update(job.ID, func(s *Status) {
		s.State = StateRunning
		s.StartedAt = &started
	})

	var result interface{}
	var err error
	for _, handler := range handlers {
		if result, err = handler(ctx, job); err != nil {
			break
		}
	}

	finished := time.Now()
	q.update(job.ID, func(s *Status) {
		s.FinishedAt = &finished
		s.Result = result
		if err != nil {
			s.State = StateFailed
			s.Error = err.Error()
			return
		}
		s.State = StateSucceeded
	})

	fields := logrus.Fields{"job_id": job.ID, "kind": job.Kind, "duration": finished.Sub(started).String()}
	if err != nil {
		q.logger.WithFields(fields).WithError(err).Error("Job failed")
	} else {
		q.logger.WithFields(fields).Info("Job completed")
	}
	q.remember(job.ID)
}

func (q *JobQueue) update(id string, fn func(*Status)) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	if s, ok := q.statuses[id]; ok {
		fn(s)
	}
}

// remember records a finished job and forgets the oldest beyond historySize.
func (q *JobQueue) remember(id string) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	q.finished = append(q.finished, id)
	for len(q.finished) > historySize {
		delete(q.statuses, q.finished[0])
		q.finished = q.finished[1:]
	}
}

// Status returns a copy of the status of a known job.
func (q *JobQueue) Status(id string) (Status, bool) {
	q.statusMu.RLock()
	defer q.statusMu.RUnlock()
	s, ok := q.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

func (q *JobQueue) reportDepth() {
	if q.onDepth != nil {
		q.onDepth(len(q.items))
	}
}

// Close stops accepting jobs and waits for the running job, if any. Pending
// jobs are dropped.
func (q *JobQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	close(q.done)
	q.mu.Unlock()

	if started {
		<-q.stopped
	}
	return nil
}

// Len returns the number of pending jobs.
func (q *JobQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *JobQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
