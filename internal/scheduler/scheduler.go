package scheduler

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"immobilier/server/internal/queue"
)

// JobPusher accepts write jobs.
type JobPusher interface {
	Push(job queue.Job) (queue.Job, error)
}

// Scheduler queues the nightly refresh (communes, transactions, analysis)
// at a fixed hour of the day.
type Scheduler struct {
	jobs         JobPusher
	logger       *logrus.Logger
	hour         int
	runOnStartup bool
	interval     time.Duration
	stopChan     chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	lastRun      string // date of the last queued refresh, 2006-01-02
	now          func() time.Time
}

// NewScheduler creates a scheduler firing at hour (0-23, local time). With
// runOnStartup a refresh is queued as soon as Start is called.
func NewScheduler(jobs JobPusher, hour int, runOnStartup bool, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if hour < 0 || hour > 23 {
		hour = 3
	}

	return &Scheduler{
		jobs:         jobs,
		logger:       logger,
		hour:         hour,
		runOnStartup: runOnStartup,
		interval:     time.Minute,
		stopChan:     make(chan struct{}),
		now:          time.Now,
	}
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	if s.runOnStartup {
		s.logger.Info("Queueing startup refresh")
		s.enqueueRefresh(s.now())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.executeScheduledJobs(s.now())
		}
	}
}

// executeScheduledJobs queues the refresh once per day, at the configured
// hour.
func (s *Scheduler) executeScheduledJobs(t time.Time) {
	s.logger.WithFields(logrus.Fields{
		"hour":   t.Hour(),
		"minute": t.Minute(),
	}).Debug("Checking scheduled jobs")

	if t.Hour() != s.hour {
		return
	}

	s.mu.Lock()
	already := s.lastRun == t.Format("2006-01-02")
	s.mu.Unlock()
	if already {
		return
	}

	s.enqueueRefresh(t)
}

func (s *Scheduler) enqueueRefresh(t time.Time) {
	job, err := s.jobs.Push(queue.Job{Kind: queue.KindRefresh, RequestedBy: "scheduler"})
	if err != nil {
		// a full queue means work is already pending, try again next tick
		s.logger.WithError(err).Warn("Could not queue scheduled refresh")
		return
	}

	s.mu.Lock()
	s.lastRun = t.Format("2006-01-02")
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"hour":   s.hour,
	}).Info("Queued scheduled refresh")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
