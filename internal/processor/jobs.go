package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"immobilier/server/internal/database"
	"immobilier/server/internal/queue"
)

// JobNotifier is told about every finished job.
type JobNotifier interface {
	NotifyJob(ctx context.Context, job queue.Job, result interface{}, err error)
}

// WithNotifier sets the notifier of finished jobs.
func (p *Processor) WithNotifier(n JobNotifier) *Processor {
	p.notifier = n
	return p
}

// HandleJob runs a queued job. It is the single consumer of the job queue.
func (p *Processor) HandleJob(ctx context.Context, job queue.Job) (interface{}, error) {
	start := time.Now()
	p.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   job.Kind,
	}).Info("Starting job")

	result, err := p.runJob(ctx, job)

	p.metrics.Job(string(job.Kind), err, time.Since(start))
	if p.notifier != nil {
		p.notifier.NotifyJob(ctx, job, result, err)
	}
	return result, err
}

func (p *Processor) runJob(ctx context.Context, job queue.Job) (interface{}, error) {
	switch job.Kind {
	case queue.KindRefresh:
		return p.Refresh(ctx, job.Source)
	case queue.KindIngest:
		return p.IngestTransactions(ctx, job.Source)
	case queue.KindCommunes:
		n, err := p.SyncCommunes(ctx)
		return map[string]int{"communes": n}, err
	case queue.KindAnalysis:
		n, err := p.GenerateAnalysis(ctx, database.AnalysisScope{
			CodeDepartement: job.CodeDepartement,
			CodeCommune:     job.CodeCommune,
		})
		return map[string]int{"groups": n}, err
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
