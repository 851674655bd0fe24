// Package processor runs the DVF pipeline: streaming ingestion, commune
// reference synchronization and market aggregation.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"immobilier/server/internal/cleaner"
	"immobilier/server/internal/database"
	"immobilier/server/internal/loader"
	"immobilier/server/internal/metrics"
)

const (
	OutlierModeBatch  = "batch"
	OutlierModeGlobal = "global"
)

// Source opens the DVF file as a batch sequence.
type Source interface {
	Open(ctx context.Context, source string) (*loader.BatchReader, error)
}

// Options configures a Processor.
type Options struct {
	// Default DVF locator used when IngestTransactions gets an empty source
	SourceURL   string
	OutlierMode string
	StrictDates bool
	Dedup       bool
}

// IngestReport summarises one ingestion run. Counts cover the batches
// committed before a failure too.
type IngestReport struct {
	RunID        string        `json:"run_id"`
	Source       string        `json:"source"`
	Encoding     string        `json:"encoding"`
	Batches      int           `json:"batches"`
	RowsRead     int           `json:"rows_read"`
	RowsStored   int           `json:"rows_stored"`
	Outliers     int           `json:"outliers"`
	InvalidDates int           `json:"invalid_dates"`
	DroppedDates int           `json:"dropped_dates"`
	Duplicates   int           `json:"duplicates"`
	Malformed    int           `json:"malformed_values"`
	Duration     time.Duration `json:"duration"`
}

// RefreshReport summarises a full refresh.
type RefreshReport struct {
	Communes int          `json:"communes"`
	Ingest   IngestReport `json:"ingest"`
	Groups   int          `json:"groups"`
}

// Processor wires the loader, cleaner, writer, synchronizer and aggregator
// over one database handle.
type Processor struct {
	opts     Options
	source   Source
	cleaner  *cleaner.Cleaner
	writer   *Writer
	sync     *Synchronizer
	agg      *Aggregator
	metrics  *metrics.Metrics
	notifier JobNotifier
	logger   *logrus.Logger
}

// New builds a processor. metrics may be nil.
func New(db *database.Database, source Source, communes CommuneSource, opts Options, m *metrics.Metrics, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	switch opts.OutlierMode {
	case OutlierModeBatch, OutlierModeGlobal:
	case "":
		opts.OutlierMode = OutlierModeBatch
	default:
		logger.WithField("outlier_mode", opts.OutlierMode).Warn("Unknown outlier mode, using batch")
		opts.OutlierMode = OutlierModeBatch
	}
	return &Processor{
		opts:    opts,
		source:  source,
		cleaner: cleaner.New(cleaner.Options{StrictDates: opts.StrictDates}),
		writer:  NewWriter(db, opts.Dedup, logger),
		sync:    NewSynchronizer(db, communes, logger),
		agg:     NewAggregator(db, logger),
		metrics: m,
		logger:  logger,
	}
}

// IngestTransactions streams source (the configured DVF locator when empty)
// through the cleaner into storage, committing batch by batch in source
// order. On failure the batches already committed stay durable and the
// returned report counts them.
func (p *Processor) IngestTransactions(ctx context.Context, source string) (IngestReport, error) {
	if source == "" {
		source = p.opts.SourceURL
	}
	report := IngestReport{RunID: uuid.NewString(), Source: source}
	start := time.Now()
	log := p.logger.WithFields(logrus.Fields{"run_id": report.RunID, "source": source})

	c := p.cleaner
	if p.opts.OutlierMode == OutlierModeGlobal {
		bounds, err := p.globalBounds(ctx, source)
		if err != nil {
			log.WithError(err).Error("Failed to compute global price bounds")
			return report, err
		}
		log.WithFields(logrus.Fields{
			"lower": bounds.Lower,
			"upper": bounds.Upper,
		}).Info("Computed global price bounds")
		c = c.WithBounds(bounds)
	}

	openStart := time.Now()
	reader, err := p.source.Open(ctx, source)
	if err != nil {
		log.WithError(err).Error("Failed to open DVF source")
		return report, err
	}
	defer reader.Close()
	p.metrics.ObserveFetch("dvf", time.Since(openStart))
	report.Encoding = reader.Encoding()

	for {
		if err := ctx.Err(); err != nil {
			return p.finish(log, report, start, err)
		}

		batch, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.finish(log, report, start, err)
		}

		res := c.Clean(batch)
		written, err := p.writer.WriteBatch(ctx, res.Records)
		if err != nil {
			log.WithFields(logrus.Fields{
				"batch":   report.Batches + 1,
				"rows_in": len(batch),
			}).WithError(err).Error("Failed to write batch")
			return p.finish(log, report, start, err)
		}

		report.Batches++
		report.RowsRead += len(batch)
		report.RowsStored += written.Inserted
		report.Outliers += res.Outliers
		report.InvalidDates += res.InvalidDates
		report.DroppedDates += res.DroppedDates
		report.Duplicates += written.Duplicates

		p.metrics.BatchCommitted(written.Inserted)
		p.metrics.Rejected("outlier", res.Outliers)
		p.metrics.Rejected("date", res.DroppedDates)
		p.metrics.Rejected("duplicate", written.Duplicates)

		log.WithFields(logrus.Fields{
			"batch":         report.Batches,
			"rows_in":       len(batch),
			"rows_kept":     written.Inserted,
			"rows_rejected": len(batch) - written.Inserted,
		}).Info("Committed batch")
	}

	report.Malformed = reader.Malformed()
	return p.finish(log, report, start, nil)
}

func (p *Processor) finish(log *logrus.Entry, report IngestReport, start time.Time, err error) (IngestReport, error) {
	report.Duration = time.Since(start)
	fields := logrus.Fields{
		"batches":     report.Batches,
		"rows_read":   report.RowsRead,
		"rows_stored": report.RowsStored,
		"duration":    report.Duration.String(),
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Error("DVF ingestion aborted")
		return report, fmt.Errorf("failed to ingest transactions: %w", err)
	}
	log.WithFields(fields).Info("DVF ingestion completed")
	return report, nil
}

// globalBounds reads the whole source once to compute the price bounds of
// the full distribution.
func (p *Processor) globalBounds(ctx context.Context, source string) (cleaner.Bounds, error) {
	reader, err := p.source.Open(ctx, source)
	if err != nil {
		return cleaner.Bounds{}, err
	}
	defer reader.Close()

	var prices []float64
	for {
		if err := ctx.Err(); err != nil {
			return cleaner.Bounds{}, err
		}
		batch, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cleaner.Bounds{}, err
		}
		for _, rec := range batch {
			if price := cleaner.PricePerSqm(rec); price != nil {
				prices = append(prices, *price)
			}
		}
	}
	return cleaner.ComputeBounds(prices, p.cleaner.Multiplier()), nil
}

// SyncCommunes refreshes the commune reference table.
func (p *Processor) SyncCommunes(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := p.sync.SyncCommunes(ctx)
	p.metrics.ObserveFetch("communes", time.Since(start))
	if err != nil {
		p.logger.WithError(err).Error("Commune synchronization failed")
		return 0, fmt.Errorf("failed to synchronize communes: %w", err)
	}
	p.metrics.Communes(n)
	return n, nil
}

// GenerateAnalysis recomputes the market statistics in scope.
func (p *Processor) GenerateAnalysis(ctx context.Context, scope database.AnalysisScope) (int, error) {
	n, err := p.agg.GenerateAnalysis(ctx, scope)
	if err != nil {
		p.logger.WithError(err).Error("Market analysis failed")
		return 0, fmt.Errorf("failed to generate market analysis: %w", err)
	}
	p.metrics.Groups(n)
	return n, nil
}

// Refresh runs the nightly sequence: communes, transactions, then the full
// market analysis. It stops at the first failure. An empty source uses the
// configured DVF locator.
func (p *Processor) Refresh(ctx context.Context, source string) (RefreshReport, error) {
	var report RefreshReport
	var err error

	if report.Communes, err = p.SyncCommunes(ctx); err != nil {
		return report, err
	}
	if report.Ingest, err = p.IngestTransactions(ctx, source); err != nil {
		return report, err
	}
	if report.Groups, err = p.GenerateAnalysis(ctx, database.AnalysisScope{}); err != nil {
		return report, err
	}
	return report, nil
}
