package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"immobilier/server/internal/apperr"
	"immobilier/server/internal/database"
	"immobilier/server/internal/dvf"
	"immobilier/server/internal/models"
)

// WriteResult counts the outcome of one committed batch.
type WriteResult struct {
	Inserted   int
	Duplicates int
}

// Writer appends cleaned records as transactions, one database transaction
// per batch.
type Writer struct {
	db       *database.Database
	validate *validator.Validate
	dedup    bool
	logger   *logrus.Logger
}

// NewWriter returns a writer. With dedup set, records whose raw line hash is
// already stored (or repeated within the batch) are skipped.
func NewWriter(db *database.Database, dedup bool, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Writer{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		dedup:    dedup,
		logger:   logger,
	}
}

// WriteBatch validates every record then inserts the batch atomically. Any
// invalid row fails the whole batch and nothing is committed.
func (w *Writer) WriteBatch(ctx context.Context, records []dvf.Record) (WriteResult, error) {
	var res WriteResult
	if len(records) == 0 {
		return res, nil
	}

	rows := make([]models.Transaction, 0, len(records))
	for _, rec := range records {
		row := models.NewTransaction(rec)
		if err := w.validate.Struct(row); err != nil {
			return res, validationError(rec.Line, err)
		}
		rows = append(rows, row)
	}

	err := w.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if w.dedup {
			var err error
			rows, res.Duplicates, err = dropKnownRows(tx, rows)
			if err != nil {
				return fmt.Errorf("failed to look up stored rows: %w", err)
			}
		}

		if err := database.InsertTransactions(tx, rows); err != nil {
			return fmt.Errorf("failed to insert transactions batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, database.MapError("commit transactions batch", err)
	}

	res.Inserted = len(rows)
	return res, nil
}

func dropKnownRows(tx *gorm.DB, rows []models.Transaction) ([]models.Transaction, int, error) {
	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		hashes = append(hashes, r.RowHash)
	}

	known, err := database.ExistingRowHashes(tx, hashes)
	if err != nil {
		return nil, 0, err
	}

	kept := rows[:0]
	dropped := 0
	for _, r := range rows {
		if _, ok := known[r.RowHash]; ok {
			dropped++
			continue
		}
		known[r.RowHash] = struct{}{}
		kept = append(kept, r)
	}
	return kept, dropped, nil
}

func validationError(line int, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &apperr.ValidationError{
			Row:   line,
			Field: fe.Field(),
			Err:   fmt.Errorf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
		}
	}
	return &apperr.ValidationError{Row: line, Err: err}
}
