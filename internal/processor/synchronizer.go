package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"immobilier/server/internal/database"
	"immobilier/server/internal/geoapi"
	"immobilier/server/internal/models"
)

// CommuneSource provides the full commune reference list.
type CommuneSource interface {
	FetchCommunes(ctx context.Context) ([]geoapi.Commune, error)
}

// Synchronizer mirrors the commune reference list into storage.
type Synchronizer struct {
	db     *database.Database
	source CommuneSource
	logger *logrus.Logger
}

func NewSynchronizer(db *database.Database, source CommuneSource, logger *logrus.Logger) *Synchronizer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Synchronizer{db: db, source: source, logger: logger}
}

// SyncCommunes fetches the reference list and upserts it by code in a single
// transaction. A fetch or commit failure leaves the table untouched.
func (s *Synchronizer) SyncCommunes(ctx context.Context) (int, error) {
	entries, err := s.source.FetchCommunes(ctx)
	if err != nil {
		return 0, err
	}

	communes, skipped := uniqueCommunes(entries)
	if skipped > 0 {
		s.logger.WithField("skipped", skipped).Warn("Ignored commune entries without a code")
	}

	err = s.db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.UpsertCommunes(tx, communes); err != nil {
			return fmt.Errorf("failed to upsert communes: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, database.MapError("commit communes", err)
	}

	s.logger.WithField("communes", len(communes)).Info("Synchronized commune reference data")
	return len(communes), nil
}

// uniqueCommunes drops entries without a code and keeps the last entry of a
// repeated code, a single upsert statement cannot touch a row twice.
func uniqueCommunes(entries []geoapi.Commune) ([]models.Commune, int) {
	index := make(map[string]int, len(entries))
	communes := make([]models.Commune, 0, len(entries))
	skipped := 0

	for _, e := range entries {
		e.Code = strings.TrimSpace(e.Code)
		if e.Code == "" {
			skipped++
			continue
		}
		if i, ok := index[e.Code]; ok {
			communes[i] = e.Model()
			continue
		}
		index[e.Code] = len(communes)
		communes = append(communes, e.Model())
	}
	return communes, skipped
}
