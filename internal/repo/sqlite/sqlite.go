// Package sqlite is the default state store: a single file, no server.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.StateStore = (*Store)(nil)

type stateRow struct {
	TargetID             string `gorm:"primaryKey"`
	Verdict              string `gorm:"index"`
	LastTransition       time.Time
	LastChecked          time.Time
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	LastLatency          time.Duration
	LastError            string
	LastClass            string
	LastStatusCode       int
	UpdatedAt            time.Time
}

func (stateRow) TableName() string { return "target_states" }

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open creates the file (and its directory) if missing and migrates the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer at a time; sqlite serializes anyway
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.AutoMigrate(&stateRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("state_store_ready", zap.String("backend", "sqlite"), zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Put(ctx context.Context, st domain.State) error {
	row := stateRow{
		TargetID:             string(st.TargetID),
		Verdict:              string(st.Verdict),
		LastTransition:       st.LastTransition,
		LastChecked:          st.LastChecked,
		ConsecutiveSuccesses: st.ConsecutiveSuccesses,
		ConsecutiveFailures:  st.ConsecutiveFailures,
		LastLatency:          st.LastLatency,
		LastError:            st.LastError,
		LastClass:            string(st.LastClass),
		LastStatusCode:       st.LastStatusCode,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save state %s: %w", st.TargetID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.State, error) {
	var rows []stateRow
	if err := s.db.WithContext(ctx).Order("target_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	out := make([]domain.State, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.State{
			TargetID:             domain.TargetID(r.TargetID),
			Verdict:              domain.Verdict(r.Verdict),
			LastTransition:       r.LastTransition,
			LastChecked:          r.LastChecked,
			ConsecutiveSuccesses: r.ConsecutiveSuccesses,
			ConsecutiveFailures:  r.ConsecutiveFailures,
			LastLatency:          r.LastLatency,
			LastError:            r.LastError,
			LastClass:            domain.ErrorClass(r.LastClass),
			LastStatusCode:       r.LastStatusCode,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
