/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state persists the playlist position snapshot.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/schwwaaa/obs-relay/internal/models"
)

// Store reads and writes the single PlaylistStateRecord row.
type Store struct {
	db                 *gorm.DB
	logger             zerolog.Logger
	autoAdvanceDefault bool
}

// NewStore creates a store and migrates the snapshot table.
func NewStore(db *gorm.DB, autoAdvanceDefault bool, logger zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&models.PlaylistStateRecord{}); err != nil {
		return nil, fmt.Errorf("migrate playlist state: %w", err)
	}
	return &Store{
		db:                 db,
		logger:             logger.With().Str("component", "state_store").Logger(),
		autoAdvanceDefault: autoAdvanceDefault,
	}, nil
}

// Default returns the snapshot used when nothing has been committed yet.
func (s *Store) Default() models.PlaylistStateRecord {
	return models.PlaylistStateRecord{
		ID:          models.PlaylistStateRecordID,
		AutoAdvance: s.autoAdvanceDefault,
		UpdatedAt:   time.Now(),
	}
}

// Load returns the last committed snapshot, or the default when the row is
// absent or unreadable. Unreadable state is logged, never fatal.
func (s *Store) Load() models.PlaylistStateRecord {
	var rec models.PlaylistStateRecord
	err := s.db.First(&rec, models.PlaylistStateRecordID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Msg("state load failed, starting from defaults")
		}
		return s.Default()
	}
	return rec
}

// Commit durably overwrites the snapshot row. The caller must not report
// its mutation as complete until Commit returns.
func (s *Store) Commit(rec models.PlaylistStateRecord) error {
	rec.ID = models.PlaylistStateRecordID
	rec.UpdatedAt = time.Now()

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("commit playlist state: %w", err)
	}
	return nil
}
