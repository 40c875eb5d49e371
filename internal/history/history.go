/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history records finished songs in a local SQLite database
// and answers "what has been sung tonight" queries.
package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/skald_karaoke/internal/events"
)

// Play is one completed (or aborted) playback.
type Play struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	User      string    `gorm:"index" json:"user"`
	File      string    `gorm:"index" json:"file"`
	Title     string    `gorm:"index" json:"title"`
	Semitones int       `json:"semitones"`
	Duration  *int      `json:"duration,omitempty"`
	Reason    string    `gorm:"type:varchar(32)" json:"reason"`
	PlayedAt  time.Time `gorm:"index" json:"played_at"`
}

// Recorder persists plays and serves listings.
type Recorder struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open connects to the SQLite file at path and migrates the schema.
func Open(path string, log zerolog.Logger) (*Recorder, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&Play{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	return &Recorder{
		db:     db,
		logger: log.With().Str("component", "history").Logger(),
	}, nil
}

// Close releases the underlying connection.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Attach subscribes the recorder to song endings on the bus.
func (r *Recorder) Attach(bus *events.Bus) {
	bus.On(events.EventSongEnded, r.handleSongEnded)
}

// handleSongEnded maps a song_ended payload into a Play row.
func (r *Recorder) handleSongEnded(payload events.Payload) error {
	play := Play{
		ID:       uuid.NewString(),
		PlayedAt: time.Now().UTC(),
	}
	if v, ok := payload["user"].(string); ok {
		play.User = v
	}
	if v, ok := payload["file"].(string); ok {
		play.File = v
	}
	if v, ok := payload["title"].(string); ok {
		play.Title = v
	}
	if v, ok := payload["semitones"].(int); ok {
		play.Semitones = v
	}
	if v, ok := payload["duration"].(*int); ok {
		play.Duration = v
	}
	if v, ok := payload["reason"].(string); ok {
		play.Reason = v
	}

	if err := r.db.Create(&play).Error; err != nil {
		r.logger.Error().Err(err).Str("title", play.Title).Msg("history insert failed")
		return fmt.Errorf("record play: %w", err)
	}
	r.logger.Debug().Str("title", play.Title).Str("reason", play.Reason).Msg("play recorded")
	return nil
}

// Recent returns the most recent plays, newest first.
func (r *Recorder) Recent(limit int) ([]Play, error) {
	if limit <= 0 {
		limit = 50
	}
	var plays []Play
	err := r.db.Order("played_at desc").Limit(limit).Find(&plays).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return plays, nil
}

// ByUser returns one user's plays, newest first.
func (r *Recorder) ByUser(user string, limit int) ([]Play, error) {
	if limit <= 0 {
		limit = 50
	}
	var plays []Play
	err := r.db.Where("user = ?", user).Order("played_at desc").Limit(limit).Find(&plays).Error
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", user, err)
	}
	return plays, nil
}

// Count returns how many plays are recorded.
func (r *Recorder) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&Play{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
