/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefs stores party preferences that can be changed while the
// server is running. Values persist to a YAML file between runs; the file
// is optional and missing keys fall back to defaults.
package prefs

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Preference keys.
const (
	KeyBufferSize        = "buffer_size" // KB of transcoded output required before playback
	KeyCompleteTranscode = "complete_transcode_before_play"
	KeyNormalizeAudio    = "normalize_audio"
	KeyAVSync            = "avsync" // seconds, signed
	KeyCDGPixelScaling   = "cdg_pixel_scaling"
	KeyUserSongLimit     = "limit_user_songs_by" // 0 = unlimited
	KeyFairQueue         = "enable_fair_queue"
)

// Store is a thread-safe preference store backed by viper.
type Store struct {
	mu     sync.RWMutex
	v      *viper.Viper
	path   string
	logger zerolog.Logger
}

// Open loads preferences from path, creating the store with defaults when
// the file does not exist yet.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault(KeyBufferSize, 150)
	v.SetDefault(KeyCompleteTranscode, false)
	v.SetDefault(KeyNormalizeAudio, false)
	v.SetDefault(KeyAVSync, 0.0)
	v.SetDefault(KeyCDGPixelScaling, true)
	v.SetDefault(KeyUserSongLimit, 0)
	v.SetDefault(KeyFairQueue, true)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read prefs %s: %w", path, err)
		}
		logger.Info().Str("path", path).Msg("no prefs file, using defaults")
	}

	return &Store{v: v, path: path, logger: logger.With().Str("component", "prefs").Logger()}, nil
}

// Set updates a preference and persists the file. Persistence failure is
// logged but does not fail the set; the in-memory value always wins.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to persist prefs")
	}
}

// GetInt returns an integer preference.
func (s *Store) GetInt(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetInt(key)
}

// GetBool returns a boolean preference.
func (s *Store) GetBool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool(key)
}

// GetFloat returns a float preference.
func (s *Store) GetFloat(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetFloat64(key)
}

// GetString returns a string preference.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(key)
}

// All returns a snapshot of every preference for display.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.AllSettings()
}

// BufferSizeBytes converts the buffer_size preference (KB) to bytes.
func (s *Store) BufferSizeBytes() int64 {
	return int64(s.GetInt(KeyBufferSize)) * 1000
}

// FairQueueEnabled reports whether round-robin insertion is on.
func (s *Store) FairQueueEnabled() bool { return s.GetBool(KeyFairQueue) }

// UserSongLimit returns the per-user cap; 0 means unlimited.
func (s *Store) UserSongLimit() int { return s.GetInt(KeyUserSongLimit) }

// NormalizeAudio reports whether loudness normalization is on.
func (s *Store) NormalizeAudio() bool { return s.GetBool(KeyNormalizeAudio) }

// AVSyncSeconds returns the signed audio/video sync offset.
func (s *Store) AVSyncSeconds() float64 { return s.GetFloat(KeyAVSync) }

// CompleteTranscodeBeforePlay reports whether playback waits for the
// whole transcode instead of buffering thresholds.
func (s *Store) CompleteTranscodeBeforePlay() bool { return s.GetBool(KeyCompleteTranscode) }

// CDGPixelScaling reports whether CDG graphics get integer pixel scaling.
func (s *Store) CDGPixelScaling() bool { return s.GetBool(KeyCDGPixelScaling) }
