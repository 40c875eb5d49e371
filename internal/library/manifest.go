/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// Manifest is the persisted form of the song index.
type Manifest struct {
	GeneratedAt time.Time `yaml:"generated_at"`
	SongsDir    string    `yaml:"songs_dir"`
	Songs       []Song    `yaml:"songs"`
}

// SaveManifest writes the current index to the manifest path.
func (s *Service) SaveManifest() error {
	s.mu.RLock()
	manifest := Manifest{
		GeneratedAt: time.Now().UTC(),
		SongsDir:    s.songsDir,
		Songs:       append([]Song(nil), s.songs...),
	}
	s.mu.RUnlock()

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.manifestPath), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := os.WriteFile(s.manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	s.logger.Debug().Str("path", s.manifestPath).Int("songs", len(manifest.Songs)).Msg("manifest saved")
	return nil
}

// LoadManifest restores the index from disk. A manifest written for a
// different songs directory is ignored so stale paths never surface.
func (s *Service) LoadManifest() error {
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.SongsDir != s.songsDir {
		return fmt.Errorf("manifest was built for %s, not %s", manifest.SongsDir, s.songsDir)
	}

	s.mu.Lock()
	s.songs = manifest.Songs
	s.mu.Unlock()
	telemetry.LibrarySongs.Set(float64(len(manifest.Songs)))

	s.logger.Info().Int("songs", len(manifest.Songs)).Msg("manifest loaded")
	return nil
}
