/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library indexes the on-disk song collection and persists the
// index as a manifest so restarts skip a full rescan.
package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// Song is one playable entry in the library.
type Song struct {
	Path    string    `yaml:"path"`
	Title   string    `yaml:"title"`
	Size    int64     `yaml:"size"`
	ModTime time.Time `yaml:"mod_time"`
}

// ScanResult summarizes one library walk.
type ScanResult struct {
	TotalFiles int
	Songs      int
	Skipped    int
	Errors     int
	Elapsed    time.Duration
}

// videoExts are directly playable containers.
var videoExts = map[string]bool{
	".mp4":  true,
	".webm": true,
	".avi":  true,
	".mkv":  true,
	".mov":  true,
}

// audioExts are split-format audio tracks; they only count as songs
// when a same-named .cdg graphics file sits alongside.
var audioExts = map[string]bool{
	".mp3":  true,
	".ogg":  true,
	".flac": true,
	".wav":  true,
}

// Service owns the in-memory song index.
type Service struct {
	songsDir     string
	manifestPath string
	logger       zerolog.Logger

	mu    sync.RWMutex
	songs []Song
}

// NewService creates a library service rooted at songsDir.
func NewService(songsDir, manifestPath string, logger zerolog.Logger) *Service {
	return &Service{
		songsDir:     songsDir,
		manifestPath: manifestPath,
		logger:       logger.With().Str("component", "library").Logger(),
	}
}

// Scan walks the songs directory and rebuilds the index. Unreadable
// entries are logged and skipped, never fatal.
func (s *Service) Scan(ctx context.Context) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{}
	var songs []Song

	s.logger.Info().Str("dir", s.songsDir).Msg("scanning song library")

	err := filepath.Walk(s.songsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("error accessing path")
			result.Errors++
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() {
			return nil
		}
		result.TotalFiles++

		song, ok := classify(path, info)
		if !ok {
			result.Skipped++
			return nil
		}
		songs = append(songs, song)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.songsDir, err)
	}

	sort.Slice(songs, func(i, j int) bool {
		return strings.ToLower(songs[i].Title) < strings.ToLower(songs[j].Title)
	})

	s.mu.Lock()
	s.songs = songs
	s.mu.Unlock()

	result.Songs = len(songs)
	result.Elapsed = time.Since(start)
	telemetry.LibrarySongs.Set(float64(len(songs)))

	s.logger.Info().
		Int("songs", result.Songs).
		Int("skipped", result.Skipped).
		Dur("elapsed", result.Elapsed).
		Msg("library scan complete")

	if s.manifestPath != "" {
		if err := s.SaveManifest(); err != nil {
			s.logger.Warn().Err(err).Msg("manifest save failed")
		}
	}
	return result, nil
}

// classify decides whether a file is a playable song.
func classify(path string, info os.FileInfo) (Song, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExts[ext], ext == ".zip":
	case audioExts[ext]:
		if !hasCDGCompanion(path) {
			return Song{}, false
		}
	default:
		return Song{}, false
	}

	return Song{
		Path:    path,
		Title:   TitleFromPath(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, true
}

// hasCDGCompanion reports whether a same-named graphics file exists,
// case-insensitive on the extension.
func hasCDGCompanion(audioPath string) bool {
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	for _, ext := range []string{".cdg", ".CDG"} {
		if _, err := os.Stat(base + ext); err == nil {
			return true
		}
	}
	return false
}

// TitleFromPath derives the display title from a song path.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(title, "_", " ")
}

// DisplayName satisfies the queue's title formatter.
func (s *Service) DisplayName(path string) string {
	return TitleFromPath(path)
}

// Songs returns all indexed song paths.
func (s *Service) Songs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, len(s.songs))
	for i, song := range s.songs {
		paths[i] = song.Path
	}
	return paths
}

// All returns a copy of the indexed songs.
func (s *Service) All() []Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Song(nil), s.songs...)
}

// Search returns songs whose title contains query, case-insensitive.
// An empty query returns everything.
func (s *Service) Search(query string) []Song {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.All()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []Song
	for _, song := range s.songs {
		if strings.Contains(strings.ToLower(song.Title), query) {
			matches = append(matches, song)
		}
	}
	return matches
}

// Len returns the number of indexed songs.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.songs)
}
