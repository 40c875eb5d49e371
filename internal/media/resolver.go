/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media resolves raw song paths into playable streams. A song may
// be a plain video container, a split audio+CDG graphics pair, or a zip
// packaging such a pair; resolution normalizes all three into a
// ResolvedMedia the stream manager can act on.
package media

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrResolution marks fatal resolution failures (malformed package,
// missing companion graphics). The playback attempt is dropped, never
// retried.
var ErrResolution = errors.New("resolution failed")

// StreamingFormat selects how transcoded output is delivered.
type StreamingFormat string

const (
	FormatProgressive StreamingFormat = "progressive" // one growing file, byte-range reads
	FormatHLS         StreamingFormat = "hls"         // playlist + segment files
)

// Audio extensions that follow the split audio+graphics convention and
// therefore require a companion .cdg file.
var splitAudioExts = map[string]bool{
	".mp3":  true,
	".ogg":  true,
	".flac": true,
	".wav":  true,
}

// Containers browsers play natively without re-encoding.
var webNativeExts = map[string]bool{
	".mp4":  true,
	".webm": true,
}

var subtitleExts = []string{".srt", ".ass", ".vtt"}

// ResolvedMedia is the output of a single resolution attempt. Its TmpDir
// is exclusively owned by the playback attempt and removed when the song
// ends.
type ResolvedMedia struct {
	PrimaryFile  string
	CDGFile      string // empty when the source is a plain container
	SubtitleFile string // empty when no same-named subtitle exists
	Duration     *int   // seconds, nil when probing failed
	StreamUID    uint64
	OutputFile   string
	TmpDir       string
	Format       StreamingFormat
}

// UID returns the stream identifier in the form used in URLs and segment
// file names.
func (r *ResolvedMedia) UID() string {
	return strconv.FormatUint(r.StreamUID, 10)
}

// WebNative reports whether the primary file can be served without
// re-encoding. Split audio+graphics sources always need compositing.
func (r *ResolvedMedia) WebNative() bool {
	if r.CDGFile != "" {
		return false
	}
	return webNativeExts[strings.ToLower(filepath.Ext(r.PrimaryFile))]
}

// OutputExt returns the container extension of the transcode output.
func (r *ResolvedMedia) OutputExt() string {
	if r.Format == FormatHLS {
		return ".m3u8"
	}
	return ".mp4"
}

// Resolver turns raw song paths into ResolvedMedia.
type Resolver struct {
	scratchRoot string
	prober      DurationProber
	logger      zerolog.Logger
}

// DurationProber reports a media file's duration in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (int, error)
}

// NewResolver creates a resolver. The scratch root holds one directory
// per server process so concurrent instances never collide.
func NewResolver(scratchRoot string, prober DurationProber, logger zerolog.Logger) *Resolver {
	return &Resolver{
		scratchRoot: scratchRoot,
		prober:      prober,
		logger:      logger.With().Str("component", "resolver").Logger(),
	}
}

// ScratchBase returns the per-process scratch directory.
func (rs *Resolver) ScratchBase() string {
	return filepath.Join(rs.scratchRoot, "skald_karaoke", strconv.Itoa(os.Getpid()))
}

// StreamUID computes the stable identifier for a song path. The same
// path always maps to the same uid across calls and restarts.
func StreamUID(path string) uint64 {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	return h.Sum64()
}

// Resolve dispatches on the song's extension and produces the playable
// file set plus a scratch directory for the attempt.
func (rs *Resolver) Resolve(ctx context.Context, path string, format StreamingFormat) (*ResolvedMedia, error) {
	uid := StreamUID(path)
	tmpDir := filepath.Join(rs.ScratchBase(), strconv.FormatUint(uid, 10))
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	resolved := &ResolvedMedia{
		StreamUID: uid,
		TmpDir:    tmpDir,
		Format:    format,
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".zip":
		audio, cdg, err := extractSongPackage(path, filepath.Join(tmpDir, "extracted"))
		if err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, err
		}
		resolved.PrimaryFile = audio
		resolved.CDGFile = cdg

	case splitAudioExts[ext]:
		cdg, err := findCompanionCDG(path)
		if err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, err
		}
		resolved.PrimaryFile = path
		resolved.CDGFile = cdg

	default:
		if _, err := os.Stat(path); err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, fmt.Errorf("%w: %v", ErrResolution, err)
		}
		resolved.PrimaryFile = path
	}

	resolved.SubtitleFile = findSubtitle(resolved.PrimaryFile)
	resolved.OutputFile = filepath.Join(tmpDir, resolved.UID()+resolved.OutputExt())

	if duration, err := rs.prober.Duration(ctx, resolved.PrimaryFile); err != nil {
		// Duration is advisory only.
		rs.logger.Warn().Err(err).Str("file", resolved.PrimaryFile).Msg("duration probe failed")
	} else {
		resolved.Duration = &duration
	}

	rs.logger.Debug().
		Str("primary", resolved.PrimaryFile).
		Str("cdg", resolved.CDGFile).
		Str("uid", resolved.UID()).
		Msg("resolved media")

	return resolved, nil
}

// Cleanup removes the scratch directory of a resolved item.
func (rs *Resolver) Cleanup(resolved *ResolvedMedia) {
	if resolved == nil || resolved.TmpDir == "" {
		return
	}
	if err := os.RemoveAll(resolved.TmpDir); err != nil {
		rs.logger.Warn().Err(err).Str("dir", resolved.TmpDir).Msg("scratch cleanup failed")
	}
}

// findCompanionCDG locates the graphics file that must sit alongside a
// split-format audio file. The extension match is case-insensitive.
func findCompanionCDG(audioPath string) (string, error) {
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	for _, candidate := range []string{base + ".cdg", base + ".CDG"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no companion .cdg for %s", ErrResolution, filepath.Base(audioPath))
}

// findSubtitle returns a same-named subtitle file next to the primary
// file, or empty. Absence is not an error.
func findSubtitle(primary string) string {
	base := strings.TrimSuffix(primary, filepath.Ext(primary))
	for _, ext := range subtitleExts {
		for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
