/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stream decides whether a resolved song needs transcoding,
// supervises the external encoder process, and detects when enough
// output exists to start playback.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/media"
	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// ErrEncoder marks a non-zero encoder exit; fatal to the attempt.
var ErrEncoder = errors.New("encoder failed")

// ErrBufferTimeout marks a readiness poll that hit its ceiling.
var ErrBufferTimeout = errors.New("buffering timed out")

// minSegments is how many HLS segments must exist before the byte
// threshold even gets consulted.
const minSegments = 3

// copyExistRetries bounds the verbatim-copy existence poll.
const (
	copyExistRetries = 5
	copyExistBackoff = time.Second
)

// Settings exposes the stream-relevant party preferences.
type Settings interface {
	NormalizeAudio() bool
	AVSyncSeconds() float64
	CompleteTranscodeBeforePlay() bool
	BufferSizeBytes() int64
	CDGPixelScaling() bool
}

// Result describes a successful play_file: where the client should
// stream from and what it should show.
type Result struct {
	StreamURL   string
	SubtitleURL string
	Duration    *int
}

// Config carries the process-level encoder configuration.
type Config struct {
	FFmpegBin       string
	HardwareEncoder string
	PollInterval    time.Duration
	PollMax         int
}

// Manager launches and supervises the external encoder. At most one
// encoder process is alive at a time.
type Manager struct {
	cfg      Config
	settings Settings
	logger   zerolog.Logger

	mu      sync.Mutex
	current *EncoderProcess
}

// NewManager creates a stream manager.
func NewManager(cfg Config, settings Settings, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		settings: settings,
		logger:   logger.With().Str("component", "stream").Logger(),
	}
}

// TranscodeRequired reports whether the resolved song can be copied
// verbatim or needs the encoder.
func (m *Manager) TranscodeRequired(resolved *media.ResolvedMedia, semitones int) bool {
	if semitones != 0 {
		return true
	}
	if m.settings.NormalizeAudio() {
		return true
	}
	if m.settings.AVSyncSeconds() != 0 {
		return true
	}
	if resolved.Format == media.FormatHLS {
		return true
	}
	return !resolved.WebNative()
}

// PlayFile prepares the resolved song for streaming: verbatim copy when
// no transcode is needed, otherwise encoder launch plus readiness wait.
// Any running encoder from a previous song is killed first.
func (m *Manager) PlayFile(ctx context.Context, resolved *media.ResolvedMedia, semitones int) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "stream", "play_file")
	defer span.End()

	result := &Result{Duration: resolved.Duration}
	if resolved.SubtitleFile != "" {
		result.SubtitleURL = "/subtitle/" + resolved.UID()
	}

	if !m.TranscodeRequired(resolved, semitones) {
		if err := m.copyVerbatim(resolved); err != nil {
			return nil, err
		}
		result.StreamURL = "/stream/full/" + resolved.UID()
		return result, nil
	}

	m.KillEncoder()

	job := &EncodeJob{
		Input:           resolved.PrimaryFile,
		CDGInput:        resolved.CDGFile,
		Output:          resolved.OutputFile,
		TmpDir:          resolved.TmpDir,
		UID:             resolved.UID(),
		Format:          resolved.Format,
		Semitones:       semitones,
		Normalize:       m.settings.NormalizeAudio(),
		AVSyncSeconds:   m.settings.AVSyncSeconds(),
		CDGPixelScaling: m.settings.CDGPixelScaling(),
		HardwareEncoder: m.cfg.HardwareEncoder,
	}

	proc, err := startEncoder(m.cfg.FFmpegBin, job.Args(), m.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrEncoder, err)
	}
	telemetry.EncoderStarts.Inc()

	m.mu.Lock()
	m.current = proc
	m.mu.Unlock()

	m.logger.Info().
		Str("uid", resolved.UID()).
		Str("format", string(resolved.Format)).
		Int("semitones", semitones).
		Msg("encoder started")

	complete, err := m.waitForBuffer(ctx, proc, resolved)
	if err != nil {
		telemetry.EncoderFailures.Inc()
		return nil, err
	}

	switch {
	case resolved.Format == media.FormatHLS:
		result.StreamURL = "/stream/" + resolved.UID() + ".m3u8"
	case complete:
		result.StreamURL = "/stream/full/" + resolved.UID()
	default:
		result.StreamURL = "/stream/" + resolved.UID() + ".mp4"
	}
	return result, nil
}

// copyVerbatim copies the source into the scratch output location and
// polls for its existence before declaring success.
func (m *Manager) copyVerbatim(resolved *media.ResolvedMedia) error {
	src, err := os.Open(resolved.PrimaryFile)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(resolved.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy source: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	for attempt := 0; attempt < copyExistRetries; attempt++ {
		if _, err := os.Stat(resolved.OutputFile); err == nil {
			return nil
		}
		time.Sleep(copyExistBackoff)
	}
	return fmt.Errorf("output file never appeared: %s", resolved.OutputFile)
}

// waitForBuffer polls until enough transcoded output exists, the
// encoder finishes, or the retry ceiling is hit. Returns whether the
// transcode ran to completion.
func (m *Manager) waitForBuffer(ctx context.Context, proc *EncoderProcess, resolved *media.ResolvedMedia) (bool, error) {
	start := time.Now()
	threshold := m.settings.BufferSizeBytes()
	waitFull := m.settings.CompleteTranscodeBeforePlay()

	for i := 0; i < m.cfg.PollMax; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		for _, line := range proc.Diagnostics() {
			m.logger.Debug().Str("ffmpeg", line).Msg("encoder output")
		}

		if proc.Exited() {
			if exitErr := proc.ExitErr(); exitErr != nil {
				m.logger.Error().Err(exitErr).Strs("tail", proc.Diagnostics()).Msg("encoder exited abnormally")
				return false, fmt.Errorf("%w: %v", ErrEncoder, exitErr)
			}
			telemetry.BufferWaitSeconds.Observe(time.Since(start).Seconds())
			return true, nil
		}

		if !waitFull && m.bufferReady(resolved, threshold) {
			telemetry.BufferWaitSeconds.Observe(time.Since(start).Seconds())
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}

	return false, fmt.Errorf("%w after %d polls", ErrBufferTimeout, m.cfg.PollMax)
}

// bufferReady dispatches on the streaming format.
func (m *Manager) bufferReady(resolved *media.ResolvedMedia, threshold int64) bool {
	if resolved.Format == media.FormatHLS {
		return hlsReady(resolved.TmpDir, resolved.UID(), threshold)
	}
	return progressiveReady(resolved.OutputFile, threshold)
}

// hlsReady requires at least minSegments segment files for the stream
// and their cumulative size to exceed the threshold.
func hlsReady(dir, uid string, threshold int64) bool {
	matches, err := filepath.Glob(filepath.Join(dir, uid+"_segment_*"))
	if err != nil || len(matches) < minSegments {
		return false
	}
	var total int64
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil {
			total += info.Size()
		}
	}
	return total > threshold
}

// progressiveReady checks the single growing output file's size. A
// missing file is simply not ready.
func progressiveReady(path string, threshold int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > threshold
}

// KillEncoder terminates any running encoder. Termination never
// raises; the stored handle is always cleared.
func (m *Manager) KillEncoder() {
	m.mu.Lock()
	proc := m.current
	m.current = nil
	m.mu.Unlock()

	if proc == nil {
		return
	}
	m.logger.Info().Msg("stopping encoder")
	proc.Stop()
}

// EncoderRunning reports whether an encoder process is alive.
func (m *Manager) EncoderRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.Exited()
}
