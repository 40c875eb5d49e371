/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback orchestrates the life of a song: popping the queue,
// resolving media, driving the stream manager, and reacting to client
// signals until the song ends.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/events"
	"github.com/friendsincode/skald_karaoke/internal/media"
	"github.com/friendsincode/skald_karaoke/internal/songqueue"
	"github.com/friendsincode/skald_karaoke/internal/stream"
	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// End reasons. Complete and skipped are normal; everything else is
// surfaced to the room as a warning.
const (
	ReasonComplete       = "complete"
	ReasonSkipped        = "skipped"
	ReasonTransposed     = "transposed"
	ReasonError          = "error"
	ReasonConnectTimeout = "client_connect_timeout"
	ReasonShutdown       = "shutdown"
)

// encoderReleaseDelay gives a killed encoder time to drop its open
// file handles before the scratch directory is removed.
const encoderReleaseDelay = 300 * time.Millisecond

// MediaResolver resolves song paths into playable media.
type MediaResolver interface {
	Resolve(ctx context.Context, path string, format media.StreamingFormat) (*media.ResolvedMedia, error)
	Cleanup(resolved *media.ResolvedMedia)
}

// Streamer prepares resolved media for playback and owns the encoder.
type Streamer interface {
	PlayFile(ctx context.Context, resolved *media.ResolvedMedia, semitones int) (*stream.Result, error)
	KillEncoder()
}

// Queue is the slice of the song queue the controller consumes.
type Queue interface {
	Pop() (songqueue.Item, bool)
	Len() int
}

// State is a snapshot of the current playback position.
type State struct {
	User        string     `json:"user"`
	File        string     `json:"file"`
	Title       string     `json:"title"`
	Semitones   int        `json:"semitones"`
	StreamURL   string     `json:"stream_url"`
	SubtitleURL string     `json:"subtitle_url,omitempty"`
	Duration    *int       `json:"duration,omitempty"`
	NowPlaying  bool       `json:"now_playing"`
	Paused      bool       `json:"paused"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}

// Config carries the orchestration knobs.
type Config struct {
	Format              media.StreamingFormat
	ConnectPollInterval time.Duration
	ConnectPollMax      int
	TickInterval        time.Duration
}

// Controller is the playback orchestrator. All mutation of the current
// state goes through its mutex; HTTP handlers and the run loop call in
// concurrently.
type Controller struct {
	cfg      Config
	queue    Queue
	resolver MediaResolver
	streams  Streamer
	bus      *events.Bus
	logger   zerolog.Logger

	mu        sync.Mutex
	state     State
	resolved  *media.ResolvedMedia
	busy      int           // in-flight play attempts; the run loop stays idle while nonzero
	gen       uint64        // attempt generation; stale waits check it before tearing down
	buffering bool          // an encoder is running but playback has not started
	connectCh chan struct{} // non-nil while waiting for the display client
}

// NewController wires the orchestrator.
func NewController(cfg Config, queue Queue, resolver MediaResolver, streams Streamer, bus *events.Bus, logger zerolog.Logger) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Controller{
		cfg:      cfg,
		queue:    queue,
		resolver: resolver,
		streams:  streams,
		bus:      bus,
		logger:   logger.With().Str("component", "playback").Logger(),
	}
}

// Run drives the queue until ctx is cancelled: whenever nothing is
// playing and songs are waiting, the next one starts.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.EndSong(ReasonShutdown)
			return
		case <-ticker.C:
			if !c.idle() || c.queue.Len() == 0 {
				continue
			}
			item, ok := c.queue.Pop()
			if !ok {
				continue
			}
			if err := c.PlayFile(ctx, item.File, item.User, item.Title, item.Semitones); err != nil {
				c.logger.Error().Err(err).Str("file", item.File).Msg("playback attempt failed")
			}
		}
	}
}

// PlayFile resolves and starts one song, then waits for the display
// client to pick the stream up. Errors before playback starts notify
// the room and leave the controller idle.
func (c *Controller) PlayFile(ctx context.Context, file, user, title string, semitones int) error {
	ctx, span := telemetry.StartSpan(ctx, "playback", "play_file")
	defer span.End()

	c.mu.Lock()
	c.busy++
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy--
		c.mu.Unlock()
	}()

	resolved, err := c.resolver.Resolve(ctx, file, c.cfg.Format)
	if err != nil {
		c.notify(events.SeverityDanger, fmt.Sprintf("Error playing %s: %v", title, err))
		return fmt.Errorf("resolve %s: %w", file, err)
	}

	c.mu.Lock()
	c.buffering = true
	c.mu.Unlock()

	result, err := c.streams.PlayFile(ctx, resolved, semitones)

	c.mu.Lock()
	c.buffering = false
	c.mu.Unlock()

	if err != nil {
		c.resolver.Cleanup(resolved)
		c.notify(events.SeverityDanger, fmt.Sprintf("Error playing %s: %v", title, err))
		return fmt.Errorf("stream %s: %w", file, err)
	}

	now := time.Now()
	connectCh := make(chan struct{}, 1)

	c.mu.Lock()
	c.resolved = resolved
	c.connectCh = connectCh
	c.state = State{
		User:        user,
		File:        file,
		Title:       title,
		Semitones:   semitones,
		StreamURL:   result.StreamURL,
		SubtitleURL: result.SubtitleURL,
		Duration:    result.Duration,
		NowPlaying:  true,
		StartedAt:   &now,
	}
	c.mu.Unlock()

	c.logger.Info().Str("user", user).Str("title", title).Str("stream", result.StreamURL).Msg("song started")
	c.bus.Emit(events.EventPlaybackStarted, c.nowPlayingPayload())
	c.bus.Emit(events.EventNowPlayingUpdate, c.nowPlayingPayload())

	return c.awaitClient(ctx, connectCh, title, gen)
}

// awaitClient waits for the display client's connect signal, bounded
// by the configured poll ceiling. A timeout ends the song, but only if
// this attempt is still the current one: a transpose may have replaced
// it while the wait loop slept.
func (c *Controller) awaitClient(ctx context.Context, connectCh chan struct{}, title string, gen uint64) error {
	for i := 0; i < c.cfg.ConnectPollMax; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-connectCh:
			c.logger.Debug().Str("title", title).Msg("display client connected")
			return nil
		case <-time.After(c.cfg.ConnectPollInterval):
			if !c.owns(gen) {
				return nil
			}
		}
	}

	if !c.owns(gen) {
		return nil
	}
	c.logger.Warn().Str("title", title).Msg("display client never connected")
	c.endSong(ReasonConnectTimeout, gen)
	return fmt.Errorf("no client connected for %s", title)
}

// idle reports that nothing is playing and no play attempt is in
// flight. The run loop must not pop while an external attempt (a
// transpose, say) is still resolving or buffering.
func (c *Controller) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.state.NowPlaying && c.busy == 0
}

// owns reports whether gen is still the current play attempt.
func (c *Controller) owns(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// ClientConnected signals that the display client has started pulling
// the stream. Safe to call at any time; duplicates are ignored.
func (c *Controller) ClientConnected() {
	c.mu.Lock()
	ch := c.connectCh
	c.connectCh = nil
	c.mu.Unlock()

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// EndSong tears the current song down. Abnormal reasons raise a room
// notification; calling with nothing playing is a no-op.
func (c *Controller) EndSong(reason string) {
	c.endSong(reason, 0)
}

// endSong is EndSong with an ownership check: gen 0 ends whatever is
// playing, any other gen only ends the song it started.
func (c *Controller) endSong(reason string, gen uint64) {
	c.mu.Lock()
	if !c.state.NowPlaying || (gen != 0 && gen != c.gen) {
		c.mu.Unlock()
		return
	}
	ended := c.state
	resolved := c.resolved
	c.state = State{}
	c.resolved = nil
	c.connectCh = nil
	c.mu.Unlock()

	c.logger.Info().Str("title", ended.Title).Str("reason", reason).Msg("song ended")
	telemetry.SongsPlayed.WithLabelValues(reason).Inc()

	switch reason {
	case ReasonComplete, ReasonSkipped, ReasonTransposed, ReasonShutdown:
	default:
		c.notify(events.SeverityWarning, fmt.Sprintf("Playback of %s stopped: %s", ended.Title, reason))
	}

	c.streams.KillEncoder()
	time.Sleep(encoderReleaseDelay)
	if resolved != nil {
		c.resolver.Cleanup(resolved)
	}

	c.bus.Emit(events.EventSongEnded, events.Payload{
		"user":      ended.User,
		"file":      ended.File,
		"title":     ended.Title,
		"semitones": ended.Semitones,
		"duration":  ended.Duration,
		"reason":    reason,
	})
	c.bus.Emit(events.EventNowPlayingUpdate, c.nowPlayingPayload())
}

// Skip ends the current song on a singer's or host's request. Returns
// false when nothing is playing.
func (c *Controller) Skip() bool {
	c.mu.Lock()
	playing := c.state.NowPlaying
	title := c.state.Title
	buffering := c.buffering
	c.mu.Unlock()
	if !playing {
		// A skip during buffering kills the encoder; the in-flight
		// wait loop observes the exit and aborts the attempt.
		if buffering {
			c.bus.Emit(events.EventSkipRequested, events.Payload{"title": title})
			c.streams.KillEncoder()
			return true
		}
		return false
	}
	c.bus.Emit(events.EventSkipRequested, events.Payload{"title": title})
	c.EndSong(ReasonSkipped)
	return true
}

// Pause toggles the paused flag. The display client observes it via
// the now-playing feed; the encoder keeps running.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	if !c.state.NowPlaying {
		c.mu.Unlock()
		return false
	}
	c.state.Paused = !c.state.Paused
	paused := c.state.Paused
	c.mu.Unlock()

	c.bus.Emit(events.EventNowPlayingUpdate, c.nowPlayingPayload())
	return paused
}

// Transpose restarts the current song at a new pitch.
func (c *Controller) Transpose(ctx context.Context, semitones int) error {
	c.mu.Lock()
	if !c.state.NowPlaying {
		c.mu.Unlock()
		return fmt.Errorf("nothing playing")
	}
	file := c.state.File
	user := c.state.User
	title := c.state.Title
	// Stay busy across the end/replay gap so the run loop cannot pop
	// the next queued song in between.
	c.busy++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy--
		c.mu.Unlock()
	}()

	c.EndSong(ReasonTransposed)
	return c.PlayFile(ctx, file, user, title, semitones)
}

// NowPlaying reports whether a song is active.
func (c *Controller) NowPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.NowPlaying
}

// NowPlayingUser returns the active singer, if any.
func (c *Controller) NowPlayingUser() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.NowPlaying {
		return "", false
	}
	return c.state.User, true
}

// SubtitlePath returns the subtitle file for the given stream uid, if
// it belongs to the current song.
func (c *Controller) SubtitlePath(uid string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved == nil || c.resolved.UID() != uid || c.resolved.SubtitleFile == "" {
		return "", false
	}
	return c.resolved.SubtitleFile, true
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) nowPlayingPayload() events.Payload {
	state := c.Snapshot()
	return events.Payload{
		"now_playing": state.NowPlaying,
		"user":        state.User,
		"title":       state.Title,
		"semitones":   state.Semitones,
		"stream_url":  state.StreamURL,
		"subtitle":    state.SubtitleURL,
		"duration":    state.Duration,
		"paused":      state.Paused,
	}
}

func (c *Controller) notify(severity, message string) {
	c.bus.Emit(events.EventNotification, events.Payload{
		"severity": severity,
		"message":  message,
	})
}
