/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package songqueue owns the ordered list of pending song requests and
// the round-robin fairness algorithm that keeps any one singer from
// dominating consecutive slots.
package songqueue

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/events"
	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// Special users exempt from the per-user cap.
const (
	UserSystem     = "system"
	UserRandomizer = "randomizer"
)

// Enqueue rejection messages surfaced to the web layer.
const (
	MsgAlreadyQueued = "already queued"
	MsgLimitReached  = "limit reached"
	MsgAdded         = "added to queue"
)

// Item is a single pending request. File is unique across the queue.
type Item struct {
	User      string `json:"user"`
	File      string `json:"file"`
	Title     string `json:"title"`
	Semitones int    `json:"semitones"`
}

// Settings exposes the queue-relevant party preferences.
type Settings interface {
	FairQueueEnabled() bool
	UserSongLimit() int
}

// NowPlayingSource reports who is currently singing, so the cap counts
// the in-flight song too.
type NowPlayingSource interface {
	NowPlayingUser() (string, bool)
}

// TitleFormatter turns a file path into a display title.
type TitleFormatter interface {
	DisplayName(file string) string
}

// SongSource supplies the available-songs collection for random adds.
type SongSource interface {
	Songs() []string
}

// EditAction selects what a queue edit does.
type EditAction string

const (
	EditUp     EditAction = "up"
	EditDown   EditAction = "down"
	EditDelete EditAction = "delete"
)

// Manager owns the queue. All mutation goes through its mutex; callers
// receive copies, never the backing slice.
type Manager struct {
	mu    sync.Mutex
	items []Item

	bus        *events.Bus
	settings   Settings
	nowPlaying NowPlayingSource
	titles     TitleFormatter
	logger     zerolog.Logger
}

// NewManager creates a queue manager.
func NewManager(bus *events.Bus, settings Settings, nowPlaying NowPlayingSource, titles TitleFormatter, logger zerolog.Logger) *Manager {
	return &Manager{
		bus:        bus,
		settings:   settings,
		nowPlaying: nowPlaying,
		titles:     titles,
		logger:     logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue adds a song request. Duplicates and capped users are rejected
// with a human-readable message; rejections are routine, not errors.
func (m *Manager) Enqueue(file, user string, semitones int, addToFront bool) (bool, string) {
	m.mu.Lock()

	for _, item := range m.items {
		if item.File == file {
			m.mu.Unlock()
			telemetry.EnqueueRejections.WithLabelValues("duplicate").Inc()
			return false, MsgAlreadyQueued
		}
	}

	if m.isUserLimitedLocked(user) {
		m.mu.Unlock()
		telemetry.EnqueueRejections.WithLabelValues("user_limit").Inc()
		return false, MsgLimitReached
	}

	item := Item{
		User:      user,
		File:      file,
		Title:     m.titles.DisplayName(file),
		Semitones: semitones,
	}

	switch {
	case addToFront:
		m.items = append([]Item{item}, m.items...)
	case m.settings.FairQueueEnabled():
		pos := fairInsertIndex(m.items, user)
		m.items = append(m.items, Item{})
		copy(m.items[pos+1:], m.items[pos:])
		m.items[pos] = item
	default:
		m.items = append(m.items, item)
	}

	length := len(m.items)
	m.mu.Unlock()

	m.logger.Info().Str("user", user).Str("file", file).Int("queue_len", length).Msg("song queued")
	m.emitUpdate()
	return true, MsgAdded
}

// fairInsertIndex computes the round-robin position for a new item.
// An item's round is the number of its owner's earlier items in the
// queue; a user's next submission lands directly after the last item
// sharing that round, or at the tail when no such item exists.
func fairInsertIndex(items []Item, user string) int {
	newRound := 0
	for _, item := range items {
		if item.User == user {
			newRound++
		}
	}

	rounds := make(map[string]int, len(items))
	pos := -1
	for i, item := range items {
		round := rounds[item.User]
		rounds[item.User]++
		if round == newRound {
			pos = i + 1
		}
	}
	if pos < 0 {
		return len(items)
	}
	return pos
}

// IsUserLimited reports whether user has hit the per-user cap, counting
// the currently playing song.
func (m *Manager) IsUserLimited(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isUserLimitedLocked(user)
}

func (m *Manager) isUserLimitedLocked(user string) bool {
	if user == UserSystem || user == UserRandomizer {
		return false
	}
	limit := m.settings.UserSongLimit()
	if limit <= 0 {
		return false
	}

	count := 0
	for _, item := range m.items {
		if item.User == user {
			count++
		}
	}
	if playing, ok := m.nowPlaying.NowPlayingUser(); ok && playing == user {
		count++
	}
	return count >= limit
}

// Edit moves or removes the first item whose file matches exactly.
// Boundary moves (top item up, bottom item down) fail without mutation.
func (m *Manager) Edit(file string, action EditAction) bool {
	m.mu.Lock()

	idx := -1
	for i, item := range m.items {
		if item.File == file {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}

	switch action {
	case EditUp:
		if idx == 0 {
			m.mu.Unlock()
			return false
		}
		m.items[idx-1], m.items[idx] = m.items[idx], m.items[idx-1]
	case EditDown:
		if idx == len(m.items)-1 {
			m.mu.Unlock()
			return false
		}
		m.items[idx], m.items[idx+1] = m.items[idx+1], m.items[idx]
	case EditDelete:
		m.items = append(m.items[:idx], m.items[idx+1:]...)
	default:
		m.mu.Unlock()
		return false
	}

	m.mu.Unlock()
	m.emitUpdate()
	return true
}

// Reorder moves the item at oldIndex to newIndex. Out-of-range indices
// fail without mutation; equal indices succeed as a no-op.
func (m *Manager) Reorder(oldIndex, newIndex int) bool {
	m.mu.Lock()

	if oldIndex < 0 || oldIndex >= len(m.items) || newIndex < 0 || newIndex >= len(m.items) {
		m.mu.Unlock()
		return false
	}
	if oldIndex == newIndex {
		m.mu.Unlock()
		return true
	}

	item := m.items[oldIndex]
	m.items = append(m.items[:oldIndex], m.items[oldIndex+1:]...)
	m.items = append(m.items, Item{})
	copy(m.items[newIndex+1:], m.items[newIndex:])
	m.items[newIndex] = item

	m.mu.Unlock()
	m.emitUpdate()
	return true
}

// MoveToTop sends a matching item to index 0; fails when the item is
// missing or already first.
func (m *Manager) MoveToTop(file string) bool {
	idx, length := m.indexOf(file)
	if idx <= 0 || length == 0 {
		return false
	}
	return m.Reorder(idx, 0)
}

// MoveToBottom sends a matching item to the tail; fails when the item
// is missing or already last.
func (m *Manager) MoveToBottom(file string) bool {
	idx, length := m.indexOf(file)
	if idx < 0 || idx == length-1 {
		return false
	}
	return m.Reorder(idx, length-1)
}

func (m *Manager) indexOf(file string) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.items {
		if item.File == file {
			return i, len(m.items)
		}
	}
	return -1, len(m.items)
}

// AddRandom enqueues up to n distinct unqueued songs from the library
// as the randomizer user. Returns false when the library ran out first.
func (m *Manager) AddRandom(n int, source SongSource) bool {
	candidates := source.Songs()
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	added := 0
	for _, file := range candidates {
		if added == n {
			break
		}
		if ok, _ := m.Enqueue(file, UserRandomizer, 0, false); ok {
			added++
		}
	}

	if added < n {
		m.logger.Warn().Int("requested", n).Int("added", added).Msg("library exhausted during random add")
		return false
	}
	return true
}

// Pop removes and returns the head of the queue.
func (m *Manager) Pop() (Item, bool) {
	m.mu.Lock()
	if len(m.items) == 0 {
		m.mu.Unlock()
		return Item{}, false
	}
	item := m.items[0]
	m.items = m.items[1:]
	m.mu.Unlock()

	m.emitUpdate()
	return item, true
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()
	m.emitUpdate()
}

// Snapshot returns a copy of the queue in order.
func (m *Manager) Snapshot() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.items...)
}

// Len returns the number of pending items.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Manager) emitUpdate() {
	telemetry.QueueLength.Set(float64(m.Len()))
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.EventQueueUpdate, events.Payload{"length": m.Len()})
	m.bus.Publish(events.EventNowPlayingUpdate, events.Payload{})
}
