/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package songqueue

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/events"
)

type fakeSettings struct {
	fair  bool
	limit int
}

func (f *fakeSettings) FairQueueEnabled() bool { return f.fair }
func (f *fakeSettings) UserSongLimit() int     { return f.limit }

type fakeNowPlaying struct {
	user string
}

func (f *fakeNowPlaying) NowPlayingUser() (string, bool) {
	return f.user, f.user != ""
}

type baseNameTitles struct{}

func (baseNameTitles) DisplayName(file string) string {
	name := filepath.Base(file)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

type fakeLibrary struct {
	songs []string
}

func (f *fakeLibrary) Songs() []string { return append([]string(nil), f.songs...) }

func newTestManager(settings *fakeSettings, playing *fakeNowPlaying) *Manager {
	if settings == nil {
		settings = &fakeSettings{}
	}
	if playing == nil {
		playing = &fakeNowPlaying{}
	}
	return NewManager(events.NewBus(), settings, playing, baseNameTitles{}, zerolog.Nop())
}

func users(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.User
	}
	return out
}

func TestEnqueueRejectsDuplicateFile(t *testing.T) {
	m := newTestManager(nil, nil)

	if ok, _ := m.Enqueue("/songs/a.mp4", "Alice", 0, false); !ok {
		t.Fatal("first enqueue should succeed")
	}
	if ok, _ := m.Enqueue("/songs/b.mp4", "Bob", 0, false); !ok {
		t.Fatal("second enqueue should succeed")
	}
	ok, msg := m.Enqueue("/songs/a.mp4", "Alice", 0, false)
	if ok {
		t.Fatal("duplicate enqueue must be rejected")
	}
	if msg != MsgAlreadyQueued {
		t.Errorf("message: got %q, want %q", msg, MsgAlreadyQueued)
	}
	if m.Len() != 2 {
		t.Errorf("queue length: got %d, want 2", m.Len())
	}
}

func TestFairQueueInterleavesUsers(t *testing.T) {
	m := newTestManager(&fakeSettings{fair: true}, nil)

	m.Enqueue("/songs/a1.mp4", "Alice", 0, false)
	m.Enqueue("/songs/a2.mp4", "Alice", 0, false)
	m.Enqueue("/songs/b1.mp4", "Bob", 0, false)

	got := users(m.Snapshot())
	want := []string{"Alice", "Bob", "Alice"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
}

func TestFairQueueRoundRobinRounds(t *testing.T) {
	m := newTestManager(&fakeSettings{fair: true}, nil)

	// Three users each submit three songs back to back.
	names := []string{"Alice", "Bob", "Carol"}
	for _, user := range names {
		for i := 0; i < 3; i++ {
			m.Enqueue(fmt.Sprintf("/songs/%s_%d.mp4", user, i), user, 0, false)
		}
	}

	got := users(m.Snapshot())
	// Each round of three must contain every user exactly once, in
	// first-submission order.
	for round := 0; round < 3; round++ {
		for i, user := range names {
			if got[round*3+i] != user {
				t.Fatalf("round %d: got %v", round, got)
			}
		}
	}
}

func TestFairQueueDisabledAppends(t *testing.T) {
	m := newTestManager(&fakeSettings{fair: false}, nil)

	m.Enqueue("/songs/a1.mp4", "Alice", 0, false)
	m.Enqueue("/songs/a2.mp4", "Alice", 0, false)
	m.Enqueue("/songs/b1.mp4", "Bob", 0, false)

	got := users(m.Snapshot())
	want := []string{"Alice", "Alice", "Bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
}

func TestAddToFrontBypassesFairness(t *testing.T) {
	m := newTestManager(&fakeSettings{fair: true}, nil)

	m.Enqueue("/songs/a1.mp4", "Alice", 0, false)
	m.Enqueue("/songs/b1.mp4", "Bob", 0, false)
	m.Enqueue("/songs/again.mp4", "Alice", 2, true)

	snapshot := m.Snapshot()
	if snapshot[0].File != "/songs/again.mp4" || snapshot[0].Semitones != 2 {
		t.Errorf("expected front insert with transpose, got %+v", snapshot[0])
	}
}

func TestUserLimit(t *testing.T) {
	m := newTestManager(&fakeSettings{limit: 2}, nil)

	if ok, _ := m.Enqueue("/songs/1.mp4", "Alice", 0, false); !ok {
		t.Fatal("first song should be accepted")
	}
	if ok, _ := m.Enqueue("/songs/2.mp4", "Alice", 0, false); !ok {
		t.Fatal("second song should be accepted")
	}
	ok, msg := m.Enqueue("/songs/3.mp4", "Alice", 0, false)
	if ok {
		t.Fatal("third song must hit the cap")
	}
	if msg != MsgLimitReached {
		t.Errorf("message: got %q, want %q", msg, MsgLimitReached)
	}

	// System and randomizer bypass the cap entirely.
	for i := 0; i < 5; i++ {
		if ok, _ := m.Enqueue(fmt.Sprintf("/sys/%d.mp4", i), UserSystem, 0, false); !ok {
			t.Fatalf("system enqueue %d rejected", i)
		}
	}
}

func TestUserLimitCountsNowPlaying(t *testing.T) {
	playing := &fakeNowPlaying{user: "Alice"}
	m := newTestManager(&fakeSettings{limit: 2}, playing)

	if ok, _ := m.Enqueue("/songs/1.mp4", "Alice", 0, false); !ok {
		t.Fatal("first queued song should be accepted")
	}
	if ok, _ := m.Enqueue("/songs/2.mp4", "Alice", 0, false); ok {
		t.Fatal("queued song plus now playing should hit the cap")
	}
	if !m.IsUserLimited("Alice") {
		t.Error("IsUserLimited should report true")
	}
}

func TestZeroLimitIsUnlimited(t *testing.T) {
	m := newTestManager(&fakeSettings{limit: 0}, nil)
	for i := 0; i < 20; i++ {
		if ok, _ := m.Enqueue(fmt.Sprintf("/songs/%d.mp4", i), "Alice", 0, false); !ok {
			t.Fatalf("enqueue %d rejected with unlimited cap", i)
		}
	}
}

func TestEditBoundaries(t *testing.T) {
	m := newTestManager(nil, nil)
	m.Enqueue("/songs/1.mp4", "Alice", 0, false)
	m.Enqueue("/songs/2.mp4", "Bob", 0, false)
	m.Enqueue("/songs/3.mp4", "Carol", 0, false)

	if m.Edit("/songs/1.mp4", EditUp) {
		t.Error("top item must not move up")
	}
	if m.Edit("/songs/3.mp4", EditDown) {
		t.Error("bottom item must not move down")
	}
	if m.Edit("/songs/missing.mp4", EditDelete) {
		t.Error("missing item edit must fail")
	}

	if !m.Edit("/songs/2.mp4", EditUp) {
		t.Fatal("middle item should move up")
	}
	if got := m.Snapshot()[0].File; got != "/songs/2.mp4" {
		t.Errorf("expected swapped head, got %s", got)
	}

	if !m.Edit("/songs/1.mp4", EditDelete) {
		t.Fatal("delete should succeed")
	}
	if m.Len() != 2 {
		t.Errorf("length after delete: got %d, want 2", m.Len())
	}
}

func TestReorder(t *testing.T) {
	m := newTestManager(nil, nil)
	for i := 0; i < 4; i++ {
		m.Enqueue(fmt.Sprintf("/songs/%d.mp4", i), "Alice", 0, false)
	}

	before := m.Snapshot()
	if m.Reorder(-1, 2) || m.Reorder(0, 4) || m.Reorder(7, 0) {
		t.Error("out-of-range reorder must fail")
	}
	after := m.Snapshot()
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("failed reorder must not mutate the queue")
		}
	}

	if !m.Reorder(2, 2) {
		t.Error("same-index reorder should succeed")
	}
	for i, item := range m.Snapshot() {
		if item != before[i] {
			t.Fatal("same-index reorder must leave the queue unchanged")
		}
	}

	if !m.Reorder(3, 0) {
		t.Fatal("reorder to front should succeed")
	}
	if got := m.Snapshot()[0].File; got != "/songs/3.mp4" {
		t.Errorf("head after reorder: got %s", got)
	}
}

func TestMoveToTopAndBottom(t *testing.T) {
	m := newTestManager(nil, nil)
	for i := 0; i < 3; i++ {
		m.Enqueue(fmt.Sprintf("/songs/%d.mp4", i), "Alice", 0, false)
	}

	if m.MoveToTop("/songs/0.mp4") {
		t.Error("item already at top must fail")
	}
	if m.MoveToBottom("/songs/2.mp4") {
		t.Error("item already at bottom must fail")
	}
	if m.MoveToTop("/songs/missing.mp4") {
		t.Error("missing item must fail")
	}

	if !m.MoveToTop("/songs/2.mp4") {
		t.Fatal("move to top should succeed")
	}
	if got := m.Snapshot()[0].File; got != "/songs/2.mp4" {
		t.Errorf("head: got %s", got)
	}
	if !m.MoveToBottom("/songs/2.mp4") {
		t.Fatal("move to bottom should succeed")
	}
	snapshot := m.Snapshot()
	if got := snapshot[len(snapshot)-1].File; got != "/songs/2.mp4" {
		t.Errorf("tail: got %s", got)
	}
}

func TestAddRandom(t *testing.T) {
	m := newTestManager(nil, nil)
	library := &fakeLibrary{songs: []string{"/songs/a.mp4", "/songs/b.mp4", "/songs/c.mp4"}}

	if !m.AddRandom(2, library) {
		t.Fatal("expected 2 random adds to succeed")
	}
	if m.Len() != 2 {
		t.Errorf("length: got %d, want 2", m.Len())
	}
	for _, item := range m.Snapshot() {
		if item.User != UserRandomizer {
			t.Errorf("random add user: got %s", item.User)
		}
	}

	// Asking for more than remains reports partial success.
	if m.AddRandom(5, library) {
		t.Error("expected partial success when library is exhausted")
	}
	if m.Len() != 3 {
		t.Errorf("length after exhaustion: got %d, want 3", m.Len())
	}
}

func TestPopAndClear(t *testing.T) {
	m := newTestManager(nil, nil)
	if _, ok := m.Pop(); ok {
		t.Error("pop on empty queue must fail")
	}

	m.Enqueue("/songs/a.mp4", "Alice", 0, false)
	m.Enqueue("/songs/b.mp4", "Bob", 0, false)

	item, ok := m.Pop()
	if !ok || item.File != "/songs/a.mp4" {
		t.Fatalf("pop: got %+v, ok=%v", item, ok)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Errorf("length after clear: got %d", m.Len())
	}
}

func TestUniquenessInvariant(t *testing.T) {
	m := newTestManager(&fakeSettings{fair: true}, nil)

	files := []string{"/s/1.mp4", "/s/2.mp4", "/s/1.mp4", "/s/3.mp4", "/s/2.mp4"}
	for i, file := range files {
		m.Enqueue(file, fmt.Sprintf("user%d", i%2), 0, false)
	}

	seen := map[string]bool{}
	for _, item := range m.Snapshot() {
		if seen[item.File] {
			t.Fatalf("duplicate file %s in queue", item.File)
		}
		seen[item.File] = true
	}
}
