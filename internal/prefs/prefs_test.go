/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package prefs

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "prefs.yaml"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestDefaults(t *testing.T) {
	store := openTestStore(t)

	if got := store.GetInt(KeyBufferSize); got != 150 {
		t.Errorf("buffer_size default: got %d, want 150", got)
	}
	if store.GetBool(KeyCompleteTranscode) {
		t.Error("complete_transcode_before_play should default to false")
	}
	if !store.GetBool(KeyFairQueue) {
		t.Error("enable_fair_queue should default to true")
	}
	if got := store.GetInt(KeyUserSongLimit); got != 0 {
		t.Errorf("limit_user_songs_by default: got %d, want 0", got)
	}
	if got := store.BufferSizeBytes(); got != 150000 {
		t.Errorf("BufferSizeBytes: got %d, want 150000", got)
	}
}

func TestSetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	store, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store.Set(KeyUserSongLimit, 3)
	store.Set(KeyNormalizeAudio, true)
	store.Set(KeyAVSync, -0.5)

	reopened, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.GetInt(KeyUserSongLimit); got != 3 {
		t.Errorf("limit after reopen: got %d, want 3", got)
	}
	if !reopened.GetBool(KeyNormalizeAudio) {
		t.Error("normalize_audio should persist")
	}
	if got := reopened.GetFloat(KeyAVSync); got != -0.5 {
		t.Errorf("avsync after reopen: got %v, want -0.5", got)
	}
}
