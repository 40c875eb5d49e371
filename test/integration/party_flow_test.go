/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build integration

// Package integration wires the real components together and plays one
// song end to end, with only the encoder binary faked out.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/events"
	"github.com/friendsincode/skald_karaoke/internal/history"
	"github.com/friendsincode/skald_karaoke/internal/library"
	"github.com/friendsincode/skald_karaoke/internal/media"
	"github.com/friendsincode/skald_karaoke/internal/playback"
	"github.com/friendsincode/skald_karaoke/internal/prefs"
	"github.com/friendsincode/skald_karaoke/internal/songqueue"
	"github.com/friendsincode/skald_karaoke/internal/stream"
)

type staticProber struct{}

func (staticProber) Duration(context.Context, string) (int, error) { return 180, nil }

type nowPlayingFunc func() (string, bool)

func (f nowPlayingFunc) NowPlayingUser() (string, bool) { return f() }

// TestPartyFlow enqueues a web-native song, lets the playback loop pick
// it up, connects a pretend display client, and verifies the song ends
// up in the play history with its scratch directory removed.
func TestPartyFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	logger := zerolog.Nop()
	root := t.TempDir()

	songsDir := filepath.Join(root, "songs")
	if err := os.MkdirAll(songsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	songPath := filepath.Join(songsDir, "Test_Singer_Anthem.mp4")
	if err := os.WriteFile(songPath, []byte("not really video"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := prefs.Open(filepath.Join(root, "prefs.yaml"), logger)
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus()

	lib := library.NewService(songsDir, "", logger)
	if _, err := lib.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	hist, err := history.Open(filepath.Join(root, "history.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Close()
	hist.Attach(bus)

	resolver := media.NewResolver(root, staticProber{}, logger)
	if err := os.MkdirAll(resolver.ScratchBase(), 0o755); err != nil {
		t.Fatal(err)
	}

	streams := stream.NewManager(stream.Config{
		FFmpegBin:    "false", // web-native verbatim path must never exec it
		PollInterval: 10 * time.Millisecond,
		PollMax:      50,
	}, store, logger)

	var controller *playback.Controller
	queue := songqueue.NewManager(bus, store, nowPlayingFunc(func() (string, bool) {
		if controller == nil {
			return "", false
		}
		return controller.NowPlayingUser()
	}), lib, logger)

	controller = playback.NewController(playback.Config{
		Format:              media.FormatProgressive,
		ConnectPollInterval: 10 * time.Millisecond,
		ConnectPollMax:      100,
		TickInterval:        10 * time.Millisecond,
	}, queue, resolver, streams, bus, logger)

	started := make(chan string, 1)
	bus.On(events.EventPlaybackStarted, func(p events.Payload) error {
		if url, ok := p["stream_url"].(string); ok {
			select {
			case started <- url:
			default:
			}
		}
		controller.ClientConnected()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx)

	if ok, msg := queue.Enqueue(songPath, "alice", 0, false); !ok {
		t.Fatalf("enqueue refused: %s", msg)
	}

	var streamURL string
	select {
	case streamURL = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("playback never started")
	}

	wantURL := "/stream/full/" + strconv.FormatUint(media.StreamUID(songPath), 10)
	if streamURL != wantURL {
		t.Errorf("stream_url = %q, want %q", streamURL, wantURL)
	}

	controller.EndSong(playback.ReasonComplete)

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := hist.Count()
		if err != nil {
			t.Fatal(err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history rows = %d, want 1", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	plays, err := hist.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if plays[0].User != "alice" || plays[0].Reason != playback.ReasonComplete {
		t.Errorf("recorded play = %+v", plays[0])
	}

	cancel()
}
