/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/media"
)

type fakeSettings struct {
	normalize    bool
	avsync       float64
	completeWait bool
	bufferBytes  int64
	pixelScaling bool
}

func (f *fakeSettings) NormalizeAudio() bool             { return f.normalize }
func (f *fakeSettings) AVSyncSeconds() float64           { return f.avsync }
func (f *fakeSettings) CompleteTranscodeBeforePlay() bool { return f.completeWait }
func (f *fakeSettings) BufferSizeBytes() int64           { return f.bufferBytes }
func (f *fakeSettings) CDGPixelScaling() bool            { return f.pixelScaling }

func testManager(t *testing.T, settings *fakeSettings, cfg Config) *Manager {
	t.Helper()
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.PollMax == 0 {
		cfg.PollMax = 50
	}
	return NewManager(cfg, settings, zerolog.Nop())
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestEncodeJobArgsProgressive(t *testing.T) {
	job := &EncodeJob{
		Input:  "/songs/a.mp4",
		Output: "/tmp/1.mp4",
		UID:    "1",
		Format: media.FormatProgressive,
	}
	args := job.Args()

	if argAfter(args, "-i") != "/songs/a.mp4" {
		t.Errorf("expected input mapping, got %v", args)
	}
	if hasArg(args, "-af") {
		t.Errorf("no filters requested but -af present: %v", args)
	}
	if argAfter(args, "-c:v") != "libx264" {
		t.Errorf("expected software video codec, got %v", args)
	}
	if argAfter(args, "-movflags") != "frag_keyframe+empty_moov+default_base_moof" {
		t.Errorf("progressive output must be fragmented: %v", args)
	}
	if args[len(args)-1] != "/tmp/1.mp4" {
		t.Errorf("output must be last arg, got %v", args)
	}
}

func TestEncodeJobArgsHLS(t *testing.T) {
	job := &EncodeJob{
		Input:  "/songs/a.avi",
		Output: "/scratch/42/42.m3u8",
		TmpDir: "/scratch/42",
		UID:    "42",
		Format: media.FormatHLS,
	}
	args := job.Args()

	if argAfter(args, "-f") != "hls" {
		t.Errorf("expected hls muxer, got %v", args)
	}
	want := filepath.Join("/scratch/42", "42_segment_%03d.ts")
	if argAfter(args, "-hls_segment_filename") != want {
		t.Errorf("segment filename = %q, want %q", argAfter(args, "-hls_segment_filename"), want)
	}
}

func TestEncodeJobArgsCDG(t *testing.T) {
	job := &EncodeJob{
		Input:           "/tmp/x/song.mp3",
		CDGInput:        "/tmp/x/song.cdg",
		Output:          "/tmp/x/7.mp4",
		UID:             "7",
		Format:          media.FormatProgressive,
		CDGPixelScaling: true,
	}
	args := job.Args()

	if !hasArg(args, "/tmp/x/song.cdg") {
		t.Fatalf("cdg input missing: %v", args)
	}
	if argAfter(args, "-map") != "1:v:0" {
		t.Errorf("video must come from the cdg input: %v", args)
	}
	if argAfter(args, "-vf") != "scale=1500:1080:flags=neighbor" {
		t.Errorf("pixel scaling filter wrong: %v", args)
	}

	job.CDGPixelScaling = false
	if argAfter(job.Args(), "-vf") != "scale=1500:1080" {
		t.Errorf("default scale filter wrong: %v", job.Args())
	}
}

func TestEncodeJobAudioFilters(t *testing.T) {
	cases := []struct {
		name string
		job  EncodeJob
		want []string
	}{
		{"pitch up", EncodeJob{Semitones: 2}, []string{"rubberband=pitch=1.122462"}},
		{"pitch down", EncodeJob{Semitones: -12}, []string{"rubberband=pitch=0.500000"}},
		{"normalize", EncodeJob{Normalize: true}, []string{"loudnorm=I=-16:TP=-1.5:LRA=11"}},
		{"delay audio", EncodeJob{AVSyncSeconds: 0.25}, []string{"adelay=250:all=1"}},
		{"trim audio", EncodeJob{AVSyncSeconds: -0.5}, []string{"atrim=start=0.500"}},
		{"combined", EncodeJob{Semitones: 1, Normalize: true, AVSyncSeconds: 0.1},
			[]string{"rubberband", "loudnorm", "adelay=100"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			af := tc.job.audioFilters()
			for _, want := range tc.want {
				if !strings.Contains(af, want) {
					t.Errorf("filters %q missing %q", af, want)
				}
			}
		})
	}
}

func TestEncodeJobHardwareEncoder(t *testing.T) {
	job := &EncodeJob{Input: "a", Output: "b", HardwareEncoder: "h264_v4l2m2m"}
	args := job.Args()
	if argAfter(args, "-c:v") != "h264_v4l2m2m" {
		t.Errorf("hardware encoder not selected: %v", args)
	}
	if argAfter(args, "-b:v") != "4M" {
		t.Errorf("hardware encoder needs explicit bitrate: %v", args)
	}
}

func TestTranscodeRequired(t *testing.T) {
	settings := &fakeSettings{}
	m := testManager(t, settings, Config{})

	webNative := &media.ResolvedMedia{PrimaryFile: "/songs/a.mp4", Format: media.FormatProgressive}
	if m.TranscodeRequired(webNative, 0) {
		t.Error("untouched web-native file should stream verbatim")
	}
	if !m.TranscodeRequired(webNative, 2) {
		t.Error("pitch shift forces a transcode")
	}

	settings.normalize = true
	if !m.TranscodeRequired(webNative, 0) {
		t.Error("normalization forces a transcode")
	}
	settings.normalize = false

	settings.avsync = -0.3
	if !m.TranscodeRequired(webNative, 0) {
		t.Error("a/v correction forces a transcode")
	}
	settings.avsync = 0

	hls := &media.ResolvedMedia{PrimaryFile: "/songs/a.mp4", Format: media.FormatHLS}
	if !m.TranscodeRequired(hls, 0) {
		t.Error("hls output forces a transcode")
	}

	avi := &media.ResolvedMedia{PrimaryFile: "/songs/a.avi", Format: media.FormatProgressive}
	if !m.TranscodeRequired(avi, 0) {
		t.Error("non-web container forces a transcode")
	}
}

func TestHLSReady(t *testing.T) {
	dir := t.TempDir()
	uid := "99"
	writeFile := func(name string, size int) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if hlsReady(dir, uid, 150000) {
		t.Error("empty dir should not be ready")
	}

	writeFile(uid+"_segment_000.ts", 100000)
	writeFile(uid+"_segment_001.ts", 100000)
	if hlsReady(dir, uid, 150000) {
		t.Error("two segments are below the segment floor")
	}

	writeFile(uid+"_segment_002.ts", 1)
	if !hlsReady(dir, uid, 150000) {
		t.Error("three segments totalling 200001 bytes should be ready")
	}
	if hlsReady(dir, uid, 500000) {
		t.Error("cumulative size below threshold should not be ready")
	}

	// Segments of another stream must not count.
	if hlsReady(dir, "other", 1) {
		t.Error("foreign uid matched this stream's segments")
	}
}

func TestProgressiveReady(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "5.mp4")

	if progressiveReady(path, 150000) {
		t.Error("missing file should simply be not ready")
	}

	if err := os.WriteFile(path, make([]byte, 100000), 0o644); err != nil {
		t.Fatal(err)
	}
	if progressiveReady(path, 150000) {
		t.Error("100000 bytes should not pass a 150000 threshold")
	}

	if err := os.WriteFile(path, make([]byte, 200000), 0o644); err != nil {
		t.Fatal(err)
	}
	if !progressiveReady(path, 150000) {
		t.Error("200000 bytes should pass a 150000 threshold")
	}
}

func TestPlayFileVerbatimCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "song.mp4")
	if err := os.WriteFile(src, []byte("mp4 payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved := &media.ResolvedMedia{
		PrimaryFile: src,
		StreamUID:   5,
		OutputFile:  filepath.Join(dir, "5.mp4"),
		TmpDir:      dir,
		Format:      media.FormatProgressive,
	}

	m := testManager(t, &fakeSettings{bufferBytes: 150000}, Config{})
	result, err := m.PlayFile(context.Background(), resolved, 0)
	if err != nil {
		t.Fatalf("PlayFile: %v", err)
	}
	if result.StreamURL != "/stream/full/5" {
		t.Errorf("verbatim copy should serve the complete file, got %q", result.StreamURL)
	}
	data, err := os.ReadFile(resolved.OutputFile)
	if err != nil || string(data) != "mp4 payload" {
		t.Errorf("output copy wrong: %q, %v", data, err)
	}
	if m.EncoderRunning() {
		t.Error("verbatim copy must not leave an encoder running")
	}
}

func TestPlayFileSubtitleURL(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "song.webm")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved := &media.ResolvedMedia{
		PrimaryFile:  src,
		SubtitleFile: filepath.Join(dir, "song.srt"),
		StreamUID:    8,
		OutputFile:   filepath.Join(dir, "8.mp4"),
		TmpDir:       dir,
		Format:       media.FormatProgressive,
	}

	m := testManager(t, &fakeSettings{}, Config{})
	result, err := m.PlayFile(context.Background(), resolved, 0)
	if err != nil {
		t.Fatalf("PlayFile: %v", err)
	}
	if result.SubtitleURL != "/subtitle/8" {
		t.Errorf("subtitle url = %q", result.SubtitleURL)
	}
}

func TestPlayFileEncoderFailure(t *testing.T) {
	dir := t.TempDir()
	resolved := &media.ResolvedMedia{
		PrimaryFile: filepath.Join(dir, "missing.avi"),
		StreamUID:   9,
		OutputFile:  filepath.Join(dir, "9.mp4"),
		TmpDir:      dir,
		Format:      media.FormatProgressive,
	}

	m := testManager(t, &fakeSettings{bufferBytes: 150000}, Config{FFmpegBin: "false"})
	_, err := m.PlayFile(context.Background(), resolved, 0)
	if !errors.Is(err, ErrEncoder) {
		t.Fatalf("expected ErrEncoder, got %v", err)
	}
}

func TestWaitForBufferTimeout(t *testing.T) {
	dir := t.TempDir()
	resolved := &media.ResolvedMedia{
		PrimaryFile: filepath.Join(dir, "a.avi"),
		StreamUID:   11,
		OutputFile:  filepath.Join(dir, "11.mp4"),
		TmpDir:      dir,
		Format:      media.FormatProgressive,
	}

	m := testManager(t, &fakeSettings{bufferBytes: 150000}, Config{PollMax: 3})
	proc, err := startEncoder("sleep", []string{"30"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer proc.Stop()

	_, err = m.waitForBuffer(context.Background(), proc, resolved)
	if !errors.Is(err, ErrBufferTimeout) {
		t.Fatalf("expected ErrBufferTimeout, got %v", err)
	}
}

func TestWaitForBufferReadiness(t *testing.T) {
	dir := t.TempDir()
	resolved := &media.ResolvedMedia{
		PrimaryFile: filepath.Join(dir, "a.avi"),
		StreamUID:   12,
		OutputFile:  filepath.Join(dir, "12.mp4"),
		TmpDir:      dir,
		Format:      media.FormatProgressive,
	}
	if err := os.WriteFile(resolved.OutputFile, make([]byte, 200000), 0o644); err != nil {
		t.Fatal(err)
	}

	m := testManager(t, &fakeSettings{bufferBytes: 150000}, Config{PollMax: 5})
	proc, err := startEncoder("sleep", []string{"30"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer proc.Stop()

	complete, err := m.waitForBuffer(context.Background(), proc, resolved)
	if err != nil {
		t.Fatalf("waitForBuffer: %v", err)
	}
	if complete {
		t.Error("encoder still running, transcode is not complete")
	}
}

func TestEncoderProcessLifecycle(t *testing.T) {
	logger := zerolog.Nop()

	proc, err := startEncoder("sh", []string{"-c", "echo bad input >&2; exit 3"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !proc.Exited() {
		if time.Now().After(deadline) {
			t.Fatal("process never exited")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if proc.ExitErr() == nil {
		t.Error("non-zero exit should surface an error")
	}
	diag := proc.Diagnostics()
	found := false
	for _, line := range diag {
		if strings.Contains(line, "bad input") {
			found = true
		}
	}
	if !found {
		t.Errorf("stderr not captured: %v", diag)
	}
}

func TestEncoderProcessStop(t *testing.T) {
	proc, err := startEncoder("sleep", []string{"30"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	proc.Stop()
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("stop took too long: %v", elapsed)
	}
	if !proc.Exited() {
		t.Error("process should be gone after Stop")
	}
	// Stopping again is a no-op.
	proc.Stop()
}

func TestKillEncoderClearsHandle(t *testing.T) {
	m := testManager(t, &fakeSettings{}, Config{})
	proc, err := startEncoder("sleep", []string{"30"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.current = proc
	m.mu.Unlock()

	m.KillEncoder()
	if m.EncoderRunning() {
		t.Error("handle must be cleared after KillEncoder")
	}
	// Killing with no encoder is fine.
	m.KillEncoder()
}
