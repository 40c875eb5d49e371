/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/friendsincode/skald_karaoke/internal/media"
)

// EncodeJob describes one ffmpeg invocation. The builder only
// parameterizes the external encoder; no DSP happens in-process.
type EncodeJob struct {
	Input           string
	CDGInput        string // companion graphics track, composited when set
	Output          string
	TmpDir          string
	UID             string
	Format          media.StreamingFormat
	Semitones       int
	Normalize       bool
	AVSyncSeconds   float64
	CDGPixelScaling bool

	// HardwareEncoder selects a hardware video encoder (e.g.
	// "h264_v4l2m2m"); empty falls back to libx264.
	HardwareEncoder string
}

// videoCodec returns the encoder element for the job.
func (j *EncodeJob) videoCodec() []string {
	if j.HardwareEncoder != "" {
		return []string{"-c:v", j.HardwareEncoder, "-b:v", "4M"}
	}
	return []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "23"}
}

// audioFilters assembles the -af chain: pitch shift, loudness
// normalization, and a/v sync trim or delay, in that order.
func (j *EncodeJob) audioFilters() string {
	var filters []string

	if j.Semitones != 0 {
		pitch := math.Pow(2, float64(j.Semitones)/12.0)
		filters = append(filters, fmt.Sprintf("rubberband=pitch=%.6f", pitch))
	}
	if j.Normalize {
		filters = append(filters, "loudnorm=I=-16:TP=-1.5:LRA=11")
	}
	if j.AVSyncSeconds > 0 {
		delayMs := int(j.AVSyncSeconds * 1000)
		filters = append(filters, fmt.Sprintf("adelay=%d:all=1", delayMs))
	} else if j.AVSyncSeconds < 0 {
		filters = append(filters, fmt.Sprintf("atrim=start=%.3f", -j.AVSyncSeconds))
	}

	if len(filters) == 0 {
		return ""
	}
	joined := filters[0]
	for _, f := range filters[1:] {
		joined += "," + f
	}
	return joined
}

// Args builds the full ffmpeg argument list for the job.
func (j *EncodeJob) Args() []string {
	args := []string{"-y", "-nostdin"}

	args = append(args, "-i", j.Input)
	if j.CDGInput != "" {
		args = append(args, "-i", j.CDGInput)
	}

	if j.CDGInput != "" {
		// CDG frames are 300x216; scale up for the display, with
		// optional nearest-neighbour pixel scaling to keep the
		// chunky look sharp.
		scale := "scale=1500:1080"
		if j.CDGPixelScaling {
			scale += ":flags=neighbor"
		}
		args = append(args,
			"-map", "1:v:0",
			"-map", "0:a:0",
			"-vf", scale,
		)
	}

	if af := j.audioFilters(); af != "" {
		args = append(args, "-af", af)
	}

	args = append(args, j.videoCodec()...)
	args = append(args, "-c:a", "aac", "-b:a", "192k")

	switch j.Format {
	case media.FormatHLS:
		args = append(args,
			"-f", "hls",
			"-hls_time", "4",
			"-hls_list_size", "0",
			"-hls_segment_filename", filepath.Join(j.TmpDir, j.UID+"_segment_%03d.ts"),
			j.Output,
		)
	default:
		args = append(args,
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
			"-f", "mp4",
			j.Output,
		)
	}

	return args
}
