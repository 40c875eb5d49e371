/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Tail-read tuning for growing progressive files: stop once the file
// has not grown for tailIdleMax consecutive polls.
const (
	tailPollInterval = 250 * time.Millisecond
	tailIdleMax      = 20
	tailChunkSize    = 64 * 1024
)

// streamPath maps a requested stream file name onto the scratch tree.
// Files live under <scratchBase>/<uid>/<name> where name starts with
// the uid, so the uid segment is derived from the name itself.
func (h *Handler) streamPath(name string) (string, bool) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", false
	}
	uid := name
	if i := strings.IndexAny(uid, "_."); i >= 0 {
		uid = uid[:i]
	}
	if uid == "" {
		return "", false
	}
	return filepath.Join(h.scratchBase, uid, name), true
}

// handleStream serves playlist, segment, and growing progressive
// files. Playlists and segments are complete on disk and served
// directly; a progressive container may still be written to, so it is
// tail-read in chunks.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, ok := h.streamPath(name)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_stream_name")
		return
	}

	switch {
	case strings.HasSuffix(name, ".m3u8"):
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		http.ServeFile(w, r, path)
	case strings.HasSuffix(name, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeFile(w, r, path)
	default:
		h.serveGrowing(w, r, path)
	}
}

// serveGrowing streams a file that may still be growing, flushing
// chunks as they appear.
func (h *Handler) serveGrowing(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "stream_not_found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, tailChunkSize)
	idle := 0

	for {
		n, err := f.Read(buf)
		if n > 0 {
			idle = 0
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			idle++
			if idle >= tailIdleMax {
				return
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(tailPollInterval):
			}
			continue
		}
		if err != nil {
			h.logger.Debug().Err(err).Str("path", path).Msg("stream read error")
			return
		}
	}
}

// handleStreamFull serves a completely transcoded or verbatim-copied
// output file with range support.
func (h *Handler) handleStreamFull(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	dir := filepath.Join(h.scratchBase, uid)

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, http.StatusNotFound, "stream_not_found")
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, uid+".") && !strings.HasSuffix(name, ".m3u8") {
			http.ServeFile(w, r, filepath.Join(dir, name))
			return
		}
	}
	writeError(w, http.StatusNotFound, "stream_not_found")
}

// handleSubtitle serves the current song's subtitle file.
func (h *Handler) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	path, ok := h.player.SubtitlePath(uid)
	if !ok {
		writeError(w, http.StatusNotFound, "subtitle_not_found")
		return
	}
	http.ServeFile(w, r, path)
}
