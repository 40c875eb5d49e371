/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package web exposes the HTTP surface: queue control, playback
// signals, stream delivery, and host-facing inspection endpoints.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_karaoke/internal/events"
	"github.com/friendsincode/skald_karaoke/internal/history"
	"github.com/friendsincode/skald_karaoke/internal/library"
	"github.com/friendsincode/skald_karaoke/internal/logbuffer"
	"github.com/friendsincode/skald_karaoke/internal/playback"
	"github.com/friendsincode/skald_karaoke/internal/prefs"
	"github.com/friendsincode/skald_karaoke/internal/songqueue"
	"github.com/friendsincode/skald_karaoke/internal/version"
)

// Player is the slice of the playback controller the handlers drive.
type Player interface {
	Snapshot() playback.State
	ClientConnected()
	EndSong(reason string)
	Skip() bool
	Pause() bool
	Transpose(ctx context.Context, semitones int) error
	SubtitlePath(uid string) (string, bool)
}

// Handler carries the HTTP dependencies.
type Handler struct {
	queue     *songqueue.Manager
	player    Player
	library   *library.Service
	history   *history.Recorder
	prefs     *prefs.Store
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	checker   *version.Checker

	// scratchBase is the per-process directory stream files live under.
	scratchBase string

	logger zerolog.Logger
}

// New creates the web handler.
func New(queue *songqueue.Manager, player Player, lib *library.Service, hist *history.Recorder, store *prefs.Store, bus *events.Bus, logBuf *logbuffer.Buffer, checker *version.Checker, scratchBase string, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:       queue,
		player:      player,
		library:     lib,
		history:     hist,
		prefs:       store,
		bus:         bus,
		logBuffer:   logBuf,
		checker:     checker,
		scratchBase: scratchBase,
		logger:      logger.With().Str("component", "web").Logger(),
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"current_version": version.Version})
		return
	}
	writeJSON(w, http.StatusOK, h.checker.Info())
}

// Queue handlers.

type enqueueRequest struct {
	File       string `json:"file"`
	User       string `json:"user"`
	Semitones  int    `json:"semitones"`
	AddToFront bool   `json:"add_to_front"`
}

func (h *Handler) handleQueueList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queue": h.queue.Snapshot()})
}

func (h *Handler) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.File == "" || req.User == "" {
		writeError(w, http.StatusBadRequest, "file_and_user_required")
		return
	}

	ok, msg := h.queue.Enqueue(req.File, req.User, req.Semitones, req.AddToFront)
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"added": ok, "message": msg})
}

type editRequest struct {
	File   string `json:"file"`
	Action string `json:"action"`
}

func (h *Handler) handleQueueEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var ok bool
	switch songqueue.EditAction(req.Action) {
	case songqueue.EditUp, songqueue.EditDown, songqueue.EditDelete:
		ok = h.queue.Edit(req.File, songqueue.EditAction(req.Action))
	default:
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}

	if !ok {
		writeError(w, http.StatusConflict, "edit_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type reorderRequest struct {
	OldIndex int `json:"old_index"`
	NewIndex int `json:"new_index"`
}

func (h *Handler) handleQueueReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !h.queue.Reorder(req.OldIndex, req.NewIndex) {
		writeError(w, http.StatusConflict, "reorder_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type moveRequest struct {
	File string `json:"file"`
}

func (h *Handler) handleQueueMoveTop(w http.ResponseWriter, r *http.Request) {
	h.handleMove(w, r, h.queue.MoveToTop)
}

func (h *Handler) handleQueueMoveBottom(w http.ResponseWriter, r *http.Request) {
	h.handleMove(w, r, h.queue.MoveToBottom)
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request, move func(string) bool) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !move(req.File) {
		writeError(w, http.StatusConflict, "move_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type randomRequest struct {
	Count int `json:"count"`
}

func (h *Handler) handleQueueRandom(w http.ResponseWriter, r *http.Request) {
	var req randomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	full := h.queue.AddRandom(req.Count, h.library)
	writeJSON(w, http.StatusOK, map[string]bool{"all_added": full})
}

func (h *Handler) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	h.queue.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Playback handlers.

func (h *Handler) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.player.Snapshot())
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	h.player.ClientConnected()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleEnded(w http.ResponseWriter, r *http.Request) {
	h.player.EndSong(playback.ReasonComplete)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": h.player.Skip()})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	paused := h.player.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

type transposeRequest struct {
	Semitones int `json:"semitones"`
}

func (h *Handler) handleTranspose(w http.ResponseWriter, r *http.Request) {
	var req transposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.player.Transpose(r.Context(), req.Semitones); err != nil {
		writeError(w, http.StatusConflict, "transpose_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Library handlers.

func (h *Handler) handleSongs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, map[string]any{"songs": h.library.Search(query)})
}

func (h *Handler) handleRescan(w http.ResponseWriter, r *http.Request) {
	result, err := h.library.Scan(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("library rescan failed")
		writeError(w, http.StatusInternalServerError, "scan_failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History handler.

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	user := r.URL.Query().Get("user")

	var (
		plays []history.Play
		err   error
	)
	if user != "" {
		plays, err = h.history.ByUser(user, limit)
	} else {
		plays, err = h.history.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plays": plays})
}

// Preference handlers.

func (h *Handler) handlePrefsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prefs.All())
}

type prefsSetRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (h *Handler) handlePrefsSet(w http.ResponseWriter, r *http.Request) {
	var req prefsSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key_required")
		return
	}
	h.prefs.Set(req.Key, req.Value)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Log handlers.

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		User:       q.Get("user"),
		Search:     q.Get("search"),
		Limit:      limit,
		Descending: q.Get("order") != "asc",
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": h.logBuffer.Query(params)})
}

func (h *Handler) handleLogStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.logBuffer.Stats())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
