/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// Router builds the full HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http")
	})

	h.Routes(r)
	return r
}

// Routes mounts the handlers on the provided router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/health", h.handleHealth)
	r.Get("/api/version", h.handleVersion)

	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/", h.handleQueueList)
		r.Post("/add", h.handleQueueAdd)
		r.Post("/edit", h.handleQueueEdit)
		r.Post("/reorder", h.handleQueueReorder)
		r.Post("/move-top", h.handleQueueMoveTop)
		r.Post("/move-bottom", h.handleQueueMoveBottom)
		r.Post("/random", h.handleQueueRandom)
		r.Post("/clear", h.handleQueueClear)
	})

	r.Get("/api/now-playing", h.handleNowPlaying)
	r.Post("/api/connect", h.handleConnect)
	r.Post("/api/ended", h.handleEnded)
	r.Post("/api/skip", h.handleSkip)
	r.Post("/api/pause", h.handlePause)
	r.Post("/api/transpose", h.handleTranspose)

	r.Get("/api/songs", h.handleSongs)
	r.Post("/api/rescan", h.handleRescan)
	r.Get("/api/history", h.handleHistory)

	r.Get("/api/prefs", h.handlePrefsGet)
	r.Post("/api/prefs", h.handlePrefsSet)

	r.Get("/api/logs", h.handleLogs)
	r.Get("/api/logs/stats", h.handleLogStats)

	r.Get("/ws/events", h.handleEventsWS)

	r.Get("/stream/full/{uid}", h.handleStreamFull)
	r.Get("/stream/{name}", h.handleStream)
	r.Get("/subtitle/{uid}", h.handleSubtitle)
}
