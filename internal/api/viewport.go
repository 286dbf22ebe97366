package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/redub/redub-engine/internal/pipeline"
	"github.com/redub/redub-engine/internal/view"
)

func (h *SessionHandler) viewportRoutes(r chi.Router) {
	r.Route("/viewport", func(r chi.Router) {
		r.Get("/", h.GetViewport)
		r.Post("/zoom", h.Zoom)
		r.Post("/zoom-range", h.ZoomToRange)
		r.Post("/pan", h.Pan)
		r.Get("/transform", h.Transform)
	})
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
}

func (h *SessionHandler) GetViewport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Viewport().State())
}

func (h *SessionHandler) Zoom(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Zoom    float64 `json:"zoom"`
		Anchor  float64 `json:"anchor"`
		Animate bool    `json:"animate"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Zoom <= 0 {
		WriteError(w, http.StatusBadRequest, "zoom must be positive")
		return
	}

	vp := s.Viewport()
	if body.Animate {
		// Frames go out on the event stream; the animation outlives
		// this request and is superseded by the next zoom request.
		bus := h.mgr.Bus()
		sessionID := s.ID
		go vp.AnimateZoomAnchored(context.Background(), body.Zoom, body.Anchor, func(st view.State) {
			bus.Publish(pipeline.EventViewport, sessionID, st)
		})
		WriteJSON(w, http.StatusAccepted, vp.State())
		return
	}
	vp.SetZoomAnchored(body.Zoom, body.Anchor)
	WriteJSON(w, http.StatusOK, vp.State())
}

func (h *SessionHandler) ZoomToRange(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Pad   float64 `json:"pad"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.End <= body.Start {
		WriteError(w, http.StatusBadRequest, "end must be after start")
		return
	}
	s.Viewport().ZoomToRange(body.Start, body.End, body.Pad)
	WriteJSON(w, http.StatusOK, s.Viewport().State())
}

func (h *SessionHandler) Pan(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		DeltaSeconds float64 `json:"delta_seconds"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.Viewport().Pan(body.DeltaSeconds)
	WriteJSON(w, http.StatusOK, s.Viewport().State())
}

// Transform converts between time and pixel coordinates at a given
// canvas width. Exactly one of time or px must be supplied.
func (h *SessionHandler) Transform(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	width, found := QueryFloat(r, "width")
	if !found || width <= 0 {
		WriteError(w, http.StatusBadRequest, "width must be positive")
		return
	}

	vp := s.Viewport()
	if t, found := QueryFloat(r, "time"); found {
		WriteJSON(w, http.StatusOK, map[string]float64{"px": vp.TimeToPixel(t, width)})
		return
	}
	if px, found := QueryFloat(r, "px"); found {
		WriteJSON(w, http.StatusOK, map[string]float64{"time": vp.PixelToTime(px, width)})
		return
	}
	WriteError(w, http.StatusBadRequest, "supply time or px")
}

func (h *SessionHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.CurrentSettings())
}

func (h *SessionHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	settings := s.CurrentSettings()
	if err := DecodeJSON(r, &settings); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ApplySettings(settings)
	if err := s.SaveSettings(r.Context()); err != nil {
		h.log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to persist view settings")
	}
	WriteJSON(w, http.StatusOK, s.CurrentSettings())
}
