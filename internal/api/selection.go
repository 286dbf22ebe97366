package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/redub/redub-engine/internal/selection"
)

func (h *SessionHandler) selectionRoutes(r chi.Router) {
	r.Route("/selection", func(r chi.Router) {
		r.Get("/", h.GetSelection)
		r.Delete("/", h.ClearSelection)
		r.Post("/point", h.PointSelect)
		r.Post("/drag", h.Drag)
		r.Post("/extend", h.ShiftExtend)
		r.Post("/range", h.SelectRange)
		r.Post("/segment", h.SelectSegment)
		r.Post("/phrase", h.SelectPhrase)
		r.Put("/gap", h.SetBlockGap)
	})
}

// selectionResponse is the common reply to every selection mutation:
// the resulting span (if any) and the current speech blocks.
func (h *SessionHandler) selectionResponse(w http.ResponseWriter, s sessionSelection) {
	resp := map[string]any{
		"blocks": s.Blocks(),
	}
	if span, ok := s.Selection(); ok {
		resp["selection"] = span
	}
	WriteJSON(w, http.StatusOK, resp)
}

type sessionSelection interface {
	Selection() (selection.Span, bool)
	Blocks() []selection.Block
}

func (h *SessionHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.selectionResponse(w, s)
}

func (h *SessionHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ClearSelection()
	h.selectionResponse(w, s)
}

func (h *SessionHandler) PointSelect(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Time float64        `json:"time"`
		Mode selection.Mode `json:"mode"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Mode == "" {
		body.Mode = selection.WordMode
	}
	if body.Mode != selection.WordMode && body.Mode != selection.BlockMode {
		WriteError(w, http.StatusBadRequest, "mode must be word or block")
		return
	}
	s.PointSelect(body.Time, body.Mode)
	h.selectionResponse(w, s)
}

// Drag drives the three-phase drag interaction. The live range follows
// the pointer unsnapped; word snapping happens on release.
func (h *SessionHandler) Drag(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Phase string  `json:"phase"`
		Time  float64 `json:"time"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Phase {
	case "begin":
		s.BeginDrag(body.Time)
	case "move":
		s.DragTo(body.Time)
	case "end":
		s.EndDrag()
	default:
		WriteError(w, http.StatusBadRequest, "phase must be begin, move, or end")
		return
	}
	h.selectionResponse(w, s)
}

func (h *SessionHandler) ShiftExtend(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Time float64 `json:"time"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ShiftExtend(body.Time)
	h.selectionResponse(w, s)
}

func (h *SessionHandler) SelectRange(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		StartIdx int `json:"start_idx"`
		EndIdx   int `json:"end_idx"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.SelectRange(body.StartIdx, body.EndIdx)
	h.selectionResponse(w, s)
}

func (h *SessionHandler) SelectSegment(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Index int `json:"index"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.SelectSegment(body.Index) {
		WriteError(w, http.StatusNotFound, "no words in that segment")
		return
	}
	h.selectionResponse(w, s)
}

func (h *SessionHandler) SelectPhrase(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Phrase string `json:"phrase"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Phrase == "" {
		WriteError(w, http.StatusBadRequest, "phrase is empty")
		return
	}
	if !s.SelectPhrase(body.Phrase) {
		WriteError(w, http.StatusNotFound, "phrase not found in transcript")
		return
	}
	h.selectionResponse(w, s)
}

func (h *SessionHandler) SetBlockGap(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		GapSeconds float64 `json:"gap_seconds"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.SetBlockGap(body.GapSeconds)
	h.selectionResponse(w, s)
}
