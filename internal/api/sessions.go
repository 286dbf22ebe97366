package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/redub/redub-engine/internal/eta"
	"github.com/redub/redub-engine/internal/pipeline"
	"github.com/redub/redub-engine/internal/storage"
	"github.com/redub/redub-engine/internal/waveform"
)

// maxUploadBytes caps import uploads at 500MB.
const maxUploadBytes = 500 << 20

type SessionHandler struct {
	mgr       *pipeline.Manager
	store     storage.ArtifactStore
	authToken string
	log       zerolog.Logger
}

func NewSessionHandler(mgr *pipeline.Manager, store storage.ArtifactStore, authToken string, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{mgr: mgr, store: store, authToken: authToken, log: log}
}

// Routes registers all session routes.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/estimate", h.EstimateSource)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Post("/import", h.Import)
		r.Post("/transcribe", h.Transcribe)
		r.Post("/align/full", h.AlignFull)
		r.Post("/align/region", h.AlignRegion)
		r.Post("/replace", h.ReplacePreview)
		// Final render spends backend compute and publishes output;
		// it is refused outright on tokenless deployments.
		r.With(RequireAuth(h.authToken)).Post("/apply", h.Apply)
		r.Get("/transcript", h.Transcript)
		r.Get("/diff", h.Diff)
		r.Get("/peaks", h.Peaks)
		r.Get("/eta", h.ETA)
		r.Get("/artifacts/{kind}", h.Artifact)

		h.selectionRoutes(r)
		h.viewportRoutes(r)
	})
}

// writeOpError maps pipeline errors onto HTTP statuses. Backend call
// failures surface as 502 with the human-readable message.
func writeOpError(w http.ResponseWriter, err error) {
	var ve *pipeline.ValidationError
	var se *pipeline.StateError
	var de *waveform.DecodeError
	switch {
	case errors.As(err, &ve), errors.Is(err, pipeline.ErrNoSelection):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrSuperseded), errors.As(err, &se):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &de):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		WriteError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	s, err := h.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.mgr.CreateSession(r.Context())
	WriteJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": h.mgr.List()})
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) EstimateSource(w http.ResponseWriter, r *http.Request) {
	url, _ := QueryString(r, "url")
	est, err := h.mgr.EstimateSource(r.Context(), url)
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, est)
}

func (h *SessionHandler) Import(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	probe, err := s.Import(r.Context(), header.Filename, data)
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"probe":   probe,
		"session": s.Snapshot(),
	})
}

func (h *SessionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := s.Transcribe(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":              res.JobID,
		"transcript":          res.Transcript,
		"alignment_available": res.AlignmentAvailable,
		"stats":               res.Stats,
		"session":             s.Snapshot(),
	})
}

func (h *SessionHandler) AlignFull(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	diff, err := s.AlignFull(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"diff":    diff,
		"summary": diff.Summary(),
		"session": s.Snapshot(),
	})
}

func (h *SessionHandler) AlignRegion(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Start  float64 `json:"start"`
		End    float64 `json:"end"`
		Margin float64 `json:"margin"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	diff, err := s.AlignRegion(r.Context(), body.Start, body.End, body.Margin)
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"diff":    diff,
		"summary": diff.Summary(),
		"session": s.Snapshot(),
	})
}

func (h *SessionHandler) ReplacePreview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var params pipeline.ReplaceParams
	if err := DecodeJSON(r, &params); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.ReplacePreview(r.Context(), params)
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"preview_url":   res.PreviewURL,
		"diff_url":      res.DiffURL,
		"replace_words": res.ReplaceWords,
		"stats":         res.Stats,
		"session":       s.Snapshot(),
	})
}

func (h *SessionHandler) Apply(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := s.Apply(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"final_url": res.FinalURL,
		"mode":      res.Mode,
		"container": res.Container,
		"session":   s.Snapshot(),
	})
}

func (h *SessionHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Transcript())
}

func (h *SessionHandler) Diff(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	diff, found := s.LastDiff()
	if !found {
		WriteError(w, http.StatusNotFound, "no alignment diff yet")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"diff":    diff,
		"summary": diff.Summary(),
	})
}

func (h *SessionHandler) Peaks(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	bins, found := QueryInt(r, "bins")
	if !found {
		bins = 1000
	}
	if bins < 1 || bins > 20000 {
		WriteError(w, http.StatusBadRequest, "bins must be between 1 and 20000")
		return
	}

	env, err := s.Peaks(bins)
	if err != nil {
		var de *waveform.DecodeError
		if errors.As(err, &de) {
			// Undecodable audio is non-fatal: the envelope is omitted.
			WriteJSON(w, http.StatusOK, map[string]any{
				"bins":         bins,
				"decode_error": de.Error(),
			})
			return
		}
		writeOpError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"bins":  bins,
		"peaks": env,
	})
}

func (h *SessionHandler) ETA(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	op, _ := QueryString(r, "op")
	est := h.mgr.Estimator()

	var seconds float64
	switch op {
	case "transcribe", "align_full":
		seconds = est.Estimate(eta.Operation(op), s.Snapshot().Duration).Seconds()
	case "align_region":
		start, ok1 := QueryFloat(r, "start")
		end, ok2 := QueryFloat(r, "end")
		margin, _ := QueryFloat(r, "margin")
		if !ok1 || !ok2 || end <= start {
			WriteError(w, http.StatusBadRequest, "align_region needs start < end")
			return
		}
		seconds = est.EstimateRegion(start, end, margin).Seconds()
	default:
		WriteError(w, http.StatusBadRequest, "op must be transcribe, align_full, or align_region")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"operation":         op,
		"estimated_seconds": seconds,
		"rtf":               est.RTF(eta.Operation(op)),
	})
}

func (h *SessionHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")
	key, found := s.ArtifactKey(kind)
	if !found || h.store == nil {
		WriteError(w, http.StatusNotFound, "artifact not available")
		return
	}

	// Object stores serve the bytes themselves; redirect when possible.
	if url, err := h.store.URL(r.Context(), key); err == nil && url != "" {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		WriteError(w, http.StatusNotFound, "artifact not available")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "audio/wav")
	io.Copy(w, rc)
}
