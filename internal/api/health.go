package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/redub/redub-engine/internal/database"
	"github.com/redub/redub-engine/internal/importwatch"
	"github.com/redub/redub-engine/internal/notify"
)

type HealthResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Checks        map[string]string   `json:"checks"`
	Watcher       *importwatch.Status `json:"watcher,omitempty"`
	Sessions      int                 `json:"sessions"`
}

// SessionCounter reports the number of live sessions. The pipeline
// manager implements it.
type SessionCounter interface {
	SessionCount() int
}

type HealthHandler struct {
	db        *database.DB
	mqtt      *notify.Publisher
	watcher   *importwatch.Watcher
	sessions  SessionCounter
	version   string
	startTime time.Time
}

// NewHealthHandler wires the health endpoint. db, mqtt, and watcher
// may be nil when the corresponding subsystem is not configured.
func NewHealthHandler(db *database.DB, mqtt *notify.Publisher, watcher *importwatch.Watcher, sessions SessionCounter, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		watcher:   watcher,
		sessions:  sessions,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Watch folder check
	var ws *importwatch.Status
	if h.watcher != nil {
		ws = h.watcher.Status()
		checks["import_watcher"] = ws.Status
	} else {
		checks["import_watcher"] = "not_configured"
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.SessionCount()
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Watcher:       ws,
		Sessions:      sessions,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
