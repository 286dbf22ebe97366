package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	redubengine "github.com/redub/redub-engine"
	"github.com/redub/redub-engine/internal/config"
	"github.com/redub/redub-engine/internal/database"
	"github.com/redub/redub-engine/internal/importwatch"
	"github.com/redub/redub-engine/internal/metrics"
	"github.com/redub/redub-engine/internal/notify"
	"github.com/redub/redub-engine/internal/pipeline"
	"github.com/redub/redub-engine/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Options collects everything the HTTP surface exposes. DB, MQTT, and
// Watcher may be nil.
type Options struct {
	Config    *config.Config
	Manager   *pipeline.Manager
	Store     storage.ArtifactStore
	DB        *database.DB
	MQTT      *notify.Publisher
	Watcher   *importwatch.Watcher
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts Options) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(opts.Config.CORSOrigins))
	if opts.Config.RateLimitRPS > 0 {
		r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	}

	// Unauthenticated: health, metrics, API description
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Watcher, opts.Manager, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/v1/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(redubengine.OpenAPISpec)
	})

	// Authenticated routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(opts.Config.AuthToken))
		r.Use(metrics.InstrumentHandler)

		sessions := NewSessionHandler(opts.Manager, opts.Store, opts.Config.AuthToken, opts.Log)
		sessions.Routes(r)

		events := NewEventsHandler(opts.Manager.Bus())
		r.Get("/events/stream", events.StreamEvents)
	})

	return &Server{
		http: &http.Server{
			Addr:         opts.Config.HTTPAddr,
			Handler:      r,
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
