// internal/httpserver/server.go
//
// HTTP server wiring for the battle backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - API endpoints under /api (join, program, state, history, leave).
//   - Websocket push channel at /ws, mounted outside the request timeout.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled.
//   - Program submission and leave require the bearer token issued by join.

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/internal/game"
)

// Settings carries the knobs the HTTP layer needs.
type Settings struct {
	JWTSecret      string
	JWTExpiresDays int
	ClientOrigin   string
	RequestTimeout time.Duration
	MaxProgramSize int64
}

func (s Settings) withDefaults() Settings {
	if s.JWTSecret == "" {
		s.JWTSecret = "dev_secret_change_me"
	}
	if s.JWTExpiresDays <= 0 {
		s.JWTExpiresDays = 14
	}
	if s.ClientOrigin == "" {
		s.ClientOrigin = "http://localhost:5173"
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 10 * time.Second
	}
	if s.MaxProgramSize <= 0 {
		s.MaxProgramSize = 64 << 10
	}
	return s
}

// Server bundles the router, the engine and the push channel.
type Server struct {
	r    *chi.Mux
	eng  *game.Engine
	ws   http.Handler
	cfg  Settings
	http *http.Server
}

// New constructs a Server, installs middleware, and registers routes. ws
// serves the push channel; nil leaves /ws unmounted.
func New(eng *game.Engine, ws http.Handler, cfg Settings) *Server {
	s := &Server{r: chi.NewRouter(), eng: eng, ws: ws, cfg: cfg.withDefaults()}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(s.cors)          // credentials-friendly CORS

	// --- diagnostics ---
	s.r.With(jsonContentType).Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"gridbattle","endpoints":["/health","POST /api/join","POST /api/program","GET /api/state","GET /api/history","DELETE /api/participants/{id}","/ws"]}`))
	})
	s.r.With(jsonContentType).Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// API: bounded handler time
	s.r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.RequestTimeout))
		r.Use(jsonContentType)
		s.mountAPI(r)
	})

	// Long-lived push channel; no timeout.
	if ws != nil {
		s.r.Get("/ws", ws.ServeHTTP)
	}

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, "not found: "+r.URL.Path)
	})

	return s
}

// Start begins serving HTTP on addr. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.r, ReadHeaderTimeout: 10 * time.Second}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------------------ envelope -----------------------------------

type meta struct {
	Timestamp time.Time `json:"timestamp"`
}

// respond writes {success:true, ...fields, meta}.
func respond(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true, "meta": meta{Timestamp: time.Now().UTC()}}
	for k, v := range fields {
		body[k] = v
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

// fail writes {success:false, message, meta}.
func fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": msg,
		"meta":    meta{Timestamp: time.Now().UTC()},
	})
}
