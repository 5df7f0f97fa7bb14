// Package server is the HTTP and WebSocket entry point: the control socket
// accepting action frames, the broadcast sockets for subtitles and chat,
// static front-end assets, and the metrics and health endpoints.
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stagehand-live/stagehand/internal/action"
	"github.com/stagehand-live/stagehand/internal/hub"
	"github.com/stagehand-live/stagehand/internal/observe"
	"github.com/stagehand-live/stagehand/internal/template"
	"github.com/stagehand-live/stagehand/pkg/vts"
)

// ControlPath is the control WebSocket endpoint.
const ControlPath = "/ws/animate_control"

// ExpressionLister lists the live avatar expressions. *vts.Client
// satisfies it.
type ExpressionLister interface {
	Expressions(ctx context.Context) ([]vts.Expression, error)
}

// SoundLister lists the playable sound library. *audio.Player satisfies
// it.
type SoundLister interface {
	List() []string
	Duration(sound string, speed float64) time.Duration
}

// Scheduler buffers and executes action batches. *action.Scheduler
// satisfies it.
type Scheduler interface {
	Add(a action.Action) time.Duration
	Execute(ctx context.Context, loop int) error
}

// TemplatePlayer lists and plays animation templates. *template.Player
// satisfies it.
type TemplatePlayer interface {
	List() ([]template.Info, error)
	Play(name string, params map[string]any, delay time.Duration, sched template.ActionAdder) (time.Duration, error)
}

// Option configures a Server.
type Option func(*Server)

// WithStaticDir serves front-end assets under /static/ from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server routes HTTP and WebSocket traffic to the animation subsystems.
type Server struct {
	sched     Scheduler
	templates TemplatePlayer
	sounds    SoundLister
	avatar    ExpressionLister
	hub       *hub.Hub
	metrics   *observe.Metrics
	staticDir string
	upgrader  websocket.Upgrader

	// baseCtx bounds background batch execution so shutdown stops
	// in-flight batches.
	baseCtx context.Context
}

// New wires a server. baseCtx is the process lifetime context; batch
// execution started from the control socket runs under it.
func New(baseCtx context.Context, sched Scheduler, templates TemplatePlayer, sounds SoundLister, avatar ExpressionLister, h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		sched:     sched,
		templates: templates,
		sounds:    sounds,
		avatar:    avatar,
		hub:       h,
		metrics:   observe.DefaultMetrics(),
		baseCtx:   baseCtx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The operator front-end may be served from another port
				// during development; non-browser clients omit Origin.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return u.Scheme == "http" || u.Scheme == "https"
			},
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get(ControlPath, s.handleControl)
	r.Get("/ws/subtitles", s.handleBroadcastPath("/ws/subtitles"))
	r.Get("/ws/danmaku", s.handleBroadcastPath("/ws/danmaku"))

	if s.staticDir != "" {
		fs := http.FileServer(http.Dir(s.staticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fs))
	}
	return r
}

// handleBroadcastPath attaches subscribers to a server-to-client fan-out
// path. The read loop only watches for the client going away.
func (s *Server) handleBroadcastPath(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.hub.Upgrade(w, r, path)
		if err != nil {
			return
		}
		defer func() {
			s.hub.Remove(conn, path)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
