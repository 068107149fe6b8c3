// Package server wires the HTTP surface: account endpoints, the streaming
// chat endpoints, history and image fetch, health and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vocagent/vocagent/agent/orchestrator"
	"github.com/vocagent/vocagent/api/auth"
	"github.com/vocagent/vocagent/api/config"
	"github.com/vocagent/vocagent/api/server/handlers"
	"github.com/vocagent/vocagent/api/store"
	"github.com/vocagent/vocagent/monitor"
	"github.com/vocagent/vocagent/pkg/otel"
	"github.com/vocagent/vocagent/vision"
)

const ReadTimeout = 30 * time.Second

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// Deps carries the constructed subsystems the routes dispatch into.
type Deps struct {
	Store     *store.Store
	Auth      *auth.Service
	Orch      *orchestrator.Orchestrator
	Images    *vision.Service
	CachePing func(ctx context.Context) error
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	router.Use(otel.Middleware("vocagent-api"))
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(monitor.Middleware)
	router.Use(CORS(cfg.Server.AllowedOrigins))

	healthH := handlers.NewHealthHandler(
		func(ctx context.Context) error { return deps.Store.DB().PingContext(ctx) },
		deps.CachePing,
	)
	router.Get("/health", healthH.Readiness)
	router.Get("/health/live", healthH.Liveness)
	router.Method(http.MethodGet, "/metrics", monitor.Handler())

	authH := handlers.NewAuthHandler(deps.Auth)
	chatH := handlers.NewChatHandler(deps.Orch, deps.Auth)
	histH := handlers.NewHistoryHandler(deps.Store, deps.Auth)
	imgH := handlers.NewImageHandler(deps.Store, deps.Images, deps.Auth)

	router.Route("/api", func(r chi.Router) {
		r.Post("/register", authH.Register)
		r.Post("/login", authH.Login)
		r.Post("/auto_login", authH.AutoLogin)

		r.Post("/chat", chatH.Chat)
		r.Post("/chat_image", chatH.ChatImage)
		r.Post("/history", histH.History)
		r.Post("/get_image", imgH.GetImage)
	})

	return &Server{cfg: cfg, router: router}
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: ReadTimeout,
		// Streaming responses have no write deadline.
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
