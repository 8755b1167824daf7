package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/plantops/webhookd/internal/config"
	"github.com/plantops/webhookd/internal/delivery"
	"github.com/plantops/webhookd/internal/storage"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	engine     *delivery.Engine
	dispatcher *delivery.Dispatcher
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, engine *delivery.Engine, dispatcher *delivery.Dispatcher, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	audit := &auditor{store: s.store, log: s.log}
	orgHandler := NewOrganizationHandler(s.store)
	subHandler := NewSubscriptionHandler(s.store, s.engine, audit)
	evtHandler := NewEventHandler(s.dispatcher)
	statsHandler := NewStatsHandler(s.store)

	// Health check — no auth
	r.Get("/health", statsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Organization management — platform admin routes, no bearer auth
		r.Post("/organizations", orgHandler.Create)
		r.Get("/organizations", orgHandler.List)
		r.Get("/organizations/{id}", orgHandler.Get)
		r.Delete("/organizations/{id}", orgHandler.Delete)
		r.Post("/organizations/{id}/rotate-key", orgHandler.RotateKey)

		// Organization-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			// Subscription registry
			r.Post("/subscriptions", subHandler.Create)
			r.Get("/subscriptions", subHandler.List)
			r.Get("/subscriptions/{id}", subHandler.Get)
			r.Put("/subscriptions/{id}", subHandler.Update)
			r.Delete("/subscriptions/{id}", subHandler.Delete)
			r.Post("/subscriptions/{id}/rotate-secret", subHandler.RotateSecret)

			// Delivery log, manual test, manual retry
			r.Get("/subscriptions/{id}/logs", subHandler.ListLogs)
			r.Post("/subscriptions/{id}/test", subHandler.Test)
			r.Post("/subscriptions/{id}/logs/{logID}/retry", subHandler.RetryLog)

			// Event intake
			r.Post("/events", evtHandler.Emit)
			r.Get("/events/types", evtHandler.Types)

			// Observability
			r.Get("/stats", statsHandler.Stats)
			r.Get("/audit", statsHandler.Audit)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
