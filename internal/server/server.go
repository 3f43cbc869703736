// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: every dependency is built in New
// and handed to the layer that needs it.
//
//	config.Config
//	  → sqlite.DB → credential.Store ─────────────┐
//	  → session store (Redis or memory) → Manager ─┤
//	  → provider.New (nil when unconfigured) ──────┼→ service.AccountService → handler.AccountHandler
//	  → policy.NewEngine ──────────────────────────┤
//	  → notify.Mailbox ────────────────────────────┘
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/tripease/identity/internal/auth"
	"github.com/tripease/identity/internal/config"
	"github.com/tripease/identity/internal/credential"
	"github.com/tripease/identity/internal/handler"
	"github.com/tripease/identity/internal/middleware"
	"github.com/tripease/identity/internal/notify"
	"github.com/tripease/identity/internal/policy"
	"github.com/tripease/identity/internal/provider"
	sqliteRepo "github.com/tripease/identity/internal/repository/sqlite"
	"github.com/tripease/identity/internal/service"
	"github.com/tripease/identity/internal/session"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection and, when configured, the Redis
// client. Both are closed by Close, which Start calls on shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client // nil: sessions live in memory
}

// Option customises New. Used by tests to swap collaborators.
type Option func(*options)

type options struct {
	provider  provider.Provider
	passwords *auth.PasswordService
}

// WithProvider replaces the provider built from the configuration.
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithPasswordService replaces the bcrypt service (tests use a low cost).
func WithPasswordService(p *auth.PasswordService) Option {
	return func(o *options) { o.passwords = p }
}

// New creates a new Server with the given config.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{provider: provider.New(cfg.Provider.Adapter())}
	for _, opt := range opts {
		opt(&o)
	}
	if o.passwords == nil {
		o.passwords = auth.NewPasswordService()
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	// === SESSION STORE ===
	var store session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		store = session.NewRedisStore(s.redis)
	}

	if err := s.setupRoutes(store, o); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /auth/signup                → register and log in
// POST   /auth/login                 → log in
// POST   /auth/logout                → log out
// POST   /auth/password-reset        → request a reset link
// POST   /api/forms/{form}/validate  → blur-time field feedback
// GET    /api/me                     → current identity          (auth)
// PUT    /api/me/password            → change password           (auth)
// GET    /api/identities/{id}        → read one identity
// PATCH  /api/identities/{id}        → partial profile update
// DELETE /api/identities/{id}        → delete (staff)
// GET    /api/messages               → drain pending notifications
// GET    /healthz                    → liveness
//
// MIDDLEWARE ORDER MATTERS:
// RequestID must precede Logger so log lines carry the ID. LoadSession runs
// on every identity route; /healthz skips it so health checks do not mint
// instances.
func (s *Server) setupRoutes(store session.Store, o options) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.config.SessionSecret, s.config.SessionInstanceTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	sessions := session.NewManager(store)
	mailbox := notify.NewMailbox(0)
	accounts := service.NewAccountService(
		credential.NewStore(s.db, o.passwords),
		sessions,
		o.provider,
		policy.NewEngine(),
		s.logger,
		service.Options{
			ProviderTimeout: s.config.Provider.Timeout,
			SyncAttempts:    s.config.Provider.SyncAttempts,
			Mailbox:         mailbox,
		},
	)
	if !accounts.ProviderConfigured() {
		s.logger.Warn("identity provider not configured; identities are local only")
	}
	h := handler.NewAccountHandler(accounts, mailbox, s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(auth.LoadSession(tokens, sessions, s.logger))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.HandleSignup)
			r.Post("/login", h.HandleLogin)
			r.Post("/logout", h.HandleLogout)
			r.Post("/password-reset", h.HandlePasswordReset)
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/forms/{form}/validate", h.HandleValidateField)
			r.Get("/messages", h.HandleMessages)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuthenticated)
				r.Get("/me", h.HandleMe)
				r.Put("/me/password", h.HandleChangePassword)
			})

			r.Get("/identities/{id}", h.HandleGetIdentity)
			r.Patch("/identities/{id}", h.HandleUpdateIdentity)
			r.Delete("/identities/{id}", h.HandleDeleteIdentity)
		})
	})

	return nil
}

// Handler returns the router; tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and the Redis client.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database and Redis connections
//
// In-flight provider calls are detached from request contexts, so a request
// cut off by shutdown still finishes (or times out) its provider call.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("redisSessions", s.redis != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
