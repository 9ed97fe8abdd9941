// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer — the composition root where every
// dependency is assembled:
//
//	config.Config → sqlite.DB → repositories
//	             → TokenService / PasswordService / OAuth Provider
//	             → SharingLedger / PresenceTracker / SnippetService / AuthService
//	             → AuthHandler / SnippetHandler → chi routes
//
// Each layer only receives what it needs: services get repository
// interfaces, handlers get services. Nothing below this package touches
// more than its own slice of the chain.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/snipsafe/snipsafe/internal/auth"
	"github.com/snipsafe/snipsafe/internal/config"
	"github.com/snipsafe/snipsafe/internal/handler"
	"github.com/snipsafe/snipsafe/internal/middleware"
	sqliteRepo "github.com/snipsafe/snipsafe/internal/repository/sqlite"
	"github.com/snipsafe/snipsafe/internal/service"
)

// Server owns the router and the resources that must be released on
// shutdown. The database connection is closed after in-flight requests
// drain, flushing the WAL and releasing the file lock.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the full dependency chain and registers all routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures middleware, wires the services, and registers
// every route.
//
// MIDDLEWARE ORDER MATTERS — it executes in the order it's added:
//  1. RequestID — assigns a unique ID to each request (for tracing)
//  2. RealIP — extracts the real client IP from proxy headers
//  3. Recoverer — catches panics and returns 500 instead of crashing
//  4. Logger — logs each request with timing info
//  5. CORS — only when a dev frontend origin is configured
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// The SPA is normally served from this process, so CORS is off by
	// default. A separate dev server (vite etc.) sets cors_origin.
	if origin := s.config.Server.CORSOrigin; origin != "" {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{origin},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// === Auth utilities ===
	tokens, err := auth.NewTokenService(s.config.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService()

	var provider *auth.Provider
	if s.config.OAuthEnabled() {
		a := s.config.Auth
		provider = auth.NewProvider(
			a.OAuthClientID, a.OAuthClientSecret,
			a.OAuthAuthURL, a.OAuthTokenURL, a.OAuthUserInfoURL,
			a.OAuthCallbackURL, nil,
		)
	}

	// === Services ===
	snippets := s.db.Snippets()
	users := s.db.Users()
	ledger := service.NewSharingLedger(snippets, users, s.logger)
	presence := service.NewPresenceTracker(snippets, s.logger)
	snippetService := service.NewSnippetService(snippets, users, ledger, presence, s.logger)
	authService := service.NewAuthService(users, s.db.Settings(), tokens, passwords, s.config.Auth.DefaultOrganization, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(authService, provider, s.logger)
	snippetHandler := handler.NewSnippetHandler(snippetService, s.logger)

	requireAuth := auth.RequireAuth(tokens)
	optionalAuth := auth.OptionalAuth(tokens)

	s.router.Route("/api/auth", func(r chi.Router) {
		r.Get("/settings", authHandler.HandleSettings)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		if provider != nil {
			r.Get("/oauth/login", authHandler.HandleOAuthLogin)
			r.Get("/oauth/callback", authHandler.HandleOAuthCallback)
		}
		r.With(requireAuth).Get("/me", authHandler.HandleMe)
	})

	s.router.Route("/api/snippets", func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/", snippetHandler.HandleCreate)
		r.Get("/", snippetHandler.HandleListMine)
		r.Get("/organization", snippetHandler.HandleListOrganization)
		r.Get("/shared", snippetHandler.HandleListShared)
		r.Get("/search", snippetHandler.HandleSearch)
		r.Get("/stats", snippetHandler.HandleStats)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", snippetHandler.HandleGetByID)
			r.Put("/", snippetHandler.HandleUpdate)
			r.Delete("/", snippetHandler.HandleDelete)

			r.Post("/share", snippetHandler.HandleShare)
			r.Get("/share", snippetHandler.HandleSharingDetails)
			r.Delete("/share/{grantID}", snippetHandler.HandleUnshare)

			r.Post("/view", snippetHandler.HandleJoinView)
			r.Delete("/view", snippetHandler.HandleLeaveView)
			r.Get("/viewers", snippetHandler.HandleViewers)
		})
	})

	// Share links work for anonymous visitors when visibility allows, so
	// this route attaches identity without requiring it.
	s.router.With(optionalAuth).Get("/s/{shareID}", snippetHandler.HandleGetByShareID)

	// === Static SPA ===
	// Serve the built frontend; unknown paths fall through to index.html
	// so client-side routing works on hard refresh.
	s.router.Handle("/assets/*", http.FileServer(http.Dir(s.config.Server.StaticDir)))
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, s.config.Server.StaticDir+"/index.html")
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, give in-flight requests 30
// seconds, close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
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
			slog.Int("port", s.config.Server.Port),
			slog.String("database", s.config.Database.Path),
			slog.Bool("oauth", s.config.OAuthEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
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

// Router exposes the configured router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
