// Package api exposes the newsletter service over HTTP: management
// endpoints guarded by an API key, and public activation links used in
// confirmation emails.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phoebebright/newsletterd/internal/config"
	"github.com/phoebebright/newsletterd/internal/dispatch"
	"github.com/phoebebright/newsletterd/internal/metrics"
	"github.com/phoebebright/newsletterd/internal/repository"
	"github.com/phoebebright/newsletterd/internal/subscription"
	tlsconfig "github.com/phoebebright/newsletterd/internal/tls"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	newsletters   *repository.NewsletterRepository
	messages      *repository.MessageRepository
	submissions   *repository.SubmissionRepository
	subscriptions *subscription.Service
	dispatcher    *dispatch.Dispatcher

	config    *config.APIConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	version   string
	startTime time.Time
}

// NewServer creates a new API server
func NewServer(
	newsletters *repository.NewsletterRepository,
	messages *repository.MessageRepository,
	submissions *repository.SubmissionRepository,
	subscriptions *subscription.Service,
	dispatcher *dispatch.Dispatcher,
	cfg *config.APIConfig,
	m *metrics.Metrics,
	version string,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		newsletters:   newsletters,
		messages:      messages,
		submissions:   submissions,
		subscriptions: subscriptions,
		dispatcher:    dispatcher,
		config:        cfg,
		metrics:       m,
		logger:        logger.With("component", "api"),
		version:       version,
		startTime:     time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Public routes (no auth): health and the links embedded in emails.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/a/{action}/{code}", s.handleActivate)
	s.router.Get("/u/{code}", s.handleUnsubscribeLink)

	// Management API (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/newsletters", s.handleCreateNewsletter)
		r.Get("/newsletters", s.handleListNewsletters)
		r.Get("/newsletters/{slug}", s.handleGetNewsletter)

		r.Post("/newsletters/{slug}/subscriptions", s.handleSubscribe)
		r.Delete("/newsletters/{slug}/subscriptions/{email}", s.handleUnsubscribe)
		r.Get("/newsletters/{slug}/subscriptions", s.handleListSubscriptions)

		r.Post("/newsletters/{slug}/messages", s.handleCreateMessage)
		r.Get("/newsletters/{slug}/messages", s.handleListMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Post("/messages/{id}/articles", s.handleAddArticle)
		r.Post("/messages/{id}/attachments", s.handleAddAttachment)

		r.Post("/submissions", s.handleCreateSubmission)
		r.Post("/submissions/{id}/send", s.handleSendSubmission)
		r.Get("/submissions/{id}", s.handleGetSubmission)
		r.Get("/submissions/{id}/recipients", s.handleGetRecipients)
	})
}

// ListenAndServe starts the HTTP server, with TLS when configured.
func (s *Server) ListenAndServe() error {
	tlsConf, err := tlsconfig.Configure(s.config.TLS)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		TLSConfig:    tlsConf,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if tlsConf != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
