package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/go-coders/chaton2api/internal/chat"
	"github.com/go-coders/chaton2api/internal/config"
)

// Upstream is the slice of the signed upstream client the handlers use.
type Upstream interface {
	Stream(ctx context.Context, path string, body []byte) (io.ReadCloser, error)
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// ImageGenerator produces image URLs for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, n int) ([]string, error)
	RefinePrompt(ctx context.Context, prompt string) string
}

// Server represents the main application server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	ready      chan struct{}
	log        *slog.Logger

	upstream   Upstream
	canon      *chat.Canonicalizer
	translator *chat.Translator
	images     ImageGenerator
}

// New creates a new server instance
func New(cfg *config.Config, up Upstream, canon *chat.Canonicalizer, translator *chat.Translator, images ImageGenerator, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		config:     cfg,
		router:     router,
		ready:      make(chan struct{}),
		log:        log,
		upstream:   up,
		canon:      canon,
		translator: translator,
		images:     images,
	}
	s.setupRoutes()
	return s
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	close(s.ready)
	s.log.Info("server listening", "addr", s.httpServer.Addr)

	select {
	case err := <-errCh:
		return NewError(ErrServerStart, "http server failed", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return NewError(ErrServerShutdown, "shutdown failed", err)
	}
	return nil
}

// Ready returns the ready channel
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleWelcome)
	s.router.GET("/v1/models", s.handleModels)
	s.router.POST("/v1/chat/completions", s.handleChatCompletions)
	s.router.POST("/v1/images/generations", s.handleImageGenerations)
	s.router.POST("/v1/audio/speech", s.handleSpeech)
}
