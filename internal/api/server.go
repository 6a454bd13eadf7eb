// Package api exposes the HTTP surface: ingest, takeover/return signals,
// thread inspection, and proposal review.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/pipeline"
	"github.com/deskflow/internal/proposals"
	"github.com/deskflow/internal/thread"
)

// Server represents the API server
type Server struct {
	echo         *echo.Echo
	port         int
	orchestrator *pipeline.Orchestrator
	observations *observation.Service
	proposals    *proposals.Service
	threads      thread.Store
}

// NewServer creates a new API server
func NewServer(port int, orchestrator *pipeline.Orchestrator, observations *observation.Service, proposalSvc *proposals.Service, threads thread.Store) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:         e,
		port:         port,
		orchestrator: orchestrator,
		observations: observations,
		proposals:    proposalSvc,
		threads:      threads,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/ingest", s.handleIngest)

	v1.GET("/threads/:id", s.getThread)
	v1.POST("/threads/:id/takeover", s.takeoverThread)
	v1.POST("/threads/:id/return", s.returnThread)
	v1.POST("/threads/:id/observed-messages", s.recordObservedMessage)

	v1.GET("/proposals", s.listProposals)
	v1.POST("/proposals/:id/approve", s.approveProposal)
	v1.POST("/proposals/:id/reject", s.rejectProposal)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
