// Package server exposes the payment flow over HTTP for the mobile client.
package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"payment-orchestrator/internal/common/config"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/common/observability"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/orchestrator"
	"payment-orchestrator/internal/storage"
)

// Server wires the gateway adapter, the orchestrator and the flow registry
// behind an echo router.
type Server struct {
	echo         *echo.Echo
	cfg          config.ServerConfig
	gateway      *gateway.Adapter
	cards        *gateway.CardConfirmer
	orchestrator *orchestrator.Orchestrator
	audit        *storage.Repository
	registry     *Registry
	obs          *observability.Observability
	logger       logger.Logger
}

func New(cfg config.ServerConfig, gw *gateway.Adapter, cards *gateway.CardConfirmer, orch *orchestrator.Orchestrator, audit *storage.Repository, obs *observability.Observability, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		cfg:          cfg,
		gateway:      gw,
		cards:        cards,
		orchestrator: orch,
		audit:        audit,
		registry:     NewRegistry(),
		obs:          obs,
		logger:       log.WithFields(map[string]interface{}{"component": "server"}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)

	api := s.echo.Group("/api/v1")
	api.POST("/payments/initialize", s.handleInitialize)
	api.POST("/payments/:reference/events", s.handleNavigationEvent)
	api.POST("/payments/:reference/card", s.handleCardConfirm)
	api.POST("/payments/:reference/cancel", s.handleCancel)
	api.GET("/payments/:reference", s.handleGetAttempt)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("http server starting", map[string]interface{}{"addr": addr})
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
