// Package http provides the HTTP API for forged.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/contract"
	"github.com/fyrsmithlabs/forged/internal/orchestrator"
	"github.com/fyrsmithlabs/forged/internal/session"
)

// Orchestrator is the engine surface the API serves.
type Orchestrator interface {
	Start(ctx context.Context, c *contract.Contract, buildTasks []string) (string, error)
	Status(id string) (*session.Session, error)
	List() []string
	Cancel(ctx context.Context, id string) error
	Decision(ctx context.Context, id string, d orchestrator.Decision, guidance string) error
}

// Server provides HTTP endpoints for forged.
type Server struct {
	echo   *echo.Echo
	engine Orchestrator
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(engine Orchestrator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8420,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: engine,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/builds", s.handleStartBuild)
	v1.GET("/builds", s.handleListBuilds)
	v1.GET("/builds/:id", s.handleBuildStatus)
	v1.POST("/builds/:id/cancel", s.handleCancelBuild)
	v1.POST("/builds/:id/decision", s.handleDecision)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStartBuild locks a new contract and starts a build session.
func (s *Server) handleStartBuild(c echo.Context) error {
	var req StartBuildRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid build request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ct := &contract.Contract{
		ID:              "ct_" + uuid.NewString()[:8],
		Goal:            strings.TrimSpace(req.Contract.Goal),
		SuccessCriteria: req.Contract.SuccessCriteria,
		AntiPatterns:    req.Contract.AntiPatterns,
		Fingerprint:     req.Contract.Fingerprint,
		Locked:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := ct.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	id, err := s.engine.Start(c.Request().Context(), ct, req.Tasks)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoBuildTasks) || errors.Is(err, orchestrator.ErrEmptyBuildTask) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		s.logger.Error("start build failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start build")
	}

	return c.JSON(http.StatusCreated, StartBuildResponse{
		SessionID:    id,
		ContractID:   ct.ID,
		ContractHash: ct.Hash(),
	})
}

// handleListBuilds returns every registered session ID.
func (s *Server) handleListBuilds(c echo.Context) error {
	return c.JSON(http.StatusOK, ListBuildsResponse{Sessions: s.engine.List()})
}

// handleBuildStatus returns a session snapshot.
func (s *Server) handleBuildStatus(c echo.Context) error {
	snap, err := s.engine.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read session")
	}
	return c.JSON(http.StatusOK, snap)
}

// handleCancelBuild cancels a session.
func (s *Server) handleCancelBuild(c echo.Context) error {
	err := s.engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		s.logger.Error("cancel failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to cancel session")
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "cancelled"})
}

// handleDecision delivers an operator decision to a paused session.
func (s *Server) handleDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.engine.Decision(c.Request().Context(), c.Param("id"), orchestrator.Decision(req.Decision), req.Guidance)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, HealthResponse{Status: "accepted"})
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, orchestrator.ErrUnknownDecision):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrNotAwaitingDecision):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		s.logger.Error("decision failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to apply decision")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
