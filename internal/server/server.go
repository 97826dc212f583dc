// Package server exposes the request-triggered collection surface: one
// endpoint that runs a bounded live-source backfill and returns the per-unit
// outcome log.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"velo/backfill/internal/backfill"
)

// Runner is the slice of the orchestrator the HTTP surface needs.
type Runner interface {
	Run(ctx context.Context, dates []string) *backfill.Summary
}

// Server wires the collect endpoint onto a runner.
type Server struct {
	runner  Runner
	logger  *slog.Logger
	maxDays int
}

func New(runner Runner, logger *slog.Logger, maxDays int) *Server {
	if maxDays < 1 {
		maxDays = 7
	}
	return &Server{
		runner:  runner,
		logger:  logger.With("component", "server"),
		maxDays: maxDays,
	}
}

// Router builds the gin engine. Registered routes:
//
//	GET/POST /collect?days=N  run a backfill for the last N complete days
//	GET      /healthz         liveness probe
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/collect", s.collect)
	r.POST("/collect", s.collect)
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

// collect runs the grid for the last `days` complete UTC days (default 1,
// capped). Responds 200 when every unit reached loaded/skipped, 207
// otherwise, with the human-readable per-unit log as the body.
func (s *Server) collect(c *gin.Context) {
	days := 1
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.String(http.StatusBadRequest, "days must be a positive integer\n")
			return
		}
		days = n
	}
	if days > s.maxDays {
		days = s.maxDays
	}

	dates := backfill.DateRange(time.Now(), 1, days)
	sum := s.runner.Run(c.Request.Context(), dates)

	s.logger.Info("collect request finished",
		"run_id", sum.RunID, "days", days, "status", string(sum.Status()))
	c.String(sum.HTTPStatus(), sum.Render())
}
