// Package api contains the HTTP handlers for the report content service
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"market-research/backend/internal/services"
	"market-research/backend/pkg/models"
)

const (
	serviceName    = "content-workflow"
	serviceVersion = "1.0.0"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GetHealth returns service health with a database check. An unreachable
// database yields 503.
func (s *Server) GetHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   serviceVersion,
		Checks:    map[string]string{"database": "ok"},
	}
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(c.Request().Context()); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, status int, title, detail string) error {
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problem)
}

// writeError maps service errors onto problem responses.
func (s *Server) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return writeProblem(c, http.StatusNotFound, "Not Found", err.Error())
	case services.IsValidation(err):
		return writeProblem(c, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		s.logger.Error("Request failed", "path", c.Request().URL.Path, "error", err)
		return writeProblem(c, http.StatusInternalServerError, "Internal Server Error", "the request could not be completed")
	}
}

// ProblemErrorHandler renders echo errors (routing, binding) as problem
// details so every error response has the same shape.
func ProblemErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	detail := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(code)
		}
	}
	_ = writeProblem(c, code, http.StatusText(code), detail)
}
