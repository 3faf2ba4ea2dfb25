package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers of the /api/v1 surface.
type ServerInterface interface {
	// (GET /health)
	GetHealth(ctx echo.Context) error
	// (GET /workflows)
	ListWorkflows(ctx echo.Context) error
	// (POST /workflows)
	CreateWorkflow(ctx echo.Context) error
	// (GET /workflows/{id})
	GetWorkflow(ctx echo.Context, id string) error
	// (POST /workflows/{id}/phases/{phase}/regenerate)
	RegeneratePhase(ctx echo.Context, id string, phase int) error
	// (POST /workflows/{id}/approve)
	ApproveWorkflow(ctx echo.Context, id string) error
	// (GET /categories)
	ListCategories(ctx echo.Context) error
	// (POST /categories)
	CreateCategory(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// GetHealth converts echo context to params.
func (w *ServerInterfaceWrapper) GetHealth(ctx echo.Context) error {
	return w.Handler.GetHealth(ctx)
}

// ListWorkflows converts echo context to params.
func (w *ServerInterfaceWrapper) ListWorkflows(ctx echo.Context) error {
	return w.Handler.ListWorkflows(ctx)
}

// CreateWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) CreateWorkflow(ctx echo.Context) error {
	return w.Handler.CreateWorkflow(ctx)
}

// GetWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) GetWorkflow(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.GetWorkflow(ctx, id)
}

// RegeneratePhase converts echo context to params.
func (w *ServerInterfaceWrapper) RegeneratePhase(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	var phase int
	err = runtime.BindStyledParameterWithOptions("simple", "phase", ctx.Param("phase"), &phase,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter phase: %s", err))
	}
	return w.Handler.RegeneratePhase(ctx, id, phase)
}

// ApproveWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) ApproveWorkflow(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.ApproveWorkflow(ctx, id)
}

// ListCategories converts echo context to params.
func (w *ServerInterfaceWrapper) ListCategories(ctx echo.Context) error {
	return w.Handler.ListCategories(ctx)
}

// CreateCategory converts echo context to params.
func (w *ServerInterfaceWrapper) CreateCategory(ctx echo.Context) error {
	return w.Handler.CreateCategory(ctx)
}

func bindPathString(ctx echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

// EchoRouter is the subset of echo routing used to register handlers; both
// *echo.Echo and *echo.Group satisfy it.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET("/health", wrapper.GetHealth)
	router.GET("/workflows", wrapper.ListWorkflows)
	router.POST("/workflows", wrapper.CreateWorkflow)
	router.GET("/workflows/:id", wrapper.GetWorkflow)
	router.POST("/workflows/:id/phases/:phase/regenerate", wrapper.RegeneratePhase)
	router.POST("/workflows/:id/approve", wrapper.ApproveWorkflow)
	router.GET("/categories", wrapper.ListCategories)
	router.POST("/categories", wrapper.CreateCategory)
}
