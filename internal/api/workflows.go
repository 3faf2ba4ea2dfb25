package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"market-research/backend/internal/auth"
	"market-research/backend/pkg/models"
)

// WorkflowService is the orchestrator surface used by the handlers.
type WorkflowService interface {
	Create(ctx context.Context, title, createdBy, language string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	GetStatus(ctx context.Context, id string) (*models.WorkflowView, error)
	RequestRegeneration(ctx context.Context, id string, phase int) error
	Approve(ctx context.Context, id, approverID string, categoryIDs []string) (*models.ApprovalResult, error)
}

// CategoryService manages report categories.
type CategoryService interface {
	Create(ctx context.Context, name string) (*models.Category, error)
	List(ctx context.Context) ([]*models.Category, error)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Error(msg string, args ...any)
}

// Server holds the dependencies for the API server.
type Server struct {
	workflows  WorkflowService
	categories CategoryService
	db         Pinger
	logger     Logger
}

// NewServer creates a new Server. db may be nil to skip the health check.
func NewServer(workflows WorkflowService, categories CategoryService, db Pinger, logger Logger) *Server {
	return &Server{workflows: workflows, categories: categories, db: db, logger: logger}
}

// CreateWorkflowRequest is the body of POST /workflows.
type CreateWorkflowRequest struct {
	Title    string `json:"title"`
	Language string `json:"language,omitempty"`
}

// ApproveWorkflowRequest is the body of POST /workflows/{id}/approve.
type ApproveWorkflowRequest struct {
	CategoryIDs []string `json:"category_ids"`
}

// CreateCategoryRequest is the body of POST /categories.
type CreateCategoryRequest struct {
	Name string `json:"name"`
}

// ListWorkflows returns a list of all workflows
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.workflows.ListWorkflows(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow starts a new content workflow. Generation continues after
// the response, so the handle is returned with 202.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Invalid Request", "invalid request body: "+err.Error())
	}

	workflow, err := s.workflows.Create(ctx, req.Title, auth.OperatorFrom(ctx), req.Language)
	if err != nil {
		return s.writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderLocation, c.Request().URL.Path+"/"+workflow.ID)
	return c.JSON(http.StatusAccepted, workflow)
}

// GetWorkflow returns the polling view of a workflow
// (GET /api/v1/workflows/{id})
func (s *Server) GetWorkflow(c echo.Context, id string) error {
	view, err := s.workflows.GetStatus(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// RegeneratePhase discards a phase's output and regenerates from it
// (POST /api/v1/workflows/{id}/phases/{phase}/regenerate)
func (s *Server) RegeneratePhase(c echo.Context, id string, phase int) error {
	ctx := c.Request().Context()
	if err := s.workflows.RequestRegeneration(ctx, id, phase); err != nil {
		return s.writeError(c, err)
	}
	view, err := s.workflows.GetStatus(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// ApproveWorkflow approves a workflow pending review
// (POST /api/v1/workflows/{id}/approve)
func (s *Server) ApproveWorkflow(c echo.Context, id string) error {
	ctx := c.Request().Context()

	var req ApproveWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Invalid Request", "invalid request body: "+err.Error())
	}

	result, err := s.workflows.Approve(ctx, id, auth.OperatorFrom(ctx), req.CategoryIDs)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListCategories returns all categories
// (GET /api/v1/categories)
func (s *Server) ListCategories(c echo.Context) error {
	categories, err := s.categories.List(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, categories)
}

// CreateCategory adds a category
// (POST /api/v1/categories)
func (s *Server) CreateCategory(c echo.Context) error {
	var req CreateCategoryRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Invalid Request", "invalid request body: "+err.Error())
	}
	category, err := s.categories.Create(c.Request().Context(), req.Name)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, category)
}
