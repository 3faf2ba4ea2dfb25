package services

import (
	"context"
	"fmt"
	"strings"

	"market-research/backend/internal/repository"
	"market-research/backend/pkg/models"
)

// CategoryService manages report categories.
type CategoryService struct {
	repo repository.Repository
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(repo repository.Repository) *CategoryService {
	return &CategoryService{repo: repo}
}

// Create adds a category; its slug is derived from the name.
func (s *CategoryService) Create(ctx context.Context, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("category name is required")
	}
	slug := Slugify(name)
	if slug == "" {
		return nil, NewValidationError("category name %q has no letters or digits", name)
	}
	category := &models.Category{Name: name, Slug: slug}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

// List returns all categories.
func (s *CategoryService) List(ctx context.Context) ([]*models.Category, error) {
	return s.repo.ListCategories(ctx)
}
