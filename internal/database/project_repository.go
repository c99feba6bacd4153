package database

import (
	"context"
	"fmt"

	sqldb "github.com/obsdb/obsdb/internal/database/sqlc"
)

type ProjectRepository struct {
	ctx *Context
}

func NewProjectRepository(dbCtx *Context) *ProjectRepository {
	return &ProjectRepository{ctx: dbCtx}
}

func (r *ProjectRepository) FindByName(ctx context.Context, name string) (*ProjectRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("project repository: missing database context")
	}

	row, err := queries.FindProjectByName(ctx, name)
	if err != nil {
		return nil, notFound(err)
	}

	record := mapProjectRow(row)
	return &record, nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]ProjectRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("project repository: missing database context")
	}

	rows, err := queries.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]ProjectRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapProjectRow(row))
	}
	return result, nil
}

func (r *ProjectRepository) Count(ctx context.Context) (int64, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return 0, fmt.Errorf("project repository: missing database context")
	}

	return queries.CountProjects(ctx)
}

// CountPackages returns per-project package, link and error counts.
func (r *ProjectRepository) CountPackages(ctx context.Context) ([]ProjectCounts, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("project repository: missing database context")
	}

	rows, err := queries.CountSrcpackagesPerProject(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]ProjectCounts, 0, len(rows))
	for _, row := range rows {
		result = append(result, ProjectCounts{Name: row.Name, Packages: row.Packages, Links: row.Links, Errors: row.Errors})
	}
	return result, nil
}

func (r *ProjectRepository) Create(ctx context.Context, rec ProjectRecord) (int64, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return 0, fmt.Errorf("project repository: missing database context")
	}

	return queries.InsertProject(ctx, sqldb.InsertProjectParams{
		Name:           rec.Name,
		Parent:         rec.Parent,
		IgnoreUpstream: boolToInt64(rec.IgnoreUpstream),
	})
}

// Delete removes a project together with its source packages and their
// children.
func (r *ProjectRepository) Delete(ctx context.Context, id int64) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("project repository: missing database context")
	}

	if err := queries.DeleteChildrenOfProject(ctx, id); err != nil {
		return fmt.Errorf("failed to delete package data: %w", err)
	}
	if err := queries.DeleteSrcpackagesByProject(ctx, id); err != nil {
		return fmt.Errorf("failed to delete source packages: %w", err)
	}
	return queries.DeleteProjectByID(ctx, id)
}
