package database

import (
	"context"
	"fmt"

	sqldb "github.com/obsdb/obsdb/internal/database/sqlc"
)

type SrcPackageRepository struct {
	ctx *Context
}

func NewSrcPackageRepository(dbCtx *Context) *SrcPackageRepository {
	return &SrcPackageRepository{ctx: dbCtx}
}

func (r *SrcPackageRepository) Find(ctx context.Context, projectID int64, name string) (*SrcPackageRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("srcpackage repository: missing database context")
	}

	row, err := queries.FindSrcpackage(ctx, sqldb.FindSrcpackageParams{ProjectID: projectID, Name: name})
	if err != nil {
		return nil, notFound(err)
	}

	record := mapSrcPackageRow(row)
	return &record, nil
}

func (r *SrcPackageRepository) ListByProject(ctx context.Context, projectID int64) ([]SrcPackageRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("srcpackage repository: missing database context")
	}

	rows, err := queries.ListSrcpackagesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return mapSrcPackageRows(rows), nil
}

func (r *SrcPackageRepository) ListAll(ctx context.Context) ([]SrcPackageRecord, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("srcpackage repository: missing database context")
	}

	rows, err := queries.ListAllSrcpackages(ctx)
	if err != nil {
		return nil, err
	}
	return mapSrcPackageRows(rows), nil
}

func (r *SrcPackageRepository) Create(ctx context.Context, rec SrcPackageRecord) (int64, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return 0, fmt.Errorf("srcpackage repository: missing database context")
	}

	return queries.InsertSrcpackage(ctx, srcPackageRow(rec))
}

func (r *SrcPackageRepository) Update(ctx context.Context, rec SrcPackageRecord) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("srcpackage repository: missing database context")
	}

	return queries.UpdateSrcpackage(ctx, srcPackageRow(rec))
}

func (r *SrcPackageRepository) UpdateError(ctx context.Context, id int64, kind, details string) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("srcpackage repository: missing database context")
	}

	return queries.UpdateSrcpackageError(ctx, sqldb.UpdateSrcpackageErrorParams{Error: kind, ErrorDetails: details, ID: id})
}

func (r *SrcPackageRepository) UpdateUpstream(ctx context.Context, id int64, name, version, url string) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("srcpackage repository: missing database context")
	}

	return queries.UpdateSrcpackageUpstream(ctx, sqldb.UpdateSrcpackageUpstreamParams{
		UpstreamName:    name,
		UpstreamVersion: version,
		UpstreamUrl:     url,
		ID:              id,
	})
}

// Delete removes a source package and its children.
func (r *SrcPackageRepository) Delete(ctx context.Context, id int64) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("srcpackage repository: missing database context")
	}

	if err := queries.DeleteChildrenOfSrcpackage(ctx, id); err != nil {
		return fmt.Errorf("failed to delete package data: %w", err)
	}
	return queries.DeleteSrcpackageByID(ctx, id)
}

func mapSrcPackageRows(rows []sqldb.Srcpackage) []SrcPackageRecord {
	result := make([]SrcPackageRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapSrcPackageRow(row))
	}
	return result
}
