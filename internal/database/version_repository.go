package database

import (
	"context"
	"fmt"

	sqldb "github.com/obsdb/obsdb/internal/database/sqlc"
)

// VersionRepository reads and writes the db_version row of the catalog.
type VersionRepository struct {
	ctx *Context
}

func NewVersionRepository(dbCtx *Context) *VersionRepository {
	return &VersionRepository{ctx: dbCtx}
}

// Get returns the stored schema version, or ErrNotFound when the row is
// missing.
func (r *VersionRepository) Get(ctx context.Context) (major, minor int64, err error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return 0, 0, fmt.Errorf("version repository: missing database context")
	}

	row, err := queries.GetDbVersion(ctx)
	if err != nil {
		return 0, 0, notFound(err)
	}
	return row.Major, row.Minor, nil
}

// Set replaces the stored schema version.
func (r *VersionRepository) Set(ctx context.Context, major, minor int64) error {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return fmt.Errorf("version repository: missing database context")
	}

	if err := queries.DeleteDbVersion(ctx); err != nil {
		return err
	}
	return queries.InsertDbVersion(ctx, sqldb.DbVersion{Major: major, Minor: minor})
}
