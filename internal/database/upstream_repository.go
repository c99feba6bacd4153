package database

import (
	"context"
	"errors"
	"fmt"

	sqldb "github.com/obsdb/obsdb/internal/database/sqlc"
)

// UpstreamRepository manages the tables of upstream.db.
type UpstreamRepository struct {
	ctx *Context
}

func NewUpstreamRepository(dbCtx *Context) *UpstreamRepository {
	return &UpstreamRepository{ctx: dbCtx}
}

func (r *UpstreamRepository) queries() (*sqldb.Queries, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("upstream repository: missing database context")
	}
	return queries, nil
}

// Branch returns the named branch, creating it when missing.
func (r *UpstreamRepository) Branch(ctx context.Context, name string) (BranchRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return BranchRecord{}, err
	}

	row, err := queries.FindBranchByName(ctx, name)
	if err == nil {
		return BranchRecord{ID: row.ID, Name: row.Name, Mtime: row.Mtime}, nil
	}
	if !errors.Is(notFound(err), ErrNotFound) {
		return BranchRecord{}, err
	}

	id, err := queries.InsertBranch(ctx, sqldb.InsertBranchParams{Name: name})
	if err != nil {
		return BranchRecord{}, err
	}
	return BranchRecord{ID: id, Name: name}, nil
}

func (r *UpstreamRepository) ListBranches(ctx context.Context) ([]BranchRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]BranchRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, BranchRecord{ID: row.ID, Name: row.Name, Mtime: row.Mtime})
	}
	return result, nil
}

func (r *UpstreamRepository) SetBranchMtime(ctx context.Context, id, mtime int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpdateBranchMtime(ctx, sqldb.UpdateBranchMtimeParams{Mtime: mtime, ID: id})
}

// DeleteBranch drops a branch and its records.
func (r *UpstreamRepository) DeleteBranch(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	if err := queries.DeleteUpstreamByBranch(ctx, id); err != nil {
		return err
	}
	return queries.DeleteBranchByID(ctx, id)
}

func (r *UpstreamRepository) ListNameMatches(ctx context.Context) ([]NameMatchRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListNameMatches(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]NameMatchRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, NameMatchRecord{SrcPackage: row.Srcpackage, UpstreamName: row.UpstreamName, UpdatedAt: row.UpdatedAt})
	}
	return result, nil
}

func (r *UpstreamRepository) FindNameMatch(ctx context.Context, srcPackage string) (*NameMatchRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	row, err := queries.FindNameMatch(ctx, srcPackage)
	if err != nil {
		return nil, notFound(err)
	}
	return &NameMatchRecord{SrcPackage: row.Srcpackage, UpstreamName: row.UpstreamName, UpdatedAt: row.UpdatedAt}, nil
}

func (r *UpstreamRepository) SaveNameMatch(ctx context.Context, rec NameMatchRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpsertNameMatch(ctx, sqldb.NameMatch{Srcpackage: rec.SrcPackage, UpstreamName: rec.UpstreamName, UpdatedAt: rec.UpdatedAt})
}

func (r *UpstreamRepository) DeleteNameMatch(ctx context.Context, srcPackage string) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeleteNameMatch(ctx, srcPackage)
}

func (r *UpstreamRepository) ListByBranch(ctx context.Context, branch BranchRecord) ([]UpstreamRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListUpstreamByBranch(ctx, branch.ID)
	if err != nil {
		return nil, err
	}
	result := make([]UpstreamRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapUpstreamRow(branch.Name, row))
	}
	return result, nil
}

func (r *UpstreamRepository) Find(ctx context.Context, branch, name string) (*UpstreamRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	row, err := queries.FindUpstream(ctx, sqldb.FindUpstreamParams{Branch: branch, Name: name})
	if err != nil {
		return nil, notFound(err)
	}
	record := mapUpstreamRow(branch, row)
	return &record, nil
}

func (r *UpstreamRepository) Create(ctx context.Context, branchID int64, rec UpstreamRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.InsertUpstream(ctx, sqldb.Upstream{
		BranchID:   branchID,
		Name:       rec.Name,
		Version:    rec.Version,
		Url:        rec.URL,
		IsFallback: boolToInt64(rec.IsFallback),
		UpdatedAt:  rec.UpdatedAt,
	})
}

func (r *UpstreamRepository) Update(ctx context.Context, rec UpstreamRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpdateUpstream(ctx, sqldb.Upstream{
		ID:         rec.ID,
		Version:    rec.Version,
		Url:        rec.URL,
		IsFallback: boolToInt64(rec.IsFallback),
		UpdatedAt:  rec.UpdatedAt,
	})
}

func (r *UpstreamRepository) Delete(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeleteUpstreamByID(ctx, id)
}

// MarkRemoved records that name disappeared from branch at the given time.
func (r *UpstreamRepository) MarkRemoved(ctx context.Context, branch, name string, at int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpsertRemoved(ctx, sqldb.Removed{Branch: branch, Name: name, RemovedAt: at})
}

// ClearRemoved forgets a removal once the name reappears.
func (r *UpstreamRepository) ClearRemoved(ctx context.Context, branch, name string) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeleteRemoved(ctx, sqldb.DeleteRemovedParams{Branch: branch, Name: name})
}

// ChangedSince lists the (branch, name) pairs updated or removed after since.
func (r *UpstreamRepository) ChangedSince(ctx context.Context, since int64) ([]ChangedName, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListChangedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	result := make([]ChangedName, 0, len(rows))
	for _, row := range rows {
		result = append(result, ChangedName{Branch: row.Branch, Name: row.Name})
	}
	return result, nil
}

// NameMatchesChangedSince lists the source packages whose match changed after
// since.
func (r *UpstreamRepository) NameMatchesChangedSince(ctx context.Context, since int64) ([]string, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	return queries.ListNameMatchesChangedSince(ctx, since)
}

func mapUpstreamRow(branch string, row sqldb.Upstream) UpstreamRecord {
	return UpstreamRecord{
		ID:         row.ID,
		Branch:     branch,
		Name:       row.Name,
		Version:    row.Version,
		URL:        row.Url,
		IsFallback: row.IsFallback != 0,
		UpdatedAt:  row.UpdatedAt,
	}
}
