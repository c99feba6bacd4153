package database

import (
	"context"
	"fmt"

	sqldb "github.com/obsdb/obsdb/internal/database/sqlc"
)

// ChildRepository manages the rows owned by a source package: binary
// packages, sources, patches, files and rpmlint findings.
type ChildRepository struct {
	ctx *Context
}

func NewChildRepository(dbCtx *Context) *ChildRepository {
	return &ChildRepository{ctx: dbCtx}
}

func (r *ChildRepository) queries() (*sqldb.Queries, error) {
	queries := queriesFromContext(r.ctx)
	if queries == nil {
		return nil, fmt.Errorf("child repository: missing database context")
	}
	return queries, nil
}

func (r *ChildRepository) ListBinaryPackages(ctx context.Context, srcPackageID int64) ([]BinaryPackageRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListPackagesBySrcpackage(ctx, srcPackageID)
	if err != nil {
		return nil, err
	}
	result := make([]BinaryPackageRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapBinaryPackageRow(row))
	}
	return result, nil
}

func (r *ChildRepository) CreateBinaryPackage(ctx context.Context, rec BinaryPackageRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.InsertPackage(ctx, sqldb.Package{
		SrcpackageID: rec.SrcPackageID,
		Name:         rec.Name,
		Summary:      rec.Summary,
		Description:  rec.Description,
	})
}

func (r *ChildRepository) UpdateBinaryPackage(ctx context.Context, rec BinaryPackageRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpdatePackage(ctx, sqldb.Package{ID: rec.ID, Summary: rec.Summary, Description: rec.Description})
}

func (r *ChildRepository) DeleteBinaryPackage(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeletePackageByID(ctx, id)
}

func (r *ChildRepository) ListSources(ctx context.Context, srcPackageID int64) ([]SourceRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListSourcesBySrcpackage(ctx, srcPackageID)
	if err != nil {
		return nil, err
	}
	result := make([]SourceRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapSourceRow(row))
	}
	return result, nil
}

func (r *ChildRepository) CreateSource(ctx context.Context, rec SourceRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.InsertSource(ctx, sqldb.Source{SrcpackageID: rec.SrcPackageID, Filename: rec.Filename, NbInPack: int64(rec.NbInPack)})
}

func (r *ChildRepository) DeleteSource(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeleteSourceByID(ctx, id)
}

func (r *ChildRepository) ListPatches(ctx context.Context, srcPackageID int64) ([]PatchRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListPatchesBySrcpackage(ctx, srcPackageID)
	if err != nil {
		return nil, err
	}
	result := make([]PatchRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapPatchRow(row))
	}
	return result, nil
}

func (r *ChildRepository) CreatePatch(ctx context.Context, rec PatchRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.InsertPatch(ctx, patchRow(rec))
}

func (r *ChildRepository) UpdatePatch(ctx context.Context, rec PatchRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpdatePatch(ctx, patchRow(rec))
}

func (r *ChildRepository) DeletePatch(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeletePatchByID(ctx, id)
}

func (r *ChildRepository) ListFiles(ctx context.Context, srcPackageID int64) ([]FileRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListFilesBySrcpackage(ctx, srcPackageID)
	if err != nil {
		return nil, err
	}
	result := make([]FileRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapFileRow(row))
	}
	return result, nil
}

func (r *ChildRepository) CreateFile(ctx context.Context, rec FileRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.InsertFile(ctx, sqldb.File{SrcpackageID: rec.SrcPackageID, Filename: rec.Filename, Mtime: rec.Mtime})
}

func (r *ChildRepository) UpdateFile(ctx context.Context, rec FileRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.UpdateFile(ctx, sqldb.File{ID: rec.ID, Mtime: rec.Mtime})
}

func (r *ChildRepository) DeleteFile(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeleteFileByID(ctx, id)
}

func (r *ChildRepository) ListRpmlint(ctx context.Context, srcPackageID int64) ([]RpmlintRecord, error) {
	queries, err := r.queries()
	if err != nil {
		return nil, err
	}
	rows, err := queries.ListRpmlintBySrcpackage(ctx, srcPackageID)
	if err != nil {
		return nil, err
	}
	result := make([]RpmlintRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, mapRpmlintRow(row))
	}
	return result, nil
}

func (r *ChildRepository) CreateRpmlint(ctx context.Context, rec RpmlintRecord) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.InsertRpmlint(ctx, sqldb.Rpmlint{
		SrcpackageID: rec.SrcPackageID,
		Level:        rec.Level,
		Type:         rec.Type,
		Detail:       rec.Detail,
		Descr:        rec.Descr,
	})
}

func (r *ChildRepository) DeleteRpmlint(ctx context.Context, id int64) error {
	queries, err := r.queries()
	if err != nil {
		return err
	}
	return queries.DeleteRpmlintByID(ctx, id)
}
