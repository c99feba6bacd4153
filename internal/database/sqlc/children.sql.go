package sqldb

import (
	"context"
)

const listPackagesBySrcpackage = `SELECT id, srcpackage_id, name, summary, description FROM package WHERE srcpackage_id = ? ORDER BY name, id`

func (q *Queries) ListPackagesBySrcpackage(ctx context.Context, srcpackageID int64) ([]Package, error) {
	rows, err := q.db.QueryContext(ctx, listPackagesBySrcpackage, srcpackageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Package
	for rows.Next() {
		var i Package
		if err := rows.Scan(&i.ID, &i.SrcpackageID, &i.Name, &i.Summary, &i.Description); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertPackage = `INSERT INTO package (srcpackage_id, name, summary, description) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertPackage(ctx context.Context, arg Package) error {
	_, err := q.db.ExecContext(ctx, insertPackage, arg.SrcpackageID, arg.Name, arg.Summary, arg.Description)
	return err
}

const updatePackage = `UPDATE package SET summary = ?, description = ? WHERE id = ?`

func (q *Queries) UpdatePackage(ctx context.Context, arg Package) error {
	_, err := q.db.ExecContext(ctx, updatePackage, arg.Summary, arg.Description, arg.ID)
	return err
}

const deletePackageByID = `DELETE FROM package WHERE id = ?`

func (q *Queries) DeletePackageByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deletePackageByID, id)
	return err
}

const listSourcesBySrcpackage = `SELECT id, srcpackage_id, filename, nb_in_pack FROM source WHERE srcpackage_id = ? ORDER BY filename, nb_in_pack, id`

func (q *Queries) ListSourcesBySrcpackage(ctx context.Context, srcpackageID int64) ([]Source, error) {
	rows, err := q.db.QueryContext(ctx, listSourcesBySrcpackage, srcpackageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Source
	for rows.Next() {
		var i Source
		if err := rows.Scan(&i.ID, &i.SrcpackageID, &i.Filename, &i.NbInPack); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertSource = `INSERT INTO source (srcpackage_id, filename, nb_in_pack) VALUES (?, ?, ?)`

func (q *Queries) InsertSource(ctx context.Context, arg Source) error {
	_, err := q.db.ExecContext(ctx, insertSource, arg.SrcpackageID, arg.Filename, arg.NbInPack)
	return err
}

const deleteSourceByID = `DELETE FROM source WHERE id = ?`

func (q *Queries) DeleteSourceByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteSourceByID, id)
	return err
}

const patchColumns = `id, srcpackage_id, filename, nb_in_pack, apply_order, disabled, tag, tag_filename, short_descr, descr, bnc, bgo, bmo, bln, brc, fate, cve`

const listPatchesBySrcpackage = `SELECT ` + patchColumns + ` FROM patch WHERE srcpackage_id = ? ORDER BY filename, nb_in_pack, id`

func (q *Queries) ListPatchesBySrcpackage(ctx context.Context, srcpackageID int64) ([]Patch, error) {
	rows, err := q.db.QueryContext(ctx, listPatchesBySrcpackage, srcpackageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Patch
	for rows.Next() {
		var i Patch
		if err := rows.Scan(
			&i.ID,
			&i.SrcpackageID,
			&i.Filename,
			&i.NbInPack,
			&i.ApplyOrder,
			&i.Disabled,
			&i.Tag,
			&i.TagFilename,
			&i.ShortDescr,
			&i.Descr,
			&i.Bnc,
			&i.Bgo,
			&i.Bmo,
			&i.Bln,
			&i.Brc,
			&i.Fate,
			&i.Cve,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertPatch = `
INSERT INTO patch (srcpackage_id, filename, nb_in_pack, apply_order, disabled, tag, tag_filename, short_descr, descr, bnc, bgo, bmo, bln, brc, fate, cve)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertPatch(ctx context.Context, arg Patch) error {
	_, err := q.db.ExecContext(ctx, insertPatch,
		arg.SrcpackageID,
		arg.Filename,
		arg.NbInPack,
		arg.ApplyOrder,
		arg.Disabled,
		arg.Tag,
		arg.TagFilename,
		arg.ShortDescr,
		arg.Descr,
		arg.Bnc,
		arg.Bgo,
		arg.Bmo,
		arg.Bln,
		arg.Brc,
		arg.Fate,
		arg.Cve,
	)
	return err
}

const updatePatch = `
UPDATE patch SET apply_order = ?, disabled = ?, tag = ?, tag_filename = ?, short_descr = ?, descr = ?,
    bnc = ?, bgo = ?, bmo = ?, bln = ?, brc = ?, fate = ?, cve = ?
WHERE id = ?`

func (q *Queries) UpdatePatch(ctx context.Context, arg Patch) error {
	_, err := q.db.ExecContext(ctx, updatePatch,
		arg.ApplyOrder,
		arg.Disabled,
		arg.Tag,
		arg.TagFilename,
		arg.ShortDescr,
		arg.Descr,
		arg.Bnc,
		arg.Bgo,
		arg.Bmo,
		arg.Bln,
		arg.Brc,
		arg.Fate,
		arg.Cve,
		arg.ID,
	)
	return err
}

const deletePatchByID = `DELETE FROM patch WHERE id = ?`

func (q *Queries) DeletePatchByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deletePatchByID, id)
	return err
}

const listFilesBySrcpackage = `SELECT id, srcpackage_id, filename, mtime FROM file WHERE srcpackage_id = ? ORDER BY filename, id`

func (q *Queries) ListFilesBySrcpackage(ctx context.Context, srcpackageID int64) ([]File, error) {
	rows, err := q.db.QueryContext(ctx, listFilesBySrcpackage, srcpackageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []File
	for rows.Next() {
		var i File
		if err := rows.Scan(&i.ID, &i.SrcpackageID, &i.Filename, &i.Mtime); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertFile = `INSERT INTO file (srcpackage_id, filename, mtime) VALUES (?, ?, ?)`

func (q *Queries) InsertFile(ctx context.Context, arg File) error {
	_, err := q.db.ExecContext(ctx, insertFile, arg.SrcpackageID, arg.Filename, arg.Mtime)
	return err
}

const updateFile = `UPDATE file SET mtime = ? WHERE id = ?`

func (q *Queries) UpdateFile(ctx context.Context, arg File) error {
	_, err := q.db.ExecContext(ctx, updateFile, arg.Mtime, arg.ID)
	return err
}

const deleteFileByID = `DELETE FROM file WHERE id = ?`

func (q *Queries) DeleteFileByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteFileByID, id)
	return err
}

const listRpmlintBySrcpackage = `SELECT id, srcpackage_id, level, type, detail, descr FROM rpmlint WHERE srcpackage_id = ? ORDER BY level, type, detail, descr, id`

func (q *Queries) ListRpmlintBySrcpackage(ctx context.Context, srcpackageID int64) ([]Rpmlint, error) {
	rows, err := q.db.QueryContext(ctx, listRpmlintBySrcpackage, srcpackageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Rpmlint
	for rows.Next() {
		var i Rpmlint
		if err := rows.Scan(&i.ID, &i.SrcpackageID, &i.Level, &i.Type, &i.Detail, &i.Descr); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertRpmlint = `INSERT INTO rpmlint (srcpackage_id, level, type, detail, descr) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) InsertRpmlint(ctx context.Context, arg Rpmlint) error {
	_, err := q.db.ExecContext(ctx, insertRpmlint, arg.SrcpackageID, arg.Level, arg.Type, arg.Detail, arg.Descr)
	return err
}

const deleteRpmlintByID = `DELETE FROM rpmlint WHERE id = ?`

func (q *Queries) DeleteRpmlintByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteRpmlintByID, id)
	return err
}
