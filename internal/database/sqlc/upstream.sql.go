package sqldb

import (
	"context"
)

const findBranchByName = `SELECT id, name, mtime FROM branch WHERE name = ?`

func (q *Queries) FindBranchByName(ctx context.Context, name string) (Branch, error) {
	row := q.db.QueryRowContext(ctx, findBranchByName, name)
	var i Branch
	err := row.Scan(&i.ID, &i.Name, &i.Mtime)
	return i, err
}

const listBranches = `SELECT id, name, mtime FROM branch ORDER BY name`

func (q *Queries) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := q.db.QueryContext(ctx, listBranches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Branch
	for rows.Next() {
		var i Branch
		if err := rows.Scan(&i.ID, &i.Name, &i.Mtime); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertBranch = `INSERT INTO branch (name, mtime) VALUES (?, ?)`

type InsertBranchParams struct {
	Name  string
	Mtime int64
}

func (q *Queries) InsertBranch(ctx context.Context, arg InsertBranchParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertBranch, arg.Name, arg.Mtime)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateBranchMtime = `UPDATE branch SET mtime = ? WHERE id = ?`

type UpdateBranchMtimeParams struct {
	Mtime int64
	ID    int64
}

func (q *Queries) UpdateBranchMtime(ctx context.Context, arg UpdateBranchMtimeParams) error {
	_, err := q.db.ExecContext(ctx, updateBranchMtime, arg.Mtime, arg.ID)
	return err
}

const deleteBranchByID = `DELETE FROM branch WHERE id = ?`

func (q *Queries) DeleteBranchByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteBranchByID, id)
	return err
}

const listNameMatches = `SELECT srcpackage, upstream_name, updated_at FROM name_match ORDER BY srcpackage`

func (q *Queries) ListNameMatches(ctx context.Context) ([]NameMatch, error) {
	rows, err := q.db.QueryContext(ctx, listNameMatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NameMatch
	for rows.Next() {
		var i NameMatch
		if err := rows.Scan(&i.Srcpackage, &i.UpstreamName, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const findNameMatch = `SELECT srcpackage, upstream_name, updated_at FROM name_match WHERE srcpackage = ?`

func (q *Queries) FindNameMatch(ctx context.Context, srcpackage string) (NameMatch, error) {
	row := q.db.QueryRowContext(ctx, findNameMatch, srcpackage)
	var i NameMatch
	err := row.Scan(&i.Srcpackage, &i.UpstreamName, &i.UpdatedAt)
	return i, err
}

const upsertNameMatch = `
INSERT INTO name_match (srcpackage, upstream_name, updated_at) VALUES (?, ?, ?)
ON CONFLICT (srcpackage) DO UPDATE SET upstream_name = excluded.upstream_name, updated_at = excluded.updated_at`

func (q *Queries) UpsertNameMatch(ctx context.Context, arg NameMatch) error {
	_, err := q.db.ExecContext(ctx, upsertNameMatch, arg.Srcpackage, arg.UpstreamName, arg.UpdatedAt)
	return err
}

const deleteNameMatch = `DELETE FROM name_match WHERE srcpackage = ?`

func (q *Queries) DeleteNameMatch(ctx context.Context, srcpackage string) error {
	_, err := q.db.ExecContext(ctx, deleteNameMatch, srcpackage)
	return err
}

const listUpstreamByBranch = `SELECT id, branch_id, name, version, url, is_fallback, updated_at FROM upstream WHERE branch_id = ? ORDER BY name`

func (q *Queries) ListUpstreamByBranch(ctx context.Context, branchID int64) ([]Upstream, error) {
	rows, err := q.db.QueryContext(ctx, listUpstreamByBranch, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Upstream
	for rows.Next() {
		var i Upstream
		if err := rows.Scan(&i.ID, &i.BranchID, &i.Name, &i.Version, &i.Url, &i.IsFallback, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const findUpstream = `
SELECT u.id, u.branch_id, u.name, u.version, u.url, u.is_fallback, u.updated_at
FROM upstream u JOIN branch b ON b.id = u.branch_id
WHERE b.name = ? AND u.name = ?`

type FindUpstreamParams struct {
	Branch string
	Name   string
}

func (q *Queries) FindUpstream(ctx context.Context, arg FindUpstreamParams) (Upstream, error) {
	row := q.db.QueryRowContext(ctx, findUpstream, arg.Branch, arg.Name)
	var i Upstream
	err := row.Scan(&i.ID, &i.BranchID, &i.Name, &i.Version, &i.Url, &i.IsFallback, &i.UpdatedAt)
	return i, err
}

const insertUpstream = `INSERT INTO upstream (branch_id, name, version, url, is_fallback, updated_at) VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertUpstream(ctx context.Context, arg Upstream) error {
	_, err := q.db.ExecContext(ctx, insertUpstream, arg.BranchID, arg.Name, arg.Version, arg.Url, arg.IsFallback, arg.UpdatedAt)
	return err
}

const updateUpstream = `UPDATE upstream SET version = ?, url = ?, is_fallback = ?, updated_at = ? WHERE id = ?`

func (q *Queries) UpdateUpstream(ctx context.Context, arg Upstream) error {
	_, err := q.db.ExecContext(ctx, updateUpstream, arg.Version, arg.Url, arg.IsFallback, arg.UpdatedAt, arg.ID)
	return err
}

const deleteUpstreamByID = `DELETE FROM upstream WHERE id = ?`

func (q *Queries) DeleteUpstreamByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteUpstreamByID, id)
	return err
}

const deleteUpstreamByBranch = `DELETE FROM upstream WHERE branch_id = ?`

func (q *Queries) DeleteUpstreamByBranch(ctx context.Context, branchID int64) error {
	_, err := q.db.ExecContext(ctx, deleteUpstreamByBranch, branchID)
	return err
}

const upsertRemoved = `
INSERT INTO removed (branch, name, removed_at) VALUES (?, ?, ?)
ON CONFLICT (branch, name) DO UPDATE SET removed_at = excluded.removed_at`

func (q *Queries) UpsertRemoved(ctx context.Context, arg Removed) error {
	_, err := q.db.ExecContext(ctx, upsertRemoved, arg.Branch, arg.Name, arg.RemovedAt)
	return err
}

const deleteRemoved = `DELETE FROM removed WHERE branch = ? AND name = ?`

type DeleteRemovedParams struct {
	Branch string
	Name   string
}

func (q *Queries) DeleteRemoved(ctx context.Context, arg DeleteRemovedParams) error {
	_, err := q.db.ExecContext(ctx, deleteRemoved, arg.Branch, arg.Name)
	return err
}

const listChangedSince = `
SELECT b.name, u.name FROM upstream u JOIN branch b ON b.id = u.branch_id WHERE u.updated_at > ?1
UNION
SELECT branch, name FROM removed WHERE removed_at > ?1
ORDER BY 1, 2`

type ListChangedSinceRow struct {
	Branch string
	Name   string
}

func (q *Queries) ListChangedSince(ctx context.Context, since int64) ([]ListChangedSinceRow, error) {
	rows, err := q.db.QueryContext(ctx, listChangedSince, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListChangedSinceRow
	for rows.Next() {
		var i ListChangedSinceRow
		if err := rows.Scan(&i.Branch, &i.Name); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listNameMatchesChangedSince = `SELECT srcpackage FROM name_match WHERE updated_at > ? ORDER BY srcpackage`

func (q *Queries) ListNameMatchesChangedSince(ctx context.Context, since int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listNameMatchesChangedSince, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
