package sqldb

import (
	"context"
)

const insertDbVersion = `INSERT INTO db_version (major, minor) VALUES (?, ?)`

func (q *Queries) InsertDbVersion(ctx context.Context, arg DbVersion) error {
	_, err := q.db.ExecContext(ctx, insertDbVersion, arg.Major, arg.Minor)
	return err
}

const deleteDbVersion = `DELETE FROM db_version`

func (q *Queries) DeleteDbVersion(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteDbVersion)
	return err
}

const getDbVersion = `SELECT major, minor FROM db_version LIMIT 1`

func (q *Queries) GetDbVersion(ctx context.Context) (DbVersion, error) {
	row := q.db.QueryRowContext(ctx, getDbVersion)
	var i DbVersion
	err := row.Scan(&i.Major, &i.Minor)
	return i, err
}

const insertProject = `INSERT INTO project (name, parent, ignore_upstream) VALUES (?, ?, ?)`

type InsertProjectParams struct {
	Name           string
	Parent         string
	IgnoreUpstream int64
}

func (q *Queries) InsertProject(ctx context.Context, arg InsertProjectParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertProject, arg.Name, arg.Parent, arg.IgnoreUpstream)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const findProjectByName = `SELECT id, name, parent, ignore_upstream FROM project WHERE name = ?`

func (q *Queries) FindProjectByName(ctx context.Context, name string) (Project, error) {
	row := q.db.QueryRowContext(ctx, findProjectByName, name)
	var i Project
	err := row.Scan(&i.ID, &i.Name, &i.Parent, &i.IgnoreUpstream)
	return i, err
}

const listProjects = `SELECT id, name, parent, ignore_upstream FROM project ORDER BY name`

func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := q.db.QueryContext(ctx, listProjects)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Project
	for rows.Next() {
		var i Project
		if err := rows.Scan(&i.ID, &i.Name, &i.Parent, &i.IgnoreUpstream); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countProjects = `SELECT COUNT(*) FROM project`

func (q *Queries) CountProjects(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countProjects)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteProjectByID = `DELETE FROM project WHERE id = ?`

func (q *Queries) DeleteProjectByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteProjectByID, id)
	return err
}

const countSrcpackagesPerProject = `
SELECT p.name, COUNT(s.id), COALESCE(SUM(s.is_link), 0), COALESCE(SUM(CASE WHEN s.error != '' THEN 1 ELSE 0 END), 0)
FROM project p
LEFT JOIN srcpackage s ON s.project_id = p.id
GROUP BY p.id
ORDER BY p.name`

type CountSrcpackagesPerProjectRow struct {
	Name     string
	Packages int64
	Links    int64
	Errors   int64
}

func (q *Queries) CountSrcpackagesPerProject(ctx context.Context) ([]CountSrcpackagesPerProjectRow, error) {
	rows, err := q.db.QueryContext(ctx, countSrcpackagesPerProject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountSrcpackagesPerProjectRow
	for rows.Next() {
		var i CountSrcpackagesPerProjectRow
		if err := rows.Scan(&i.Name, &i.Packages, &i.Links, &i.Errors); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const srcpackageColumns = `id, project_id, name, srcmd5, version, link_project, link_package, devel_project, devel_package, upstream_name, upstream_version, upstream_url, is_link, has_delta, error, error_details`

func scanSrcpackage(row interface{ Scan(...any) error }) (Srcpackage, error) {
	var i Srcpackage
	err := row.Scan(
		&i.ID,
		&i.ProjectID,
		&i.Name,
		&i.Srcmd5,
		&i.Version,
		&i.LinkProject,
		&i.LinkPackage,
		&i.DevelProject,
		&i.DevelPackage,
		&i.UpstreamName,
		&i.UpstreamVersion,
		&i.UpstreamUrl,
		&i.IsLink,
		&i.HasDelta,
		&i.Error,
		&i.ErrorDetails,
	)
	return i, err
}

const insertSrcpackage = `
INSERT INTO srcpackage (project_id, name, srcmd5, version, link_project, link_package, devel_project, devel_package, upstream_name, upstream_version, upstream_url, is_link, has_delta, error, error_details)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertSrcpackage(ctx context.Context, arg Srcpackage) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertSrcpackage,
		arg.ProjectID,
		arg.Name,
		arg.Srcmd5,
		arg.Version,
		arg.LinkProject,
		arg.LinkPackage,
		arg.DevelProject,
		arg.DevelPackage,
		arg.UpstreamName,
		arg.UpstreamVersion,
		arg.UpstreamUrl,
		arg.IsLink,
		arg.HasDelta,
		arg.Error,
		arg.ErrorDetails,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateSrcpackage = `
UPDATE srcpackage SET srcmd5 = ?, version = ?, link_project = ?, link_package = ?, devel_project = ?, devel_package = ?,
    upstream_name = ?, upstream_version = ?, upstream_url = ?, is_link = ?, has_delta = ?, error = ?, error_details = ?
WHERE id = ?`

func (q *Queries) UpdateSrcpackage(ctx context.Context, arg Srcpackage) error {
	_, err := q.db.ExecContext(ctx, updateSrcpackage,
		arg.Srcmd5,
		arg.Version,
		arg.LinkProject,
		arg.LinkPackage,
		arg.DevelProject,
		arg.DevelPackage,
		arg.UpstreamName,
		arg.UpstreamVersion,
		arg.UpstreamUrl,
		arg.IsLink,
		arg.HasDelta,
		arg.Error,
		arg.ErrorDetails,
		arg.ID,
	)
	return err
}

const updateSrcpackageError = `UPDATE srcpackage SET error = ?, error_details = ? WHERE id = ?`

type UpdateSrcpackageErrorParams struct {
	Error        string
	ErrorDetails string
	ID           int64
}

func (q *Queries) UpdateSrcpackageError(ctx context.Context, arg UpdateSrcpackageErrorParams) error {
	_, err := q.db.ExecContext(ctx, updateSrcpackageError, arg.Error, arg.ErrorDetails, arg.ID)
	return err
}

const updateSrcpackageUpstream = `UPDATE srcpackage SET upstream_name = ?, upstream_version = ?, upstream_url = ? WHERE id = ?`

type UpdateSrcpackageUpstreamParams struct {
	UpstreamName    string
	UpstreamVersion string
	UpstreamUrl     string
	ID              int64
}

func (q *Queries) UpdateSrcpackageUpstream(ctx context.Context, arg UpdateSrcpackageUpstreamParams) error {
	_, err := q.db.ExecContext(ctx, updateSrcpackageUpstream, arg.UpstreamName, arg.UpstreamVersion, arg.UpstreamUrl, arg.ID)
	return err
}

const findSrcpackage = `SELECT ` + srcpackageColumns + ` FROM srcpackage WHERE project_id = ? AND name = ?`

type FindSrcpackageParams struct {
	ProjectID int64
	Name      string
}

func (q *Queries) FindSrcpackage(ctx context.Context, arg FindSrcpackageParams) (Srcpackage, error) {
	return scanSrcpackage(q.db.QueryRowContext(ctx, findSrcpackage, arg.ProjectID, arg.Name))
}

const listSrcpackagesByProject = `SELECT ` + srcpackageColumns + ` FROM srcpackage WHERE project_id = ? ORDER BY name`

func (q *Queries) ListSrcpackagesByProject(ctx context.Context, projectID int64) ([]Srcpackage, error) {
	rows, err := q.db.QueryContext(ctx, listSrcpackagesByProject, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Srcpackage
	for rows.Next() {
		i, err := scanSrcpackage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listAllSrcpackages = `SELECT ` + srcpackageColumns + ` FROM srcpackage ORDER BY project_id, name`

func (q *Queries) ListAllSrcpackages(ctx context.Context) ([]Srcpackage, error) {
	rows, err := q.db.QueryContext(ctx, listAllSrcpackages)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Srcpackage
	for rows.Next() {
		i, err := scanSrcpackage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteSrcpackageByID = `DELETE FROM srcpackage WHERE id = ?`

func (q *Queries) DeleteSrcpackageByID(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteSrcpackageByID, id)
	return err
}

const deleteSrcpackagesByProject = `DELETE FROM srcpackage WHERE project_id = ?`

func (q *Queries) DeleteSrcpackagesByProject(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx, deleteSrcpackagesByProject, projectID)
	return err
}
