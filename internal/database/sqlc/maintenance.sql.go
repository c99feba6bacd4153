package sqldb

import "context"

// Child rows are owned by the application: deleting a source package or a
// project goes through these statements first.

var deleteChildrenOfSrcpackage = []string{
	`DELETE FROM package WHERE srcpackage_id = ?`,
	`DELETE FROM source WHERE srcpackage_id = ?`,
	`DELETE FROM patch WHERE srcpackage_id = ?`,
	`DELETE FROM file WHERE srcpackage_id = ?`,
	`DELETE FROM rpmlint WHERE srcpackage_id = ?`,
}

func (q *Queries) DeleteChildrenOfSrcpackage(ctx context.Context, srcpackageID int64) error {
	for _, stmt := range deleteChildrenOfSrcpackage {
		if _, err := q.db.ExecContext(ctx, stmt, srcpackageID); err != nil {
			return err
		}
	}
	return nil
}

var deleteChildrenOfProject = []string{
	`DELETE FROM package WHERE srcpackage_id IN (SELECT id FROM srcpackage WHERE project_id = ?)`,
	`DELETE FROM source WHERE srcpackage_id IN (SELECT id FROM srcpackage WHERE project_id = ?)`,
	`DELETE FROM patch WHERE srcpackage_id IN (SELECT id FROM srcpackage WHERE project_id = ?)`,
	`DELETE FROM file WHERE srcpackage_id IN (SELECT id FROM srcpackage WHERE project_id = ?)`,
	`DELETE FROM rpmlint WHERE srcpackage_id IN (SELECT id FROM srcpackage WHERE project_id = ?)`,
}

func (q *Queries) DeleteChildrenOfProject(ctx context.Context, projectID int64) error {
	for _, stmt := range deleteChildrenOfProject {
		if _, err := q.db.ExecContext(ctx, stmt, projectID); err != nil {
			return err
		}
	}
	return nil
}
