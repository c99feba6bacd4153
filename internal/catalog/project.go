package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/filesystem"
)

// AddProject adds a mirrored project and all its packages. A project already
// in the catalog is replaced.
func (s *Store) AddProject(ctx context.Context, name string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	delete(s.projects, name)
	return database.InTx(ctx, s.db, func(tx *database.Context) error {
		return s.addProject(ctx, tx, name)
	})
}

// RemoveProject removes a project and everything below it.
func (s *Store) RemoveProject(ctx context.Context, name string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	delete(s.projects, name)
	return database.InTx(ctx, s.db, func(tx *database.Context) error {
		return removeProject(ctx, tx, name)
	})
}

// UpdateProject replaces a project by its current mirrored state.
func (s *Store) UpdateProject(ctx context.Context, name string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	delete(s.projects, name)
	return database.InTx(ctx, s.db, func(tx *database.Context) error {
		if err := removeProject(ctx, tx, name); err != nil {
			return err
		}
		return s.addProject(ctx, tx, name)
	})
}

func (s *Store) addProject(ctx context.Context, tx *database.Context, name string) error {
	if !filesystem.IsDir(s.projectDir(name)) {
		slog.Warn("project is not mirrored, not adding it", "project", name)
		return removeProject(ctx, tx, name)
	}

	project := s.project(name)
	projects := database.NewProjectRepository(tx)

	if project.Parent != "" {
		if _, err := projects.FindByName(ctx, project.Parent); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("%w: project %s has parent %s", ErrNoParent, name, project.Parent)
			}
			return err
		}
	}

	if err := removeProject(ctx, tx, name); err != nil {
		return err
	}
	id, err := projects.Create(ctx, database.ProjectRecord{
		Name:           name,
		Parent:         project.Parent,
		IgnoreUpstream: project.IgnoreUpstream(),
	})
	if err != nil {
		return err
	}

	pkgs, err := filesystem.SubDirs(s.projectDir(name))
	if err != nil {
		return fmt.Errorf("failed to list packages of %s: %w", name, err)
	}
	for _, pkg := range pkgs {
		if err := s.insertPackage(ctx, tx, id, name, pkg); err != nil {
			return err
		}
	}
	slog.Debug("added project to catalog", "project", name, "packages", len(pkgs))
	return nil
}

func removeProject(ctx context.Context, tx *database.Context, name string) error {
	projects := database.NewProjectRepository(tx)
	rec, err := projects.FindByName(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return projects.Delete(ctx, rec.ID)
}

// AddPackage adds a mirrored package to a project of the catalog.
func (s *Store) AddPackage(ctx context.Context, project, pkg string) error {
	return s.UpdatePackage(ctx, project, pkg)
}

// UpdatePackage brings a package in line with the mirror: it is added when
// new, removed when no longer mirrored, and otherwise updated in place.
func (s *Store) UpdatePackage(ctx context.Context, project, pkg string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	return database.InTx(ctx, s.db, func(tx *database.Context) error {
		projectID, err := findProjectID(ctx, tx, project)
		if err != nil {
			return err
		}

		if !filesystem.IsDir(s.packageDir(project, pkg)) {
			return removePackage(ctx, tx, projectID, pkg)
		}

		stored, err := database.NewSrcPackageRepository(tx).Find(ctx, projectID, pkg)
		if errors.Is(err, database.ErrNotFound) {
			return s.insertPackage(ctx, tx, projectID, project, pkg)
		}
		if err != nil {
			return err
		}
		return s.updatePackage(ctx, tx, stored, project, pkg)
	})
}

// RemovePackage removes a package and its children.
func (s *Store) RemovePackage(ctx context.Context, project, pkg string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	return database.InTx(ctx, s.db, func(tx *database.Context) error {
		projectID, err := findProjectID(ctx, tx, project)
		if errors.Is(err, ErrNoParent) {
			return nil
		}
		if err != nil {
			return err
		}
		return removePackage(ctx, tx, projectID, pkg)
	})
}

func findProjectID(ctx context.Context, tx *database.Context, project string) (int64, error) {
	rec, err := database.NewProjectRepository(tx).FindByName(ctx, project)
	if errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("%w: project %s", ErrNoParent, project)
	}
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (s *Store) insertPackage(ctx context.Context, tx *database.Context, projectID int64, project, pkg string) error {
	p, err := s.readPackage(ctx, s.project(project), pkg)
	if err != nil {
		slog.Warn("skipping unreadable package", "project", project, "package", pkg, "err", err)
		return nil
	}
	p.ProjectID = projectID

	id, err := database.NewSrcPackageRepository(tx).Create(ctx, p.SrcPackageRecord)
	if err != nil {
		return err
	}
	return syncChildren(ctx, tx, id, p)
}

func (s *Store) updatePackage(ctx context.Context, tx *database.Context, stored *database.SrcPackageRecord, project, pkg string) error {
	p, err := s.readPackage(ctx, s.project(project), pkg)
	if err != nil {
		slog.Warn("skipping unreadable package", "project", project, "package", pkg, "err", err)
		return nil
	}
	p.ID, p.ProjectID = stored.ID, stored.ProjectID

	if p.SrcPackageRecord != *stored {
		if err := database.NewSrcPackageRepository(tx).Update(ctx, p.SrcPackageRecord); err != nil {
			return err
		}
	}
	return syncChildren(ctx, tx, stored.ID, p)
}

func removePackage(ctx context.Context, tx *database.Context, projectID int64, pkg string) error {
	repo := database.NewSrcPackageRepository(tx)
	rec, err := repo.Find(ctx, projectID, pkg)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return repo.Delete(ctx, rec.ID)
}

// Reconcile makes the catalog projects and packages match the project and
// package directories of the mirror. Packages whose mirrored srcmd5 differs
// from the stored one are read again. It returns the projects it changed.
func (s *Store) Reconcile(ctx context.Context) ([]string, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}

	names, err := s.projectNames()
	if err != nil {
		return nil, err
	}
	onDisk := map[string]bool{}
	for _, name := range names {
		if filesystem.IsDir(s.projectDir(name)) {
			onDisk[name] = true
		}
	}

	stored, err := database.NewProjectRepository(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	var changed []string
	known := map[string]database.ProjectRecord{}
	for _, p := range stored {
		if !onDisk[p.Name] {
			slog.Info("removing project no longer mirrored", "project", p.Name)
			if err := s.RemoveProject(ctx, p.Name); err != nil {
				return nil, err
			}
			changed = append(changed, p.Name)
			continue
		}
		known[p.Name] = p
	}

	for _, name := range names {
		if !onDisk[name] {
			continue
		}
		rec, ok := known[name]
		if !ok {
			slog.Info("adding project found in mirror", "project", name)
			err := s.AddProject(ctx, name)
			if errors.Is(err, ErrNoParent) {
				slog.Warn("skipping project", "project", name, "err", err)
				continue
			}
			if err != nil {
				return nil, err
			}
			changed = append(changed, name)
			continue
		}
		n, err := s.reconcilePackages(ctx, rec)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			changed = append(changed, name)
		}
	}
	return changed, nil
}

func (s *Store) reconcilePackages(ctx context.Context, project database.ProjectRecord) (int, error) {
	dirs, err := filesystem.SubDirs(s.projectDir(project.Name))
	if err != nil {
		return 0, err
	}
	pkgs, err := database.NewSrcPackageRepository(s.db).ListByProject(ctx, project.ID)
	if err != nil {
		return 0, err
	}

	stored := map[string]bool{}
	for _, p := range pkgs {
		stored[p.Name] = true
	}
	onDisk := map[string]bool{}
	for _, d := range dirs {
		onDisk[d] = true
	}

	n := 0
	for _, p := range pkgs {
		switch {
		case !onDisk[p.Name]:
			if err := s.RemovePackage(ctx, project.Name, p.Name); err != nil {
				return n, err
			}
		case s.mirroredSrcmd5(project.Name, p.Name) != p.Srcmd5:
			slog.Debug("refreshing package changed in mirror", "project", project.Name, "package", p.Name)
			if err := s.UpdatePackage(ctx, project.Name, p.Name); err != nil {
				return n, err
			}
		default:
			continue
		}
		n++
	}
	for _, d := range dirs {
		if !stored[d] {
			if err := s.AddPackage(ctx, project.Name, d); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Projects lists the catalog projects by name.
func (s *Store) Projects(ctx context.Context) ([]database.ProjectRecord, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	projects, err := database.NewProjectRepository(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// Packages lists the source packages of a project by name.
func (s *Store) Packages(ctx context.Context, projectID int64) ([]database.SrcPackageRecord, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	pkgs, err := database.NewSrcPackageRepository(s.db).ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

// Package returns one source package.
func (s *Store) Package(ctx context.Context, project, pkg string) (*database.SrcPackageRecord, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	projectID, err := findProjectID(ctx, s.db, project)
	if err != nil {
		return nil, err
	}
	return database.NewSrcPackageRepository(s.db).Find(ctx, projectID, pkg)
}

// Children returns the child rows of a source package.
func (s *Store) Children(ctx context.Context, id int64) (*Package, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	repo := database.NewChildRepository(s.db)
	p := &Package{}
	var err error
	if p.BinaryPackages, err = repo.ListBinaryPackages(ctx, id); err != nil {
		return nil, err
	}
	if p.Sources, err = repo.ListSources(ctx, id); err != nil {
		return nil, err
	}
	if p.Patches, err = repo.ListPatches(ctx, id); err != nil {
		return nil, err
	}
	if p.Files, err = repo.ListFiles(ctx, id); err != nil {
		return nil, err
	}
	if p.Rpmlint, err = repo.ListRpmlint(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// AllPackages lists every source package of the catalog.
func (s *Store) AllPackages(ctx context.Context) ([]database.SrcPackageRecord, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return database.NewSrcPackageRepository(s.db).ListAll(ctx)
}

// Counts summarises every project of the catalog.
func (s *Store) Counts(ctx context.Context) ([]database.ProjectCounts, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return database.NewProjectRepository(s.db).CountPackages(ctx)
}
