// Package catalog keeps the relational model of the mirrored projects in
// obs.db: source packages, their binary packages, sources, patches, files and
// rpmlint findings, plus the errors derived from them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/obsdb/obsdb/db/migrations"
	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/upstream"
)

// Schema version of obs.db. A different major version forces a rebuild.
const (
	VersionMajor = 4
	VersionMinor = 0
)

var (
	// ErrNoParent is returned when a row is inserted below a project (or a
	// parent project) that is not in the catalog.
	ErrNoParent = errors.New("catalog: parent not in catalog")
	// ErrVersionMismatch is returned when opening a catalog written with
	// another schema version.
	ErrVersionMismatch = errors.New("catalog: schema version mismatch")
)

// Upstream provides the upstream versions of source packages.
type Upstream interface {
	Lookup(ctx context.Context, branches []string, ignoreFallback bool, srcPackage string) (upstream.Lookup, bool, error)
	NameMatches(ctx context.Context) (map[string]string, error)
	GetChangedPackages(ctx context.Context, since int64) (map[string][]string, error)
}

// Store is the catalog file of a cache directory.
type Store struct {
	cfg       *config.Config
	path      string
	mirrorDir string
	upstream  Upstream
	db        *database.Context

	projects map[string]*config.Project
}

// New returns the catalog of cfg. up may be nil, in which case no upstream
// data is recorded.
func New(cfg *config.Config, up Upstream) *Store {
	return &Store{
		cfg:       cfg,
		path:      cfg.CatalogPath(),
		mirrorDir: cfg.MirrorDir(),
		upstream:  up,
		projects:  map[string]*config.Project{},
	}
}

func catalogMigrations() database.Migrations {
	return database.Migrations{FS: migrations.Files, Dir: migrations.CatalogDir}
}

// Open opens the existing catalog. It fails with ErrVersionMismatch when the
// stored schema version differs.
func (s *Store) Open(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if !filesystem.FileExists(s.path) {
		return fmt.Errorf("catalog %s does not exist", s.path)
	}

	db, err := database.Open(s.path, catalogMigrations())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	major, minor, err := database.NewVersionRepository(db).Get(ctx)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		_ = database.Close(db)
		return fmt.Errorf("failed to read catalog version: %w", err)
	}
	if major != VersionMajor {
		_ = database.Close(db)
		return fmt.Errorf("%w: found %d.%d, want %d.%d", ErrVersionMismatch, major, minor, VersionMajor, VersionMinor)
	}

	s.db = db
	return nil
}

// Close closes the catalog.
func (s *Store) Close() error {
	db := s.db
	s.db = nil
	return database.Close(db)
}

// Exists reports whether the catalog file is present, has the current schema
// version and holds at least one project.
func (s *Store) Exists(ctx context.Context) bool {
	if err := s.Open(ctx); err != nil {
		slog.Debug("catalog not usable", "err", err)
		return false
	}
	count, err := database.NewProjectRepository(s.db).Count(ctx)
	if err != nil {
		slog.Warn("failed to count catalog projects", "err", err)
		return false
	}
	return count > 0
}

// Rebuild writes a new catalog from the mirror tree into <file>.new and
// renames it over the current one on success.
func (s *Store) Rebuild(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}

	tmp := s.path + ".new"
	if err := filesystem.DeleteFile(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := database.Open(tmp, catalogMigrations())
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}

	err = s.fill(ctx, db)
	if closeErr := database.Close(db); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = filesystem.DeleteFile(tmp)
		return err
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to publish catalog: %w", err)
	}
	return s.Open(ctx)
}

func (s *Store) fill(ctx context.Context, db *database.Context) error {
	if err := database.NewVersionRepository(db).Set(ctx, VersionMajor, VersionMinor); err != nil {
		return fmt.Errorf("failed to write catalog version: %w", err)
	}

	names, err := s.projectNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := database.InTx(ctx, db, func(tx *database.Context) error {
			return s.addProject(ctx, tx, name)
		})
		if errors.Is(err, ErrNoParent) {
			slog.Warn("skipping project whose parent is not mirrored", "project", name, "err", err)
			continue
		}
		if err != nil {
			return err
		}
	}

	return s.postAnalyze(ctx, db)
}

// projectNames lists the projects the catalog covers, parents before their
// children: configured projects in configuration order, then the other
// mirrored projects sorted by name. Parents found through option snapshots
// are pulled in front of their children.
func (s *Store) projectNames() ([]string, error) {
	dirs, err := filesystem.SubDirs(s.mirrorDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrored projects: %w", err)
	}

	var names []string
	added := map[string]bool{}
	var visit func(name string, depth int)
	visit = func(name string, depth int) {
		if added[name] || depth > maxDevelHops {
			return
		}
		added[name] = true
		if parent := s.project(name).Parent; parent != "" {
			visit(parent, depth+1)
		}
		names = append(names, name)
	}

	for _, name := range s.cfg.ProjectNames() {
		visit(name, 0)
	}
	for _, dir := range dirs {
		visit(dir, 0)
	}
	return names, nil
}

// project returns the configuration of a project, falling back to the option
// snapshot of the mirror for projects that are not configured.
func (s *Store) project(name string) *config.Project {
	if p := s.cfg.Project(name); p != nil {
		return p
	}
	if p, ok := s.projects[name]; ok {
		return p
	}

	opts, err := config.ReadOptions(filepath.Join(s.mirrorDir, name, config.OptionsFile))
	if err != nil {
		slog.Warn("unreadable project options, using defaults", "project", name, "err", err)
		opts = config.ProjectOptions{NoConfig: true}
	}
	p := opts.AsProject(name)
	s.projects[name] = p
	return p
}

func (s *Store) projectDir(project string) string {
	return filepath.Join(s.mirrorDir, project)
}

func (s *Store) packageDir(project, pkg string) string {
	return filepath.Join(s.mirrorDir, project, pkg)
}

func (s *Store) requireOpen() error {
	if s.db == nil {
		return fmt.Errorf("catalog is not open")
	}
	return nil
}
