package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/obs"
)

func projectPath(project string) string {
	return "/source/" + url.PathEscape(project)
}

func packagePath(project, pkg string) string {
	return projectPath(project) + "/" + url.PathEscape(pkg)
}

func (e *Engine) checkoutProject(ctx context.Context, project string, opts CheckoutOptions) error {
	dir := e.projectDir(project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := e.writeOptions(project, opts); err != nil {
		return err
	}

	if !opts.NoConfig {
		if err := e.refreshProjectPackageMeta(ctx, project); err != nil {
			if errors.Is(err, ErrNotFound) {
				slog.Warn("project does not exist, removing it", "project", project)
				return e.RemoveCheckoutProject(project)
			}
			e.markIncomplete()
			slog.Warn("cannot refresh project package metadata", "project", project, "err", err)
		}
	}

	mirrored, err := filesystem.SubDirs(dir)
	if err != nil {
		return err
	}

	if opts.NoConfig {
		// Devel projects are mirrored package by package.
		if opts.ForceSimple || len(mirrored) == 0 {
			return nil
		}
		return e.checkProjectStatus(ctx, project, opts)
	}

	if len(mirrored) > 0 && !opts.ForceSimple {
		err := e.checkProjectStatus(ctx, project, opts)
		if !IsBadRequest(err) {
			return err
		}
		slog.Info("project status unavailable, walking the package list", "project", project)
	}
	return e.walkProject(ctx, project, opts)
}

// writeOptions records the configuration the project was mirrored with.
func (e *Engine) writeOptions(project string, opts CheckoutOptions) error {
	o := config.ProjectOptions{NoConfig: true}
	if p := e.cfg.Project(project); p != nil && !opts.NoConfig {
		o = p.Options()
		if opts.Parent != "" {
			o.Parent = opts.Parent
		}
	}

	data, err := config.MarshalOptions(o)
	if err != nil {
		return err
	}
	_, err = filesystem.WriteIfChanged(filepath.Join(e.projectDir(project), config.OptionsFile), data)
	return err
}

// walkProject queues every package of the project list and removes the
// mirrored packages that are gone.
func (e *Engine) walkProject(ctx context.Context, project string, opts CheckoutOptions) error {
	data, err := e.client.fetch(ctx, projectPath(project), nil, metadata)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("project does not exist, removing it", "project", project)
		return e.RemoveCheckoutProject(project)
	}
	if err != nil {
		return err
	}
	listing, err := obs.ParseDirectory(data)
	if err != nil {
		return err
	}

	listed := map[string]bool{}
	for _, entry := range listing.Entries {
		listed[entry.Name] = true
		if e.cfg.Debug.MirrorOnlyNew && filesystem.IsDir(e.packageDir(project, entry.Name)) {
			continue
		}
		e.QueueCheckoutPackage(project, entry.Name, opts.Primary)
		e.QueueCheckoutPackageMeta(project, entry.Name, opts.Primary)
	}

	return e.removeUnlisted(project, listed)
}

// checkProjectStatus queues the packages whose mirrored copy is outdated
// according to the project status. Devel projects only consider the
// packages already mirrored.
func (e *Engine) checkProjectStatus(ctx context.Context, project string, opts CheckoutOptions) error {
	data, err := e.client.fetch(ctx, "/status/project/"+url.PathEscape(project), nil, metadata)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("project does not exist, removing it", "project", project)
		return e.RemoveCheckoutProject(project)
	}
	if err != nil {
		return err
	}
	status, err := obs.ParseProjectStatus(data)
	if err != nil {
		return err
	}

	listed := map[string]bool{}
	for _, ps := range status.Packages {
		listed[ps.Name] = true
		dir := e.packageDir(project, ps.Name)

		if !filesystem.IsDir(dir) {
			if opts.NoConfig {
				continue
			}
			e.QueueCheckoutPackage(project, ps.Name, opts.Primary)
			e.QueueCheckoutPackageMeta(project, ps.Name, opts.Primary)
			continue
		}
		if e.cfg.Debug.MirrorOnlyNew {
			continue
		}

		if e.packageOutdated(project, ps) {
			e.QueueCheckoutPackage(project, ps.Name, opts.Primary)
		}
		if !filesystem.FileExists(filepath.Join(dir, obs.MetaFile)) {
			e.QueueCheckoutPackageMeta(project, ps.Name, opts.Primary)
		}
	}

	return e.removeUnlisted(project, listed)
}

// packageOutdated compares the mirrored listings of a package with its entry
// in the project status.
func (e *Engine) packageOutdated(project string, ps obs.PackageStatus) bool {
	dir := e.packageDir(project, ps.Name)

	files := e.readListing(filepath.Join(dir, obs.FilesFile))
	if files == nil || files.Srcmd5 != ps.Srcmd5 {
		return true
	}

	current := files
	if ps.IsLink() {
		link, ok := files.Link()
		if !ok {
			return true
		}
		if link.Error != "" {
			return !filesystem.FileExists(filepath.Join(dir, obs.LinkFile))
		}
		expanded := e.readListing(filepath.Join(dir, obs.ExpandedFilesFile))
		if expanded == nil {
			return true
		}
		if want := ps.ExpandedMD5(); want != "" && expanded.Srcmd5 != want {
			return true
		}
		current = expanded
	}

	for _, entry := range current.Entries {
		if obs.IsSpecFile(entry.Name) && !filesystem.FileExists(filepath.Join(dir, entry.Name)) {
			return true
		}
	}
	return false
}

func (e *Engine) removeUnlisted(project string, listed map[string]bool) error {
	mirrored, err := filesystem.SubDirs(e.projectDir(project))
	if err != nil {
		return err
	}
	for _, name := range mirrored {
		if listed[name] {
			continue
		}
		slog.Info("removing package gone from the build service", "project", project, "package", name)
		if err := e.RemoveCheckoutPackage(project, name); err != nil {
			return err
		}
	}
	return nil
}

// refreshProjectPackageMeta fetches the metadata of every package of the
// project in one request and queues the devel packages it designates.
func (e *Engine) refreshProjectPackageMeta(ctx context.Context, project string) error {
	query := url.Values{"match": {fmt.Sprintf("@project='%s'", project)}}
	data, err := e.client.fetch(ctx, "/search/package", query, metadata)
	if err != nil {
		return err
	}
	collection, err := obs.ParseCollection(data)
	if err != nil {
		return err
	}
	if _, err := filesystem.WriteIfChanged(filepath.Join(e.projectDir(project), obs.PkgMetaFile), data); err != nil {
		return err
	}

	p := e.cfg.Project(project)
	if p == nil || !p.CheckoutDevelProjects {
		return nil
	}
	for i := range collection.Packages {
		if develProject, develPackage, ok := collection.Packages[i].DevelTarget(); ok {
			e.queueDevel(develProject, develPackage)
		}
	}
	return nil
}

// queueDevel queues a devel package on the secondary queue unless its project
// is configured and thus mirrored anyway.
func (e *Engine) queueDevel(project, pkg string) {
	if e.cfg.Project(project) != nil {
		return
	}

	e.mu.Lock()
	packages, known := e.devel[project]
	if !known {
		packages = map[string]bool{}
		e.devel[project] = packages
	}
	packages[pkg] = true
	e.mu.Unlock()

	if !known {
		e.QueueCheckoutProject(project, CheckoutOptions{NoConfig: true, ForceSimple: true})
	}
	e.QueueCheckoutPackage(project, pkg, false)
	e.QueueCheckoutPackageMeta(project, pkg, false)
}

func (e *Engine) markIncomplete() {
	e.mu.Lock()
	e.incompleteRun = true
	e.mu.Unlock()
}

// DevelPackages returns the devel packages discovered so far, by project.
func (e *Engine) DevelPackages() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]string, len(e.devel))
	for project, packages := range e.devel {
		for pkg := range packages {
			out[project] = append(out[project], pkg)
		}
	}
	return out
}

// PruneUnreferenced removes mirrored projects that are neither configured nor
// hosting a devel package discovered during the run, and the devel packages
// no longer designated. It only makes sense after every configured project
// was checked out, and does nothing when a project metadata refresh failed.
func (e *Engine) PruneUnreferenced() error {
	e.mu.Lock()
	incomplete := e.incompleteRun
	e.mu.Unlock()
	if incomplete {
		slog.Warn("not pruning devel projects, package metadata is incomplete")
		return nil
	}

	projects, err := filesystem.SubDirs(e.dir)
	if err != nil {
		return err
	}
	devel := e.DevelPackages()

	for _, project := range projects {
		if e.cfg.Project(project) != nil {
			continue
		}
		packages, ok := devel[project]
		if !ok {
			slog.Info("removing project no longer referenced", "project", project)
			if err := e.RemoveCheckoutProject(project); err != nil {
				return err
			}
			continue
		}

		keep := map[string]bool{}
		for _, pkg := range packages {
			keep[pkg] = true
		}
		if err := e.removeUnlisted(project, keep); err != nil {
			return err
		}
	}
	return nil
}
