// Package xmlexport writes one XML document per catalog project.
package xmlexport

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/filesystem"
)

const (
	fileSuffix = ".xml"
	tmpSuffix  = ".xml.tmp"
)

// Catalog is the read side of the catalog used by the exporter.
type Catalog interface {
	Projects(ctx context.Context) ([]database.ProjectRecord, error)
	Packages(ctx context.Context, projectID int64) ([]database.SrcPackageRecord, error)
	AllPackages(ctx context.Context) ([]database.SrcPackageRecord, error)
}

// Stats counts what an export did.
type Stats struct {
	Written   int
	Unchanged int
	Removed   int
}

type pkgKey struct {
	project string
	name    string
}

type missingKey struct {
	name          string
	parentProject string
	parentPackage string
}

// Exporter writes project documents into a directory. The version and devel
// lookups are loaded on first use, so an exporter serves one run.
type Exporter struct {
	dir     string
	catalog Catalog

	loaded   bool
	projects map[string]database.ProjectRecord
	versions map[pkgKey]string
	missing  map[string][]missingKey
}

// New returns an exporter writing into dir.
func New(dir string, catalog Catalog) *Exporter {
	return &Exporter{dir: dir, catalog: catalog}
}

func (e *Exporter) load(ctx context.Context) error {
	if e.loaded {
		return nil
	}

	projects, err := e.catalog.Projects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	pkgs, err := e.catalog.AllPackages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list packages: %w", err)
	}

	e.projects = make(map[string]database.ProjectRecord, len(projects))
	names := make(map[int64]string, len(projects))
	for _, p := range projects {
		e.projects[p.Name] = p
		names[p.ID] = p.Name
	}

	e.versions = make(map[pkgKey]string, len(pkgs))
	for _, p := range pkgs {
		e.versions[pkgKey{names[p.ProjectID], p.Name}] = p.Version
	}

	e.missing = map[string][]missingKey{}
	seen := map[string]map[missingKey]bool{}
	for _, p := range pkgs {
		if p.DevelProject == "" {
			continue
		}
		if _, ok := e.projects[p.DevelProject]; !ok {
			continue
		}
		if _, ok := e.versions[pkgKey{p.DevelProject, p.DevelPackage}]; ok {
			continue
		}
		m := missingKey{name: p.DevelPackage, parentProject: names[p.ProjectID], parentPackage: p.Name}
		if seen[p.DevelProject] == nil {
			seen[p.DevelProject] = map[missingKey]bool{}
		}
		if !seen[p.DevelProject][m] {
			seen[p.DevelProject][m] = true
			e.missing[p.DevelProject] = append(e.missing[p.DevelProject], m)
		}
	}

	e.loaded = true
	return nil
}

// ExportAll writes every project and removes documents of projects that are
// no longer in the catalog.
func (e *Exporter) ExportAll(ctx context.Context) (Stats, error) {
	if err := e.load(ctx); err != nil {
		return Stats{}, err
	}

	names := make([]string, 0, len(e.projects))
	for name := range e.projects {
		names = append(names, name)
	}
	stats, err := e.ExportProjects(ctx, names)
	if err != nil {
		return stats, err
	}

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to list %s: %w", e.dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if _, ok := e.projects[strings.TrimSuffix(name, fileSuffix)]; ok {
			continue
		}
		if err := filesystem.DeleteFile(filepath.Join(e.dir, name)); err != nil {
			return stats, err
		}
		slog.Debug("removed document of vanished project", "file", name)
		stats.Removed++
	}
	return stats, nil
}

// ExportProjects writes the named projects. Names unknown to the catalog have
// their document removed.
func (e *Exporter) ExportProjects(ctx context.Context, names []string) (Stats, error) {
	var stats Stats
	if err := e.load(ctx); err != nil {
		return stats, err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return stats, fmt.Errorf("failed to create %s: %w", e.dir, err)
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, ok := e.projects[name]; !ok {
			path := filepath.Join(e.dir, name+fileSuffix)
			if filesystem.FileExists(path) {
				if err := filesystem.DeleteFile(path); err != nil {
					return stats, err
				}
				stats.Removed++
			}
			continue
		}

		changed, err := e.Export(ctx, name)
		if err != nil {
			return stats, err
		}
		if changed {
			stats.Written++
		} else {
			stats.Unchanged++
		}
	}
	return stats, nil
}

// Export writes the document of one project and reports whether the file
// changed.
func (e *Exporter) Export(ctx context.Context, name string) (bool, error) {
	if err := e.load(ctx); err != nil {
		return false, err
	}
	project, ok := e.projects[name]
	if !ok {
		return false, fmt.Errorf("project %s is not in the catalog", name)
	}

	pkgs, err := e.catalog.Packages(ctx, project.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list packages of %s: %w", name, err)
	}
	data, err := e.render(project, pkgs)
	if err != nil {
		return false, err
	}
	return publish(filepath.Join(e.dir, name+fileSuffix), filepath.Join(e.dir, name+tmpSuffix), data)
}

// Render returns the document of a project without writing it.
func (e *Exporter) Render(ctx context.Context, name string) ([]byte, error) {
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	project, ok := e.projects[name]
	if !ok {
		return nil, fmt.Errorf("project %s is not in the catalog", name)
	}
	pkgs, err := e.catalog.Packages(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return e.render(project, pkgs)
}

func (e *Exporter) render(project database.ProjectRecord, pkgs []database.SrcPackageRecord) ([]byte, error) {
	doc := projectXML{Name: project.Name, Parent: project.Parent}
	if project.IgnoreUpstream {
		doc.IgnoreUpstream = "true"
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	for _, p := range pkgs {
		doc.Packages = append(doc.Packages, e.packageNode(project, p))
	}

	if missing := e.missing[project.Name]; len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool {
			a, b := missing[i], missing[j]
			if a.name != b.name {
				return a.name < b.name
			}
			if a.parentProject != b.parentProject {
				return a.parentProject < b.parentProject
			}
			return a.parentPackage < b.parentPackage
		})
		doc.Missing = &missingXML{}
		for _, m := range missing {
			doc.Missing.Packages = append(doc.Missing.Packages, missingPackageXML{
				Name:          m.name,
				ParentProject: m.parentProject,
				ParentPackage: m.parentPackage,
			})
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", project.Name, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (e *Exporter) packageNode(project database.ProjectRecord, p database.SrcPackageRecord) packageXML {
	node := packageXML{Name: p.Name}

	version := versionXML{Current: p.Version, Upstream: p.UpstreamVersion}
	if parent, ok := e.parentOf(project, p); ok {
		node.Parent = &parentXML{Project: parent.project}
		version.Parent = e.versions[parent]
	}
	if p.DevelProject != "" {
		node.Devel = &develXML{Project: p.DevelProject, Package: p.DevelPackage}
		version.Devel = e.versions[pkgKey{p.DevelProject, p.DevelPackage}]
	}
	if version != (versionXML{}) {
		node.Version = &version
	}

	if p.UpstreamURL != "" {
		node.Upstream = &upstreamXML{URL: p.UpstreamURL}
	}

	if p.IsLink {
		node.Link = &linkXML{Project: p.LinkProject, Package: p.LinkPackage}
		if p.HasDelta != 0 {
			node.Link.Delta = "true"
		}
	} else if p.HasDelta != 0 {
		node.Delta = &struct{}{}
	}

	if p.Error != "" {
		node.Error = &errorXML{Type: p.Error, Details: p.ErrorDetails}
	}
	return node
}

// parentOf returns the package p mirrors: the same package in the parent
// project, else the target of a link into another project.
func (e *Exporter) parentOf(project database.ProjectRecord, p database.SrcPackageRecord) (pkgKey, bool) {
	if project.Parent != "" {
		key := pkgKey{project.Parent, p.Name}
		if _, ok := e.versions[key]; ok {
			return key, true
		}
	}
	if p.IsLink && p.LinkProject != project.Name {
		key := pkgKey{p.LinkProject, p.LinkPackage}
		if _, ok := e.versions[key]; ok {
			return key, true
		}
	}
	return pkgKey{}, false
}

// publish writes data to tmp and moves it over path unless path already holds
// the same bytes.
func publish(path, tmp string, data []byte) (bool, error) {
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, data) {
		return false, filesystem.DeleteFile(tmp)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("cannot read previous document, replacing it", "file", path, "err", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = filesystem.DeleteFile(tmp)
		return false, fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return true, nil
}
