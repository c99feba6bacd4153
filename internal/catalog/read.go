package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/obs"
	"github.com/obsdb/obsdb/internal/rpmlint"
	"github.com/obsdb/obsdb/internal/specfile"
)

// mirroredSrcmd5 returns the srcmd5 of the listing readPackage would use, or
// "" when the package has no readable listing.
func (s *Store) mirroredSrcmd5(project, name string) string {
	dir := s.packageDir(project, name)
	files, err := obs.ReadDirectory(filepath.Join(dir, obs.FilesFile))
	if err != nil {
		return ""
	}
	if expanded, err := obs.ReadDirectory(filepath.Join(dir, obs.ExpandedFilesFile)); err == nil {
		return expanded.Srcmd5
	}
	return files.Srcmd5
}

// readPackage builds the catalog view of a mirrored package directory.
func (s *Store) readPackage(ctx context.Context, project *config.Project, name string) (*Package, error) {
	dir := s.packageDir(project.Name, name)

	files, err := obs.ReadDirectory(filepath.Join(dir, obs.FilesFile))
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", project.Name, name, err)
	}
	listing := files
	if expanded, err := obs.ReadDirectory(filepath.Join(dir, obs.ExpandedFilesFile)); err == nil {
		listing = expanded
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable expanded listing", "project", project.Name, "package", name, "err", err)
	}

	p := &Package{}
	p.Name = name
	p.Srcmd5 = listing.Srcmd5

	if link, ok := files.Link(); ok {
		s.readLink(p, project, dir, link)
	} else if project.Parent != "" {
		p.Error = ErrorNotLink
		p.HasDelta = s.nonLinkDelta(project, name, listing)
	}

	for _, entry := range listing.Entries {
		p.Files = append(p.Files, database.FileRecord{Filename: entry.Name, Mtime: entry.Mtime})
	}

	if spec := bestSpec(name, listing, dir); spec != "" {
		if err := readSpec(p, filepath.Join(dir, spec)); err != nil {
			slog.Warn("cannot parse spec file", "project", project.Name, "package", name, "spec", spec, "err", err)
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, obs.MetaFile)); err == nil {
		meta, err := obs.ParsePackageMeta(data)
		if err != nil {
			slog.Warn("cannot parse package metadata", "project", project.Name, "package", name, "err", err)
		} else if develProject, develPackage, ok := meta.DevelTarget(); ok {
			p.DevelProject, p.DevelPackage = develProject, develPackage
		}
	}

	if s.cfg.RpmlintEnabled() {
		readRpmlint(p, filepath.Join(dir, obs.RpmlintFile))
	}

	if !project.IgnoreUpstream() && s.upstream != nil {
		found, ok, err := s.upstream.Lookup(ctx, project.Branches, project.IgnoreFallback, name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up upstream data of %s: %w", name, err)
		}
		p.UpstreamName = found.UpstreamName
		if ok {
			p.UpstreamVersion, p.UpstreamURL = found.Version, found.URL
		}
	}

	return p, nil
}

func (s *Store) readLink(p *Package, project *config.Project, dir string, info obs.LinkInfo) {
	p.IsLink = true
	p.LinkProject, p.LinkPackage = info.Project, info.Package

	if data, err := os.ReadFile(filepath.Join(dir, obs.LinkFile)); err == nil {
		link, err := obs.ParseLink(data)
		if err != nil {
			slog.Warn("cannot parse link", "project", project.Name, "package", p.Name, "err", err)
		} else {
			if p.LinkProject == "" {
				p.LinkProject = link.Project
			}
			if p.LinkPackage == "" {
				p.LinkPackage = link.Package
			}
			if link.HasPatches() {
				p.HasDelta = DeltaLink
			}
		}
	}
	if p.LinkProject == "" {
		p.LinkProject = project.Name
	}
	if p.LinkPackage == "" {
		p.LinkPackage = p.Name
	}

	switch {
	case info.Error == "":
	case strings.Contains(info.Error, "does not exist in project"):
		p.Error, p.ErrorDetails = ErrorNotInParent, info.Error
	case strings.Contains(info.Error, "could not apply patch"):
		p.Error, p.ErrorDetails = ErrorNeedMergeWithParent, info.Error
	default:
		p.ErrorDetails = info.Error
	}

	if project.ForceProjectParent && p.LinkProject != project.Parent && p.LinkProject != project.Name {
		slog.Debug("dropping link outside of the parent project", "project", project.Name, "package", p.Name, "target", p.LinkProject)
		p.IsLink = false
		p.LinkProject, p.LinkPackage = "", ""
		p.HasDelta = DeltaNone
		p.Error, p.ErrorDetails = "", ""
		if project.Parent != "" {
			p.Error = ErrorNotLink
		}
	}
}

// nonLinkDelta compares the listing of a plain package with the one of the
// same package in the parent project. A package missing from the parent has
// no delta; PostAnalyze reports it instead.
func (s *Store) nonLinkDelta(project *config.Project, name string, listing *obs.Directory) int {
	parentDir := s.packageDir(project.Parent, name)
	parent, err := obs.ReadDirectory(filepath.Join(parentDir, obs.ExpandedFilesFile))
	if err != nil {
		parent, err = obs.ReadDirectory(filepath.Join(parentDir, obs.FilesFile))
	}
	if err != nil {
		return DeltaNone
	}

	dir := s.packageDir(project.Name, name)
	differs := func(a obs.Entry, b obs.Entry, ok bool) bool {
		if project.LenientDelta && strings.HasSuffix(a.Name, ".changes") {
			return false
		}
		if ok && a.MD5 == b.MD5 {
			return false
		}
		if ok && project.LenientDelta && obs.IsSpecFile(a.Name) {
			return !lenientSpecEqual(filepath.Join(dir, a.Name), filepath.Join(parentDir, a.Name))
		}
		return true
	}

	for _, entry := range listing.Entries {
		other, ok := parent.Entry(entry.Name)
		if differs(entry, other, ok) {
			return DeltaNoLink
		}
	}
	for _, entry := range parent.Entries {
		if _, ok := listing.Entry(entry.Name); !ok && differs(entry, obs.Entry{}, false) {
			return DeltaNoLink
		}
	}
	return DeltaNone
}

func lenientSpecEqual(a, b string) bool {
	contentA, err := os.ReadFile(a)
	if err != nil {
		return false
	}
	contentB, err := os.ReadFile(b)
	if err != nil {
		return false
	}
	return specfile.LenientEqual(contentA, contentB)
}

// bestSpec picks the spec file describing the package: <name>.spec, then a
// service-generated _service:*:<name>.spec, then the newest one.
func bestSpec(name string, listing *obs.Directory, dir string) string {
	var specs []obs.Entry
	for _, entry := range listing.Entries {
		if obs.IsSpecFile(entry.Name) {
			specs = append(specs, entry)
		}
	}
	if len(specs) == 0 {
		return ""
	}

	exact := name + ".spec"
	candidate := ""
	for _, entry := range specs {
		if entry.Name == exact {
			candidate = entry.Name
			break
		}
		if strings.HasPrefix(entry.Name, "_service:") && strings.HasSuffix(entry.Name, ":"+exact) && candidate == "" {
			candidate = entry.Name
		}
	}
	if candidate == "" {
		sort.SliceStable(specs, func(i, j int) bool {
			if specs[i].Mtime != specs[j].Mtime {
				return specs[i].Mtime > specs[j].Mtime
			}
			return specs[i].Name < specs[j].Name
		})
		candidate = specs[0].Name
	}

	if _, err := os.Stat(filepath.Join(dir, candidate)); err != nil {
		return ""
	}
	return candidate
}

func readSpec(p *Package, path string) error {
	spec, err := specfile.ParseFile(path)
	if err != nil {
		return err
	}
	p.Version = spec.Version

	seen := map[string]bool{}
	for _, bin := range spec.Packages {
		if bin.Name == "" || seen[bin.Name] {
			continue
		}
		seen[bin.Name] = true
		p.BinaryPackages = append(p.BinaryPackages, database.BinaryPackageRecord{
			Name:        bin.Name,
			Summary:     bin.Summary,
			Description: bin.Description,
		})
	}
	for _, src := range spec.Sources {
		p.Sources = append(p.Sources, database.SourceRecord{Filename: src.Filename, NbInPack: src.Number})
	}
	for _, patch := range spec.Patches {
		p.Patches = append(p.Patches, database.PatchRecord{
			Filename:    patch.Filename,
			NbInPack:    patch.Number,
			ApplyOrder:  patch.ApplyOrder,
			Disabled:    patch.Disabled,
			Tag:         patch.Tag,
			TagFilename: patch.TagFilename,
			ShortDescr:  patch.ShortDescr,
			Descr:       patch.Descr,
			Bnc:         patch.Bnc,
			Bgo:         patch.Bgo,
			Bmo:         patch.Bmo,
			Bln:         patch.Bln,
			Brc:         patch.Brc,
			Fate:        patch.Fate,
			Cve:         patch.Cve,
		})
	}
	return nil
}

func readRpmlint(p *Package, path string) {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("cannot open rpmlint report", "package", p.Name, "err", err)
		}
		return
	}
	defer f.Close()

	reports, err := rpmlint.Parse(f)
	if err != nil {
		slog.Warn("cannot parse rpmlint report", "package", p.Name, "err", err)
		return
	}
	for _, r := range reports {
		p.Rpmlint = append(p.Rpmlint, database.RpmlintRecord{
			Level:  r.Level,
			Type:   r.Type,
			Detail: strings.TrimSpace(r.Binary + " " + r.Detail),
			Descr:  r.Descr,
		})
	}
}
