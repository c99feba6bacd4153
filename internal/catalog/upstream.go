package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/upstream"
)

// UpstreamVersion is the upstream data a source package should carry.
type UpstreamVersion struct {
	Name    string
	Version string
	URL     string
}

// UpstreamChanges lists the projects with at least one package whose upstream
// data changed after since.
func (s *Store) UpstreamChanges(ctx context.Context, since int64) ([]string, error) {
	changes, err := s.GetPackagesWithUpstreamChange(ctx, since)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(changes)), nil
}

// GetPackagesWithUpstreamChange returns, per project, the packages whose
// upstream data changed after since, with their new upstream data. Only
// packages whose stored data differs are listed.
func (s *Store) GetPackagesWithUpstreamChange(ctx context.Context, since int64) (map[string]map[string]UpstreamVersion, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	out := map[string]map[string]UpstreamVersion{}
	if s.upstream == nil {
		return out, nil
	}

	changed, err := s.upstream.GetChangedPackages(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list upstream changes: %w", err)
	}
	if len(changed) == 0 {
		return out, nil
	}
	matches, err := s.upstream.NameMatches(ctx)
	if err != nil {
		return nil, err
	}
	sources := map[string][]string{}
	for src, name := range matches {
		sources[name] = append(sources[name], src)
	}

	// per branch, the source packages touched by the change
	touched := map[string]map[string]bool{}
	for branch, names := range changed {
		set := map[string]bool{}
		for _, name := range names {
			if branch == upstream.MatchBranch {
				set[name] = true
				continue
			}
			for _, src := range sources[name] {
				set[src] = true
			}
		}
		touched[branch] = set
	}

	projects, err := database.NewProjectRepository(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range projects {
		project := s.project(rec.Name)
		if project.IgnoreUpstream() {
			continue
		}
		affected := func(name string) bool {
			if touched[upstream.MatchBranch][name] {
				return true
			}
			for _, branch := range project.Branches {
				if touched[branch][name] {
					return true
				}
			}
			return false
		}

		pkgs, err := database.NewSrcPackageRepository(s.db).ListByProject(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range pkgs {
			if !affected(p.Name) {
				continue
			}
			found, ok, err := s.upstream.Lookup(ctx, project.Branches, project.IgnoreFallback, p.Name)
			if err != nil {
				return nil, err
			}
			v := UpstreamVersion{Name: found.UpstreamName}
			if ok {
				v.Version, v.URL = found.Version, found.URL
			}
			if v == (UpstreamVersion{p.UpstreamName, p.UpstreamVersion, p.UpstreamURL}) {
				continue
			}
			if out[rec.Name] == nil {
				out[rec.Name] = map[string]UpstreamVersion{}
			}
			out[rec.Name][p.Name] = v
		}
	}
	return out, nil
}

// ApplyUpstreamChanges stores the upstream data changed after since and
// returns the affected projects.
func (s *Store) ApplyUpstreamChanges(ctx context.Context, since int64) ([]string, error) {
	changes, err := s.GetPackagesWithUpstreamChange(ctx, since)
	if err != nil {
		return nil, err
	}

	err = database.InTx(ctx, s.db, func(tx *database.Context) error {
		for project, pkgs := range changes {
			projectID, err := findProjectID(ctx, tx, project)
			if err != nil {
				return err
			}
			repo := database.NewSrcPackageRepository(tx)
			for name, v := range pkgs {
				rec, err := repo.Find(ctx, projectID, name)
				if err != nil {
					return err
				}
				if err := repo.UpdateUpstream(ctx, rec.ID, v.Name, v.Version, v.URL); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply upstream changes: %w", err)
	}

	projects := slices.Sorted(maps.Keys(changes))
	slog.Info("applied upstream changes", "projects", len(projects))
	return projects, nil
}
