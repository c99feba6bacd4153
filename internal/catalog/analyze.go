package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/obsdb/obsdb/internal/database"
)

// develTarget is the devel declaration of a package; the zero value means
// none.
type develTarget = pkgKey

// PostAnalyze recomputes the errors that depend on other packages: packages
// missing from the parent project, links whose target has another devel
// package, and devel declarations that loop.
func (s *Store) PostAnalyze(ctx context.Context) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	return s.postAnalyze(ctx, s.db)
}

func (s *Store) postAnalyze(ctx context.Context, db *database.Context) error {
	return database.InTx(ctx, db, func(tx *database.Context) error {
		projects, err := database.NewProjectRepository(tx).List(ctx)
		if err != nil {
			return err
		}
		pkgs, err := database.NewSrcPackageRepository(tx).ListAll(ctx)
		if err != nil {
			return err
		}

		names := make(map[int64]string, len(projects))
		parents := make(map[string]string, len(projects))
		for _, p := range projects {
			names[p.ID] = p.Name
			parents[p.Name] = p.Parent
		}

		devel := make(map[pkgKey]develTarget, len(pkgs))
		for _, p := range pkgs {
			key := pkgKey{names[p.ProjectID], p.Name}
			devel[key] = develTarget{p.DevelProject, p.DevelPackage}
		}

		repo := database.NewSrcPackageRepository(tx)
		changed := 0
		for _, p := range pkgs {
			project := names[p.ProjectID]
			kind, details := analyzePackage(p, project, parents[project], devel)
			if kind == p.Error && details == p.ErrorDetails {
				continue
			}
			if err := repo.UpdateError(ctx, p.ID, kind, details); err != nil {
				return fmt.Errorf("failed to record error of %s/%s: %w", project, p.Name, err)
			}
			changed++
		}
		slog.Debug("post-analysis done", "packages", len(pkgs), "changed", changed)
		return nil
	})
}

// analyzePackage returns the error kind and details p should carry.
func analyzePackage(p database.SrcPackageRecord, project, parent string, devel map[pkgKey]develTarget) (string, string) {
	kind, details := p.Error, p.ErrorDetails
	if derivedErrors[kind] {
		kind, details = "", ""
	}

	if (kind == ErrorNotLink || kind == ErrorNotLinkNotInParent) && parent != "" {
		if _, ok := devel[pkgKey{parent, p.Name}]; ok {
			kind = ErrorNotLink
		} else {
			kind = ErrorNotLinkNotInParent
		}
	}

	if kind == "" && p.IsLink && p.LinkProject != "" {
		target := pkgKey{p.LinkProject, p.LinkPackage}
		if targetDevel, ok := devel[target]; ok {
			switch {
			case targetDevel.project == "":
				kind = ErrorParentWithoutDevel
			case targetDevel != (pkgKey{project, p.Name}):
				kind = ErrorNotRealDevel
				details = "development happens in " + targetDevel.String()
			}
		}
	}

	if kind == "" {
		if chain, ok := develCycle(pkgKey{project, p.Name}, devel); ok {
			kind = ErrorDevelCycle
			details = chain
		}
	}
	return kind, details
}

// develCycle follows the devel declarations starting at key and reports the
// chain when it loops or exceeds maxDevelHops.
func develCycle(key pkgKey, devel map[pkgKey]develTarget) (string, bool) {
	chain := []string{key.String()}
	seen := map[pkgKey]bool{key: true}
	cur := key
	for hops := 0; ; hops++ {
		next, ok := devel[cur]
		if !ok || next.project == "" {
			return "", false
		}
		chain = append(chain, next.String())
		if seen[next] || hops >= maxDevelHops {
			return strings.Join(chain, " -> "), true
		}
		seen[next] = true
		cur = next
	}
}
