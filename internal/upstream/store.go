package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/obsdb/obsdb/db/migrations"
	"github.com/obsdb/obsdb/internal/database"
)

// MatchBranch is the key under which GetChangedPackages reports source
// packages whose name match changed.
const MatchBranch = "@match"

// Lookup is the upstream data of a source package.
type Lookup struct {
	Branch       string
	UpstreamName string
	Version      string
	URL          string
}

// Store is upstream.db.
type Store struct {
	db   *database.Context
	repo *database.UpstreamRepository
}

// Open opens (creating it if needed) the upstream store at path.
func Open(path string) (*Store, error) {
	db, err := database.Open(path, database.Migrations{FS: migrations.Files, Dir: migrations.UpstreamDir})
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream store: %w", err)
	}
	return &Store{db: db, repo: database.NewUpstreamRepository(db)}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return database.Close(s.db)
}

type branchFile struct {
	name  string
	path  string
	mtime int64
}

// Update synchronises the store with the text files of dir. Rows keep their
// updated_at unless their content changed; changed rows take the mtime of the
// file they come from, so GetChangedPackages can be asked for changes after a
// previously seen mtime.
func (s *Store) Update(ctx context.Context, dir string) error {
	matchPath := filepath.Join(dir, MatchFile)
	matchMtime, matches, err := readMatches(matchPath)
	if err != nil {
		return err
	}

	files, err := listBranchFiles(dir)
	if err != nil {
		return err
	}

	return database.InTx(ctx, s.db, func(tx *database.Context) error {
		repo := database.NewUpstreamRepository(tx)

		if err := s.syncMatches(ctx, repo, matches, matchMtime); err != nil {
			return err
		}

		seen := map[string]bool{MatchBranch: true}
		for _, f := range files {
			seen[f.name] = true
			if err := s.syncBranch(ctx, repo, f, matches, max(f.mtime, matchMtime)); err != nil {
				return err
			}
		}

		branches, err := repo.ListBranches(ctx)
		if err != nil {
			return err
		}
		// a dropped branch has no file left to date it: stamp it after every
		// mtime seen so far so a query from the previous upstream mtime sees it
		stamp := matchMtime
		for _, f := range files {
			stamp = max(stamp, f.mtime)
		}
		for _, b := range branches {
			stamp = max(stamp, b.Mtime)
		}
		for _, b := range branches {
			if seen[b.Name] {
				continue
			}
			if err := dropBranch(ctx, repo, b, stamp+1); err != nil {
				return err
			}
		}
		return nil
	})
}

func readMatches(path string) (int64, []Match, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("no upstream name-match file", "path", path)
			return 0, nil, nil
		}
		return 0, nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	matches, err := ParseMatches(f)
	if err != nil {
		return 0, nil, err
	}
	return info.ModTime().Unix(), matches, nil
}

func listBranchFiles(dir string) ([]branchFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list upstream directory: %w", err)
	}

	var files []branchFile
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || name == MatchFile || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, branchFile{
			name:  strings.TrimSuffix(name, ".txt"),
			path:  filepath.Join(dir, name),
			mtime: info.ModTime().Unix(),
		})
	}
	return files, nil
}

func (s *Store) syncMatches(ctx context.Context, repo *database.UpstreamRepository, matches []Match, mtime int64) error {
	existing, err := repo.ListNameMatches(ctx)
	if err != nil {
		return err
	}
	old := make(map[string]string, len(existing))
	for _, m := range existing {
		old[m.SrcPackage] = m.UpstreamName
	}

	current := make(map[string]bool, len(matches))
	for _, m := range matches {
		if current[m.SrcPackage] {
			slog.Warn("source package matched twice, keeping the first match", "package", m.SrcPackage)
			continue
		}
		current[m.SrcPackage] = true

		if name, ok := old[m.SrcPackage]; ok && name == m.UpstreamName {
			continue
		}
		if err := repo.SaveNameMatch(ctx, database.NameMatchRecord{SrcPackage: m.SrcPackage, UpstreamName: m.UpstreamName, UpdatedAt: mtime}); err != nil {
			return err
		}
		if err := repo.ClearRemoved(ctx, MatchBranch, m.SrcPackage); err != nil {
			return err
		}
	}

	for src := range old {
		if current[src] {
			continue
		}
		if err := repo.DeleteNameMatch(ctx, src); err != nil {
			return err
		}
		if err := repo.MarkRemoved(ctx, MatchBranch, src, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) syncBranch(ctx context.Context, repo *database.UpstreamRepository, f branchFile, matches []Match, mtime int64) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	records, err := ParseBranch(file)
	_ = file.Close()
	if err != nil {
		return fmt.Errorf("failed to read branch %s: %w", f.name, err)
	}
	records = fanOut(records, matches)

	branch, err := repo.Branch(ctx, f.name)
	if err != nil {
		return err
	}
	existing, err := repo.ListByBranch(ctx, branch)
	if err != nil {
		return err
	}
	old := make(map[string]database.UpstreamRecord, len(existing))
	for _, rec := range existing {
		old[rec.Name] = rec
	}

	current := make(map[string]bool, len(records))
	for _, rec := range records {
		if current[rec.Name] {
			slog.Debug("duplicate upstream name, keeping the first line", "branch", f.name, "name", rec.Name)
			continue
		}
		current[rec.Name] = true

		prev, ok := old[rec.Name]
		switch {
		case !ok:
			err = repo.Create(ctx, branch.ID, database.UpstreamRecord{
				Name:       rec.Name,
				Version:    rec.Version,
				URL:        rec.URL,
				IsFallback: rec.IsFallback,
				UpdatedAt:  mtime,
			})
			if err == nil {
				err = repo.ClearRemoved(ctx, f.name, rec.Name)
			}
		case prev.Version != rec.Version || prev.URL != rec.URL || prev.IsFallback != rec.IsFallback:
			prev.Version, prev.URL, prev.IsFallback, prev.UpdatedAt = rec.Version, rec.URL, rec.IsFallback, mtime
			err = repo.Update(ctx, prev)
		}
		if err != nil {
			return fmt.Errorf("failed to store %s in branch %s: %w", rec.Name, f.name, err)
		}
	}

	for name, rec := range old {
		if current[name] {
			continue
		}
		if err := repo.Delete(ctx, rec.ID); err != nil {
			return err
		}
		if err := repo.MarkRemoved(ctx, f.name, name, mtime); err != nil {
			return err
		}
	}

	return repo.SetBranchMtime(ctx, branch.ID, f.mtime)
}

func dropBranch(ctx context.Context, repo *database.UpstreamRepository, b database.BranchRecord, stamp int64) error {
	records, err := repo.ListByBranch(ctx, b)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := repo.MarkRemoved(ctx, b.Name, rec.Name, stamp); err != nil {
			return err
		}
	}
	slog.Info("upstream branch file removed", "branch", b.Name)
	return repo.DeleteBranch(ctx, b.ID)
}

// NameMatches returns the source package to upstream name table.
func (s *Store) NameMatches(ctx context.Context) (map[string]string, error) {
	matches, err := s.repo.ListNameMatches(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[m.SrcPackage] = m.UpstreamName
	}
	return out, nil
}

// Lookup returns the upstream data of srcPackage from the first of branches
// that knows it. Fallback records are skipped with ignoreFallback.
func (s *Store) Lookup(ctx context.Context, branches []string, ignoreFallback bool, srcPackage string) (Lookup, bool, error) {
	match, err := s.repo.FindNameMatch(ctx, srcPackage)
	if errors.Is(err, database.ErrNotFound) {
		return Lookup{}, false, nil
	}
	if err != nil {
		return Lookup{}, false, err
	}

	for _, branch := range branches {
		rec, err := s.repo.Find(ctx, branch, match.UpstreamName)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return Lookup{}, false, err
		}
		if rec.IsFallback && ignoreFallback {
			continue
		}
		return Lookup{Branch: branch, UpstreamName: match.UpstreamName, Version: rec.Version, URL: rec.URL}, true, nil
	}
	return Lookup{UpstreamName: match.UpstreamName}, false, nil
}

// GetChangedPackages lists, per branch, the upstream names updated or removed
// after since. Source packages whose name match changed are listed under
// MatchBranch.
func (s *Store) GetChangedPackages(ctx context.Context, since int64) (map[string][]string, error) {
	changed, err := s.repo.ChangedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	matched, err := s.repo.NameMatchesChangedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	for _, c := range changed {
		out[c.Branch] = append(out[c.Branch], c.Name)
	}
	out[MatchBranch] = append(out[MatchBranch], matched...)
	if len(out[MatchBranch]) == 0 {
		delete(out, MatchBranch)
	}
	for branch := range out {
		slices.Sort(out[branch])
		out[branch] = slices.Compact(out[branch])
	}
	return out, nil
}
