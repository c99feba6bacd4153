package catalog

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/obsdb/obsdb/internal/database"
)

// rowSync replaces a stored child collection by a fresh one. Both sides are
// sorted by key and walked in lock-step so unchanged rows keep their id.
type rowSync[T any] struct {
	key    func(T) string
	equal  func(stored, fresh T) bool
	create func(T) error
	// update is nil for collections that are only added to and removed from.
	update func(stored, fresh T) error
	remove func(T) error
}

func (s rowSync[T]) apply(stored, fresh []T) error {
	byKey := func(a, b T) int { return cmp.Compare(s.key(a), s.key(b)) }
	stored = slices.Clone(stored)
	fresh = slices.Clone(fresh)
	slices.SortStableFunc(stored, byKey)
	slices.SortStableFunc(fresh, byKey)

	i, j := 0, 0
	for i < len(stored) || j < len(fresh) {
		switch {
		case j >= len(fresh) || (i < len(stored) && s.key(stored[i]) < s.key(fresh[j])):
			if err := s.remove(stored[i]); err != nil {
				return err
			}
			i++
		case i >= len(stored) || s.key(stored[i]) > s.key(fresh[j]):
			if err := s.create(fresh[j]); err != nil {
				return err
			}
			j++
		default:
			if !s.equal(stored[i], fresh[j]) {
				if err := s.replace(stored[i], fresh[j]); err != nil {
					return err
				}
			}
			i++
			j++
		}
	}
	return nil
}

func (s rowSync[T]) replace(stored, fresh T) error {
	if s.update != nil {
		return s.update(stored, fresh)
	}
	if err := s.remove(stored); err != nil {
		return err
	}
	return s.create(fresh)
}

// syncChildren brings the children of a stored source package in line with p.
func syncChildren(ctx context.Context, tx *database.Context, id int64, p *Package) error {
	repo := database.NewChildRepository(tx)

	binaries, err := repo.ListBinaryPackages(ctx, id)
	if err != nil {
		return err
	}
	err = rowSync[database.BinaryPackageRecord]{
		key: func(r database.BinaryPackageRecord) string { return r.Name },
		equal: func(a, b database.BinaryPackageRecord) bool {
			return a.Summary == b.Summary && a.Description == b.Description
		},
		create: func(r database.BinaryPackageRecord) error {
			r.SrcPackageID = id
			return repo.CreateBinaryPackage(ctx, r)
		},
		update: func(stored, fresh database.BinaryPackageRecord) error {
			fresh.ID, fresh.SrcPackageID = stored.ID, id
			return repo.UpdateBinaryPackage(ctx, fresh)
		},
		remove: func(r database.BinaryPackageRecord) error { return repo.DeleteBinaryPackage(ctx, r.ID) },
	}.apply(binaries, p.BinaryPackages)
	if err != nil {
		return fmt.Errorf("failed to sync binary packages of %s: %w", p.Name, err)
	}

	sources, err := repo.ListSources(ctx, id)
	if err != nil {
		return err
	}
	err = rowSync[database.SourceRecord]{
		key:   func(r database.SourceRecord) string { return r.Filename },
		equal: func(a, b database.SourceRecord) bool { return a.NbInPack == b.NbInPack },
		create: func(r database.SourceRecord) error {
			r.SrcPackageID = id
			return repo.CreateSource(ctx, r)
		},
		remove: func(r database.SourceRecord) error { return repo.DeleteSource(ctx, r.ID) },
	}.apply(sources, p.Sources)
	if err != nil {
		return fmt.Errorf("failed to sync sources of %s: %w", p.Name, err)
	}

	patches, err := repo.ListPatches(ctx, id)
	if err != nil {
		return err
	}
	err = rowSync[database.PatchRecord]{
		key: func(r database.PatchRecord) string { return r.Filename },
		equal: func(a, b database.PatchRecord) bool {
			a.ID, a.SrcPackageID, b.ID, b.SrcPackageID = 0, 0, 0, 0
			return a == b
		},
		create: func(r database.PatchRecord) error {
			r.SrcPackageID = id
			return repo.CreatePatch(ctx, r)
		},
		update: func(stored, fresh database.PatchRecord) error {
			fresh.ID, fresh.SrcPackageID = stored.ID, id
			return repo.UpdatePatch(ctx, fresh)
		},
		remove: func(r database.PatchRecord) error { return repo.DeletePatch(ctx, r.ID) },
	}.apply(patches, p.Patches)
	if err != nil {
		return fmt.Errorf("failed to sync patches of %s: %w", p.Name, err)
	}

	files, err := repo.ListFiles(ctx, id)
	if err != nil {
		return err
	}
	err = rowSync[database.FileRecord]{
		key:   func(r database.FileRecord) string { return r.Filename },
		equal: func(a, b database.FileRecord) bool { return a.Mtime == b.Mtime },
		create: func(r database.FileRecord) error {
			r.SrcPackageID = id
			return repo.CreateFile(ctx, r)
		},
		update: func(stored, fresh database.FileRecord) error {
			fresh.ID, fresh.SrcPackageID = stored.ID, id
			return repo.UpdateFile(ctx, fresh)
		},
		remove: func(r database.FileRecord) error { return repo.DeleteFile(ctx, r.ID) },
	}.apply(files, p.Files)
	if err != nil {
		return fmt.Errorf("failed to sync files of %s: %w", p.Name, err)
	}

	reports, err := repo.ListRpmlint(ctx, id)
	if err != nil {
		return err
	}
	err = rowSync[database.RpmlintRecord]{
		key: func(r database.RpmlintRecord) string {
			return r.Level + "\x00" + r.Type + "\x00" + r.Detail + "\x00" + r.Descr
		},
		equal: func(database.RpmlintRecord, database.RpmlintRecord) bool { return true },
		create: func(r database.RpmlintRecord) error {
			r.SrcPackageID = id
			return repo.CreateRpmlint(ctx, r)
		},
		remove: func(r database.RpmlintRecord) error { return repo.DeleteRpmlint(ctx, r.ID) },
	}.apply(reports, p.Rpmlint)
	if err != nil {
		return fmt.Errorf("failed to sync rpmlint reports of %s: %w", p.Name, err)
	}
	return nil
}
