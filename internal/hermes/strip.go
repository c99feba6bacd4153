package hermes

import "sort"

type packageKey struct {
	project string
	pkg     string
}

// packageState records which kinds of newer events survived for a package
// while walking the feed from newest to oldest.
type packageState struct {
	commit  bool
	meta    bool
	added   bool
	deleted bool
}

// Strip reduces events to the minimal equivalent list, newest first:
//   - everything older than a ProjectDeleted of the same project is dropped;
//   - everything older than a PackageDeleted of the same package is dropped;
//   - only the newest Commit and PackageMetaChanged of a package are kept;
//   - a PackageAdded followed by both a commit and a meta change is dropped;
//   - a PackageDeleted followed by a commit, meta change or re-add is dropped.
//
// Strip is idempotent.
func Strip(events []Event) []Event {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	deletedProjects := map[string]bool{}
	packages := map[packageKey]*packageState{}
	seenIDs := map[int64]bool{}

	state := func(e Event) *packageState {
		key := packageKey{e.Project, e.Package}
		s, ok := packages[key]
		if !ok {
			s = &packageState{}
			packages[key] = s
		}
		return s
	}

	var out []Event
	for _, e := range sorted {
		if seenIDs[e.ID] {
			continue
		}
		seenIDs[e.ID] = true

		if deletedProjects[e.Project] {
			continue
		}

		if e.Kind == ProjectDeleted {
			deletedProjects[e.Project] = true
			out = append(out, e)
			continue
		}

		s := state(e)
		if s.deleted {
			continue
		}

		keep := false
		switch e.Kind {
		case Commit:
			keep = !s.commit
			s.commit = true
		case PackageMetaChanged:
			keep = !s.meta
			s.meta = true
		case PackageAdded:
			keep = !s.added && !(s.commit && s.meta)
			s.added = true
		case PackageDeleted:
			keep = !s.commit && !s.meta && !s.added
			if keep {
				s.deleted = true
			}
		}

		if keep {
			out = append(out, e)
		}
	}

	return out
}
