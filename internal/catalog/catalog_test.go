package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/mirror"
	"github.com/obsdb/obsdb/internal/obs"
	"github.com/obsdb/obsdb/internal/obstest"
	"github.com/obsdb/obsdb/internal/upstream"
)

const parentSpec = `Name: pkg2
Version: 1.0
Release: 0
%define flavor plain
Summary: A package

%build
make %{?_smp_mflags}

%changelog
* Mon Jan 01 2024 someone@example.org
- initial
`

const childSpec = `Name:   pkg2
Version: 1.0
Release: 42
# local comment
%define flavor plain
Summary:    A package

%build
make   %{?_smp_mflags}

%changelog
* Tue Jan 02 2024 other@example.org
- rebuilt
`

const patchedSpec = `Name: pkg6
Version: 2.4
Summary: Patched package
# PATCH-FIX-UPSTREAM first.patch bnc#1 -- First fix
Patch0: first.patch
# PATCH-FIX-OPENSUSE second.patch -- Second fix
Patch1: second.patch

%description
Package with patches.

%prep
%setup -q
%patch0 -p1
%patch1 -p1
`

const rpmlintReport = `pkg1.x86_64: W: no-manual-page-for-binary pkg1
  Each executable in standard binary directories should have a man page.

1 packages and 0 specfiles checked; 0 errors, 1 warnings.
`

type fixture struct {
	srv   *obstest.Server
	cfg   *config.Config
	store *Store
}

func newFixture(t *testing.T, up Upstream, extra string) *fixture {
	t.Helper()

	srv := obstest.New()
	t.Cleanup(srv.Close)
	seed(srv)

	dir := t.TempDir()
	path := filepath.Join(dir, "obsdb.conf")
	content := fmt.Sprintf(`[General]
apiurl = %s
cache-dir = %s
threads = 2
rpmlint-repository = openSUSE_Factory
rpmlint-arch = x86_64

[Project A]
%s
[Project B]
parent = A
lenient-delta = true
`, srv.URL, filepath.Join(dir, "cache"), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := config.Load(path, false)
	require.NoError(t, err)

	f := &fixture{srv: srv, cfg: cfg}
	f.mirror(t, func(e *mirror.Engine) {
		e.QueueCheckoutProject("A", mirror.CheckoutOptions{Primary: true})
		e.QueueCheckoutProject("B", mirror.CheckoutOptions{Primary: true, Parent: "A"})
	})

	f.store = New(cfg, up)
	t.Cleanup(func() { _ = f.store.Close() })
	require.NoError(t, f.store.Rebuild(context.Background()))
	return f
}

func seed(srv *obstest.Server) {
	srv.SetPackage("A", "pkg1", &obstest.Package{
		Files:        map[string]string{"pkg1.spec": "Name: pkg1\nVersion: 3\n"},
		DevelProject: "B",
		DevelPackage: "pkg1",
		Rpmlint:      rpmlintReport,
	})
	srv.SetPackage("A", "pkg2", &obstest.Package{
		Files: map[string]string{"pkg2.spec": parentSpec, "pkg2.changes": "- initial\n"},
	})
	srv.SetPackage("A", "pkg3", &obstest.Package{
		Files: map[string]string{"pkg3.spec": "Name: pkg3\nVersion: 1\n"},
	})
	srv.SetPackage("A", "pkg4", &obstest.Package{
		Files:        map[string]string{"pkg4.spec": "Name: pkg4\nVersion: 1\n"},
		DevelProject: "C",
		DevelPackage: "pkg4",
	})
	srv.SetPackage("A", "pkg6", &obstest.Package{
		Files: map[string]string{"pkg6.spec": patchedSpec, "first.patch": "a", "second.patch": "b"},
	})

	srv.SetPackage("B", "pkg1", &obstest.Package{
		Files: map[string]string{
			"_link":     `<link project="A" package="pkg1"><patches><apply name="fix.patch"/></patches></link>`,
			"fix.patch": "--- a\n+++ b\n",
		},
		Expanded: map[string]string{
			"pkg1.spec": "Name: pkg1\nVersion: 3\n",
			"fix.patch": "--- a\n+++ b\n",
		},
		LinkProject: "A",
		LinkPackage: "pkg1",
	})
	srv.SetPackage("B", "pkg2", &obstest.Package{
		Files: map[string]string{"pkg2.spec": childSpec, "pkg2.changes": "- rebuilt\n"},
	})
	srv.SetPackage("B", "pkg3", &obstest.Package{
		Files:       map[string]string{"_link": `<link project="A" package="pkg3"/>`},
		Expanded:    map[string]string{"pkg3.spec": "Name: pkg3\nVersion: 1\n"},
		LinkProject: "A",
		LinkPackage: "pkg3",
	})
	srv.SetPackage("B", "pkg4", &obstest.Package{
		Files:       map[string]string{"_link": `<link project="A" package="pkg4"/>`},
		Expanded:    map[string]string{"pkg4.spec": "Name: pkg4\nVersion: 1\n"},
		LinkProject: "A",
		LinkPackage: "pkg4",
	})
	srv.SetPackage("B", "pkg5", &obstest.Package{
		Files:       map[string]string{"_link": `<link project="A" package="pkg5"/>`},
		LinkProject: "A",
		LinkPackage: "pkg5",
		LinkError:   "package 'pkg5' does not exist in project 'A'",
	})
	srv.SetPackage("B", "only", &obstest.Package{
		Files: map[string]string{"only.spec": "Name: only\nVersion: 0.1\n"},
	})
}

func (f *fixture) mirror(t *testing.T, queue func(e *mirror.Engine)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e := mirror.New(f.cfg, mirror.Options{})
	queue(e)
	require.NoError(t, e.Run(ctx))
}

func (f *fixture) pkg(t *testing.T, project, name string) *database.SrcPackageRecord {
	t.Helper()
	p, err := f.store.Package(context.Background(), project, name)
	require.NoError(t, err)
	return p
}

func TestRebuildClassifiesPackages(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	assert.True(t, f.store.Exists(ctx))
	assert.FileExists(t, f.cfg.CatalogPath())
	assert.NoFileExists(t, f.cfg.CatalogPath()+".new")

	linked := f.pkg(t, "B", "pkg1")
	assert.True(t, linked.IsLink)
	assert.Equal(t, DeltaLink, linked.HasDelta)
	assert.Equal(t, "A", linked.LinkProject)
	assert.Equal(t, "pkg1", linked.LinkPackage)
	assert.Equal(t, "3", linked.Version)
	assert.Empty(t, linked.Error)

	same := f.pkg(t, "B", "pkg2")
	assert.False(t, same.IsLink)
	assert.Equal(t, DeltaNone, same.HasDelta)
	assert.Equal(t, ErrorNotLink, same.Error)

	assert.Equal(t, ErrorParentWithoutDevel, f.pkg(t, "B", "pkg3").Error)
	assert.Equal(t, DeltaNone, f.pkg(t, "B", "pkg3").HasDelta)

	notDevel := f.pkg(t, "B", "pkg4")
	assert.Equal(t, ErrorNotRealDevel, notDevel.Error)
	assert.Contains(t, notDevel.ErrorDetails, "C/pkg4")

	broken := f.pkg(t, "B", "pkg5")
	assert.True(t, broken.IsLink)
	assert.Equal(t, ErrorNotInParent, broken.Error)
	assert.Contains(t, broken.ErrorDetails, "does not exist in project")

	assert.Equal(t, ErrorNotLinkNotInParent, f.pkg(t, "B", "only").Error)

	develTarget := f.pkg(t, "A", "pkg1")
	assert.Equal(t, "B", develTarget.DevelProject)
	assert.Equal(t, "pkg1", develTarget.DevelPackage)
	assert.Empty(t, develTarget.Error)

	children, err := f.store.Children(ctx, develTarget.ID)
	require.NoError(t, err)
	require.Len(t, children.Rpmlint, 1)
	assert.Equal(t, "no-manual-page-for-binary", children.Rpmlint[0].Type)
	assert.Equal(t, "W", children.Rpmlint[0].Level)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	byName := map[string]database.ProjectCounts{}
	for _, c := range counts {
		byName[c.Name] = c
	}
	assert.Equal(t, int64(5), byName["A"].Packages)
	assert.Equal(t, int64(6), byName["B"].Packages)
	assert.Equal(t, int64(4), byName["B"].Links)
}

func TestLinkInvariants(t *testing.T) {
	f := newFixture(t, nil, "")
	pkgs, err := f.store.AllPackages(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, pkgs)

	for _, p := range pkgs {
		if p.IsLink {
			assert.NotEmpty(t, p.LinkProject, p.Name)
		}
		if p.HasDelta == DeltaNoLink {
			assert.False(t, p.IsLink, p.Name)
		}
	}
}

func TestLenientDeltaFollowsMacroChanges(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	before := f.pkg(t, "B", "pkg2")
	require.Equal(t, DeltaNone, before.HasDelta)

	f.srv.SetFile("B", "pkg2", "pkg2.spec", strings.Replace(childSpec, "%define flavor plain", "%define flavor fancy", 1))
	f.mirror(t, func(e *mirror.Engine) { e.QueueCheckoutPackage("B", "pkg2", true) })
	require.NoError(t, f.store.UpdatePackage(ctx, "B", "pkg2"))

	after := f.pkg(t, "B", "pkg2")
	assert.Equal(t, DeltaNoLink, after.HasDelta)
	assert.Equal(t, before.ID, after.ID)
}

func TestStrictDeltaSeesReleaseChanges(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	f.cfg.Project("B").LenientDelta = false
	require.NoError(t, f.store.UpdatePackage(ctx, "B", "pkg2"))
	assert.Equal(t, DeltaNoLink, f.pkg(t, "B", "pkg2").HasDelta)
}

func TestUpdatePackageKeepsRowIdentity(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	p := f.pkg(t, "A", "pkg6")
	before, err := f.store.Children(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, before.Patches, 2)
	require.Len(t, before.BinaryPackages, 1)
	assert.Equal(t, int64(1), before.Patches[0].Bnc)

	spec := strings.Replace(patchedSpec, "-- Second fix", "-- Second fix, reworded", 1)
	spec = strings.Replace(spec, "Summary: Patched package", "Summary: Patched package, again", 1)
	f.srv.SetFile("A", "pkg6", "pkg6.spec", spec)
	f.mirror(t, func(e *mirror.Engine) { e.QueueCheckoutPackage("A", "pkg6", true) })
	require.NoError(t, f.store.UpdatePackage(ctx, "A", "pkg6"))

	after, err := f.store.Children(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, after.Patches, 2)

	ids := func(patches []database.PatchRecord) map[string]int64 {
		out := map[string]int64{}
		for _, patch := range patches {
			out[patch.Filename] = patch.ID
		}
		return out
	}
	assert.Equal(t, ids(before.Patches), ids(after.Patches))
	assert.Equal(t, before.BinaryPackages[0].ID, after.BinaryPackages[0].ID)
	assert.Equal(t, "Patched package, again", after.BinaryPackages[0].Summary)
	for _, patch := range after.Patches {
		if patch.Filename == "second.patch" {
			assert.Equal(t, "Second fix, reworded", patch.ShortDescr)
			assert.Equal(t, 1, patch.ApplyOrder)
		}
	}

	fileIDs := map[string]int64{}
	for _, file := range before.Files {
		fileIDs[file.Filename] = file.ID
	}
	for _, file := range after.Files {
		assert.Equal(t, fileIDs[file.Filename], file.ID, file.Filename)
	}
}

func TestRemoveAndAddPackage(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	require.NoError(t, f.store.RemovePackage(ctx, "B", "only"))
	_, err := f.store.Package(ctx, "B", "only")
	require.ErrorIs(t, err, database.ErrNotFound)

	require.NoError(t, f.store.AddPackage(ctx, "B", "only"))
	again := f.pkg(t, "B", "only")
	assert.Equal(t, "0.1", again.Version)

	// derived errors wait for the next post-analysis
	require.NoError(t, f.store.PostAnalyze(ctx))
	assert.Equal(t, ErrorNotLinkNotInParent, f.pkg(t, "B", "only").Error)

	err = f.store.AddPackage(ctx, "nowhere", "only")
	require.ErrorIs(t, err, ErrNoParent)
}

func TestPackageMissingFromMirrorIsRemoved(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	require.NoError(t, os.RemoveAll(filepath.Join(f.cfg.MirrorDir(), "B", "only")))
	require.NoError(t, f.store.UpdatePackage(ctx, "B", "only"))
	_, err := f.store.Package(ctx, "B", "only")
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestAddProjectRequiresParent(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	require.NoError(t, f.store.RemoveProject(ctx, "A"))
	err := f.store.UpdateProject(ctx, "B")
	require.ErrorIs(t, err, ErrNoParent)

	require.NoError(t, f.store.AddProject(ctx, "A"))
	require.NoError(t, f.store.UpdateProject(ctx, "B"))
	require.NoError(t, f.store.PostAnalyze(ctx))
	assert.Equal(t, ErrorNotLink, f.pkg(t, "B", "pkg2").Error)
}

func TestReconcileFollowsMirror(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	require.NoError(t, os.RemoveAll(filepath.Join(f.cfg.MirrorDir(), "B", "only")))
	require.NoError(t, os.RemoveAll(filepath.Join(f.cfg.MirrorDir(), "B")))
	changed, err := f.store.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, changed)

	projects, err := f.store.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "A", projects[0].Name)

	dirs, err := os.ReadDir(filepath.Join(f.cfg.MirrorDir(), "A"))
	require.NoError(t, err)
	pkgs, err := f.store.Packages(ctx, projects[0].ID)
	require.NoError(t, err)
	var onDisk []string
	for _, d := range dirs {
		if d.IsDir() {
			onDisk = append(onDisk, d.Name())
		}
	}
	var stored []string
	for _, p := range pkgs {
		stored = append(stored, p.Name)
	}
	assert.Equal(t, onDisk, stored)
}

func TestReconcileRefreshesPackagesChangedInMirror(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	f.srv.SetFile("A", "pkg3", "pkg3.spec", "Name: pkg3\nVersion: 2\n")
	f.mirror(t, func(e *mirror.Engine) {
		e.QueueCheckoutPackage("A", "pkg3", true)
	})

	changed, err := f.store.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, changed)
	assert.Equal(t, "2", f.pkg(t, "A", "pkg3").Version)

	changed, err = f.store.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestExistsAndVersionMismatch(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()
	require.NoError(t, f.store.Close())

	db, err := database.Open(f.cfg.CatalogPath(), catalogMigrations())
	require.NoError(t, err)
	require.NoError(t, database.NewVersionRepository(db).Set(ctx, VersionMajor+1, 0))
	require.NoError(t, database.Close(db))

	other := New(f.cfg, nil)
	defer other.Close()
	require.ErrorIs(t, other.Open(ctx), ErrVersionMismatch)
	assert.False(t, other.Exists(ctx))

	require.NoError(t, other.Rebuild(ctx))
	assert.True(t, other.Exists(ctx))

	empty := New(&config.Config{CacheDir: t.TempDir()}, nil)
	assert.False(t, empty.Exists(ctx))
}

func TestUpstreamVersions(t *testing.T) {
	dir := t.TempDir()
	upstreamDir := filepath.Join(dir, "upstream")
	require.NoError(t, os.MkdirAll(upstreamDir, 0o755))

	first := time.Unix(1_000_000, 0)
	write := func(name, content string, mtime time.Time) {
		path := filepath.Join(upstreamDir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	write(upstream.MatchFile, "pkg2:\npkg3:\n", first)
	write("factory", "nonfgo:pkg2:1.1:https://example.org/pkg2-1.1.tar.gz\nupstream:pkg3:7:\n", first)

	ctx := context.Background()
	up, err := upstream.Open(filepath.Join(dir, "upstream.db"))
	require.NoError(t, err)
	defer up.Close()
	require.NoError(t, up.Update(ctx, upstreamDir))

	f := newFixture(t, up, "branches = factory\n")

	pkg2 := f.pkg(t, "A", "pkg2")
	assert.Equal(t, "pkg2", pkg2.UpstreamName)
	assert.Equal(t, "1.1", pkg2.UpstreamVersion)
	assert.Equal(t, "https://example.org/pkg2-1.1.tar.gz", pkg2.UpstreamURL)
	assert.Empty(t, f.pkg(t, "B", "pkg2").UpstreamVersion, "B follows no branch")

	changes, err := f.store.GetPackagesWithUpstreamChange(ctx, first.Unix())
	require.NoError(t, err)
	assert.Empty(t, changes)

	write("factory", "nonfgo:pkg2:1.2:https://example.org/pkg2-1.2.tar.gz\nupstream:pkg3:7:\n", time.Unix(2_000_000, 0))
	require.NoError(t, up.Update(ctx, upstreamDir))

	changes, err = f.store.GetPackagesWithUpstreamChange(ctx, first.Unix())
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]UpstreamVersion{
		"A": {"pkg2": {Name: "pkg2", Version: "1.2", URL: "https://example.org/pkg2-1.2.tar.gz"}},
	}, changes)

	projects, err := f.store.UpstreamChanges(ctx, first.Unix())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, projects)

	applied, err := f.store.ApplyUpstreamChanges(ctx, first.Unix())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, applied)
	assert.Equal(t, "1.2", f.pkg(t, "A", "pkg2").UpstreamVersion)
	assert.Equal(t, "7", f.pkg(t, "A", "pkg3").UpstreamVersion)

	changes, err = f.store.GetPackagesWithUpstreamChange(ctx, first.Unix())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDevelCycle(t *testing.T) {
	devel := map[pkgKey]develTarget{
		{"A", "x"}: {"B", "x"},
		{"B", "x"}: {"A", "x"},
		{"C", "y"}: {"D", "y"},
		{"D", "y"}: {},
	}

	chain, ok := develCycle(pkgKey{"A", "x"}, devel)
	require.True(t, ok)
	assert.Equal(t, "A/x -> B/x -> A/x", chain)

	_, ok = develCycle(pkgKey{"C", "y"}, devel)
	assert.False(t, ok)

	long := map[pkgKey]develTarget{}
	for i := range 40 {
		long[pkgKey{fmt.Sprintf("P%d", i), "z"}] = develTarget{fmt.Sprintf("P%d", i+1), "z"}
	}
	_, ok = develCycle(pkgKey{"P0", "z"}, long)
	assert.True(t, ok)

	kind, details := analyzePackage(database.SrcPackageRecord{Name: "x"}, "A", "", devel)
	assert.Equal(t, ErrorDevelCycle, kind)
	assert.Contains(t, details, "B/x")

	// a stale derived error is cleared
	kind, _ = analyzePackage(database.SrcPackageRecord{Name: "y", Error: ErrorDevelCycle}, "C", "", devel)
	assert.Empty(t, kind)
}

func TestLinkOutsideParentChecksTargetDevel(t *testing.T) {
	devel := map[pkgKey]develTarget{
		{"C", "lib"}:   {"D", "lib"},
		{"C", "plain"}: {},
		{"C", "back"}:  {"B", "back"},
	}
	link := func(name string) database.SrcPackageRecord {
		return database.SrcPackageRecord{Name: name, IsLink: true, LinkProject: "C", LinkPackage: name}
	}

	kind, details := analyzePackage(link("lib"), "B", "A", devel)
	assert.Equal(t, ErrorNotRealDevel, kind)
	assert.Equal(t, "development happens in D/lib", details)

	kind, _ = analyzePackage(link("plain"), "B", "A", devel)
	assert.Equal(t, ErrorParentWithoutDevel, kind)

	kind, _ = analyzePackage(link("back"), "B", "A", devel)
	assert.Empty(t, kind)

	kind, _ = analyzePackage(link("lib"), "B", "", devel)
	assert.Equal(t, ErrorNotRealDevel, kind)
}

func TestBestSpec(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"foo.spec", "_service:obs_scm:foo.spec", "other.spec", "newest.spec"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("Name: x\n"), 0o644))
	}
	listing := func(entries ...obs.Entry) *obs.Directory { return &obs.Directory{Entries: entries} }

	assert.Equal(t, "foo.spec", bestSpec("foo", listing(
		obs.Entry{Name: "_service:obs_scm:foo.spec", Mtime: 3},
		obs.Entry{Name: "foo.spec", Mtime: 1},
	), dir))
	assert.Equal(t, "_service:obs_scm:foo.spec", bestSpec("foo", listing(
		obs.Entry{Name: "other.spec", Mtime: 5},
		obs.Entry{Name: "_service:obs_scm:foo.spec", Mtime: 3},
	), dir))
	assert.Equal(t, "newest.spec", bestSpec("foo", listing(
		obs.Entry{Name: "other.spec", Mtime: 5},
		obs.Entry{Name: "newest.spec", Mtime: 9},
		obs.Entry{Name: "foo.tar.gz", Mtime: 10},
	), dir))
	assert.Empty(t, bestSpec("foo", listing(obs.Entry{Name: "missing.spec"}), dir))
	assert.Empty(t, bestSpec("foo", listing(obs.Entry{Name: "foo.tar.gz"}), dir))
}

func TestRowSync(t *testing.T) {
	type row struct {
		id   int
		name string
		val  string
	}
	var created, updated, removed []string
	s := rowSync[row]{
		key:    func(r row) string { return r.name },
		equal:  func(a, b row) bool { return a.val == b.val },
		create: func(r row) error { created = append(created, r.name); return nil },
		update: func(a, b row) error { updated = append(updated, fmt.Sprintf("%d:%s", a.id, b.val)); return nil },
		remove: func(r row) error { removed = append(removed, r.name); return nil },
	}

	stored := []row{{1, "c", "3"}, {2, "a", "1"}, {3, "b", "2"}}
	fresh := []row{{0, "d", "4"}, {0, "b", "20"}, {0, "a", "1"}}
	require.NoError(t, s.apply(stored, fresh))

	assert.Equal(t, []string{"d"}, created)
	assert.Equal(t, []string{"3:20"}, updated)
	assert.Equal(t, []string{"c"}, removed)

	created, removed = nil, nil
	s.update = nil
	require.NoError(t, s.apply([]row{{1, "a", "1"}}, []row{{0, "a", "2"}}))
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, []string{"a"}, created)
}
