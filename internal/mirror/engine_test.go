package mirror

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/obstest"
)

func testConfig(t *testing.T, apiURL, projects string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "obsdb.conf")
	content := fmt.Sprintf("[General]\napiurl = %s\ncache-dir = %s\nthreads = 4\nsockettimeout = 2\n\n%s",
		apiURL, filepath.Join(dir, "cache"), projects)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path, false)
	require.NoError(t, err)
	return cfg
}

func seedProject(srv *obstest.Server) {
	srv.SetPackage("A", "plain", &obstest.Package{
		Files: map[string]string{
			"plain.spec":    "Name: plain\nVersion: 1.0\n",
			"plain.changes": "- initial\n",
			"plain.tar.xz":  "tarball",
		},
	})
	srv.SetPackage("A", "linked", &obstest.Package{
		Files: map[string]string{
			"_link":     `<link project="B" package="linked"><patches><apply name="fix.patch"/></patches></link>`,
			"fix.patch": "--- a\n+++ b\n",
		},
		Expanded: map[string]string{
			"linked.spec": "Name: linked\nVersion: 2.0\n",
			"fix.patch":   "--- a\n+++ b\n",
		},
		LinkProject: "B",
		LinkPackage: "linked",
	})
}

func run(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
}

func TestFullCheckout(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	e := New(cfg, Options{})
	e.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, e)

	root := cfg.MirrorDir()
	for _, name := range []string{
		"A/_pkgmeta",
		"A/" + config.OptionsFile,
		"A/plain/_files",
		"A/plain/_meta",
		"A/plain/plain.spec",
		"A/linked/_files",
		"A/linked/_files-expanded",
		"A/linked/_link",
		"A/linked/linked.spec",
		"A/linked/_meta",
	} {
		assert.FileExists(t, filepath.Join(root, name))
	}
	assert.NoFileExists(t, filepath.Join(root, "A/plain/plain.changes"))
	assert.NoFileExists(t, filepath.Join(root, "A/plain/plain.tar.xz"))
	assert.NoFileExists(t, filepath.Join(root, "A/linked/fix.patch"))

	assert.Equal(t, 1, srv.Hits("/source/A"))
	assert.Equal(t, 0, srv.Hits("/status/project/A"))
	assert.Equal(t, int64(0), e.Stats().Failed)
}

func TestStatusCheckOnlyRefreshesChangedPackages(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	first := New(cfg, Options{})
	first.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, first)

	srv.ResetHits()
	unchanged := New(cfg, Options{})
	unchanged.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, unchanged)

	assert.Equal(t, 1, srv.Hits("/status/project/A"))
	assert.Equal(t, 0, srv.Hits("/source/A"))
	assert.Equal(t, 0, srv.Hits("/source/A/plain"))
	assert.Equal(t, int64(0), unchanged.Stats().Downloads)

	srv.ResetHits()
	srv.SetFile("A", "plain", "plain.spec", "Name: plain\nVersion: 1.1\n")
	srv.DeletePackage("A", "linked")
	changed := New(cfg, Options{})
	changed.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, changed)

	assert.Equal(t, 1, srv.Hits("/source/A/plain"))
	assert.Equal(t, 1, srv.Hits("/source/A/plain/plain.spec"))
	data, err := os.ReadFile(filepath.Join(cfg.MirrorDir(), "A/plain/plain.spec"))
	require.NoError(t, err)
	assert.Equal(t, "Name: plain\nVersion: 1.1\n", string(data))
	assert.NoDirExists(t, filepath.Join(cfg.MirrorDir(), "A/linked"))
}

func TestStatusBadRequestFallsBackToPackageList(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	first := New(cfg, Options{})
	first.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, first)

	srv.ResetHits()
	srv.BadStatus["A"] = true
	second := New(cfg, Options{})
	second.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, second)

	assert.Equal(t, 1, srv.Hits("/status/project/A"))
	assert.Equal(t, 1, srv.Hits("/source/A"))
	assert.Equal(t, int64(0), second.Stats().Failed)
}

func TestRefreshReusesVerifiedFiles(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	first := New(cfg, Options{})
	first.QueueCheckoutPackage("A", "plain", true)
	run(t, first)

	specPath := filepath.Join(cfg.MirrorDir(), "A/plain/plain.spec")
	require.NoError(t, os.WriteFile(specPath, []byte("corrupted"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.MirrorDir(), "A/plain/stray"), []byte("x"), 0o644))

	srv.ResetHits()
	second := New(cfg, Options{})
	second.QueueCheckoutPackage("A", "plain", true)
	run(t, second)

	assert.Equal(t, 1, srv.Hits("/source/A/plain/plain.spec"))
	data, err := os.ReadFile(specPath)
	require.NoError(t, err)
	assert.Equal(t, "Name: plain\nVersion: 1.0\n", string(data))
	assert.NoFileExists(t, filepath.Join(cfg.MirrorDir(), "A/plain/stray"))
}

func TestBrokenLinkOnlyKeepsLinkFile(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	srv.SetPackage("A", "broken", &obstest.Package{
		Files:       map[string]string{"_link": `<link project="B"/>`, "broken.spec": "Name: broken\n"},
		LinkProject: "B",
		LinkPackage: "broken",
		LinkError:   "broken does not exist in project B",
	})
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	e := New(cfg, Options{})
	e.QueueCheckoutPackage("A", "broken", true)
	run(t, e)

	dir := filepath.Join(cfg.MirrorDir(), "A/broken")
	assert.FileExists(t, filepath.Join(dir, "_link"))
	assert.FileExists(t, filepath.Join(dir, "_files"))
	assert.NoFileExists(t, filepath.Join(dir, "_files-expanded"))
	assert.NoFileExists(t, filepath.Join(dir, "broken.spec"))
}

func TestMissingPackageIsCleaned(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	srv.AddProject("A")
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	dir := filepath.Join(cfg.MirrorDir(), "A/gone")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_files"), []byte("<directory/>"), 0o644))

	e := New(cfg, Options{})
	e.QueueCheckoutPackage("A", "gone", true)
	run(t, e)

	assert.NoDirExists(t, dir)
	assert.Equal(t, int64(0), e.Stats().Failed)
}

func TestEmptyMetadataIsRetriedOnceThenFails(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	srv.EmptyPaths["/source/A/plain/_meta"] = true
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	e := New(cfg, Options{})
	e.QueueCheckoutPackageMeta("A", "plain", true)
	run(t, e)

	assert.Equal(t, 2, srv.Hits("/source/A/plain/_meta"))
	assert.Equal(t, int64(1), e.Stats().Failed)
	assert.NoFileExists(t, filepath.Join(cfg.MirrorDir(), "A/plain/_meta"))
}

func TestDuplicateQueueingFetchesOnce(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	e := New(cfg, Options{})
	for range 3 {
		e.QueueCheckoutPackage("A", "plain", true)
	}
	run(t, e)

	assert.Equal(t, 1, srv.Hits("/source/A/plain"))
}

func TestDevelProjectsAreMirroredOnSecondaryQueue(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	srv.SetPackage("A", "gedit", &obstest.Package{
		Files:        map[string]string{"gedit.spec": "Name: gedit\n"},
		DevelProject: "D",
		DevelPackage: "gedit",
	})
	srv.SetPackage("D", "gedit", &obstest.Package{Files: map[string]string{"gedit.spec": "Name: gedit\n"}})
	srv.SetPackage("D", "unrelated", &obstest.Package{Files: map[string]string{"unrelated.spec": "Name: unrelated\n"}})
	cfg := testConfig(t, srv.URL, "[Project A]\ncheckout-devel-projects = true\n")

	stale := filepath.Join(cfg.MirrorDir(), "Old:Devel", "pkg")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	e := New(cfg, Options{})
	e.QueueCheckoutProject("A", CheckoutOptions{Primary: true})
	run(t, e)
	require.NoError(t, e.PruneUnreferenced())

	root := cfg.MirrorDir()
	assert.FileExists(t, filepath.Join(root, "D/gedit/gedit.spec"))
	assert.NoDirExists(t, filepath.Join(root, "D/unrelated"))
	assert.NoDirExists(t, filepath.Join(root, "Old:Devel"))
	assert.Equal(t, map[string][]string{"D": {"gedit"}}, e.DevelPackages())

	opts, err := config.ReadOptions(filepath.Join(root, "D", config.OptionsFile))
	require.NoError(t, err)
	assert.True(t, opts.NoConfig)
}

func TestRpmlintReportIsMirrored(t *testing.T) {
	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	srv.SetPackage("A", "linted", &obstest.Package{
		Files:   map[string]string{"linted.spec": "Name: linted\n"},
		Rpmlint: "linted.x86_64: W: no-manual-page-for-binary linted\n",
	})
	dir := t.TempDir()
	path := filepath.Join(dir, "obsdb.conf")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(
		"[General]\napiurl = %s\ncache-dir = %s\nrpmlint-repository = standard\nrpmlint-arch = x86_64\n[Project A]\n",
		srv.URL, dir)), 0o644))
	cfg, err := config.Load(path, false)
	require.NoError(t, err)

	e := New(cfg, Options{})
	e.QueueCheckoutPackage("A", "linted", true)
	e.QueueCheckoutPackage("A", "plain", true)
	run(t, e)

	assert.FileExists(t, filepath.Join(cfg.MirrorDir(), "A/linted/_rpmlint"))
	assert.NoFileExists(t, filepath.Join(cfg.MirrorDir(), "A/plain/_rpmlint"))
	assert.Equal(t, 1, srv.Hits("/build/A/standard/x86_64/linted/rpmlint.log"))
}

func TestHangingSocketIsClosedByWatchdog(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for socket timeouts")
	}

	srv := obstest.New()
	defer srv.Close()
	seedProject(srv)
	srv.SetPackage("A", "slow", &obstest.Package{Files: map[string]string{"slow.spec": "Name: slow\n"}})
	srv.HangPaths["/source/A/slow"] = true
	cfg := testConfig(t, srv.URL, "[Project A]\n")

	// Fresh connections only: a reused one would let the transport replay
	// the request on its own.
	e := New(cfg, Options{Transport: &http.Transport{DisableKeepAlives: true}})
	e.QueueCheckoutPackage("A", "slow", true)
	e.QueueCheckoutPackage("A", "plain", true)
	e.QueueCheckoutPackage("A", "linked", true)

	start := time.Now()
	run(t, e)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Second)
	assert.GreaterOrEqual(t, elapsed, 4*time.Second)
	assert.Equal(t, 2, srv.Hits("/source/A/slow"))
	assert.Equal(t, int64(1), e.Stats().Failed)
	assert.FileExists(t, filepath.Join(cfg.MirrorDir(), "A/plain/plain.spec"))
	assert.NoDirExists(t, filepath.Join(cfg.MirrorDir(), "A/slow"))
}
