// Package runner drives one update of the mirror, the catalog and the XML
// export, deciding per stage between a full and an event-driven pass.
package runner

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/obsdb/obsdb/internal/catalog"
	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/hermes"
	"github.com/obsdb/obsdb/internal/mirror"
	"github.com/obsdb/obsdb/internal/status"
	"github.com/obsdb/obsdb/internal/upstream"
	"github.com/obsdb/obsdb/internal/xmlexport"
)

// Options tunes a run beyond what the configuration holds.
type Options struct {
	// Progress receives the mirror progress bar; nil disables it.
	Progress io.Writer
	// Transport replaces the HTTP transport of the mirror and the feed reader.
	Transport http.RoundTripper
}

// Runner performs one run. It is not reusable.
type Runner struct {
	cfg  *config.Config
	opts Options

	status      status.Status
	confChanged bool
	// resync is set when the feed cannot be trusted, every stage then
	// starts over.
	resync bool
	feed   *hermes.Feed
	newest int64

	upstream        *upstream.Store
	upstreamChanged bool
	upstreamMtime   int64

	catalog *catalog.Store
	rebuilt bool
	touched map[string]bool

	summary Summary
}

// New returns a runner for cfg.
func New(cfg *config.Config, opts Options) *Runner {
	return &Runner{
		cfg:     cfg,
		opts:    opts,
		newest:  status.Unset,
		touched: map[string]bool{},
	}
}

type stage struct {
	name string
	skip bool
	run  func(ctx context.Context, res *StageResult) error
	// reset is the cursor to forget when the stage is skipped in a run that
	// needed a full pass.
	reset *int64
}

// Run takes the lock and runs every stage not disabled in the configuration.
// The status file is saved after each stage, so an interrupted run resumes
// from the last completed one.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	unlock, err := acquireLock(r.cfg.LockPath())
	if err != nil {
		return Summary{}, err
	}
	defer unlock()

	if r.status, err = status.Load(r.cfg.StatusPath()); err != nil {
		return Summary{}, err
	}
	r.confChanged = !r.cfg.IgnoreConfMtime &&
		(r.status.ConfMtime != r.cfg.Mtime || r.status.OpensuseMtime != r.cfg.OpensuseMtime)
	if r.confChanged {
		slog.Info("configuration changed since the last run")
	}

	if r.upstream, err = upstream.Open(r.cfg.UpstreamDBPath()); err != nil {
		return Summary{}, errors.Wrap(err, "cannot open upstream store")
	}
	defer func() { _ = r.upstream.Close() }()
	r.catalog = catalog.New(r.cfg, r.upstream)
	defer func() { _ = r.catalog.Close() }()

	debug := r.cfg.Debug
	stages := []stage{
		{name: "hermes", skip: debug.SkipHermes, run: r.readEvents},
		{name: "mirror", skip: debug.SkipMirror, run: r.mirror, reset: &r.status.Mirror},
		{name: "upstream", skip: debug.SkipUpstream, run: r.parseUpstream},
		{name: "catalog", skip: debug.SkipDB, run: r.updateCatalog, reset: &r.status.DB},
		{name: "xml", skip: debug.SkipXML, run: r.export, reset: &r.status.XML},
	}

	for _, st := range stages {
		res := StageResult{Stage: st.name, Strategy: StrategySkipped}
		start := time.Now()

		if st.skip {
			if st.name == "hermes" {
				r.useCursorsAsFeed()
			}
			if st.reset != nil && r.needsFullPass(st.name) {
				*st.reset = status.Unset
				if err := r.saveStatus(); err != nil {
					return r.summary, err
				}
			}
			slog.Info("stage skipped", "stage", st.name)
		} else {
			slog.Info("stage starting", "stage", st.name)
			if err := st.run(ctx, &res); err != nil {
				return r.summary, errors.Wrapf(err, "%s stage failed", st.name)
			}
		}

		res.Duration = time.Since(start)
		r.summary.Stages = append(r.summary.Stages, res)
	}

	r.status.ConfMtime = r.cfg.Mtime
	r.status.OpensuseMtime = r.cfg.OpensuseMtime
	if err := r.saveStatus(); err != nil {
		return r.summary, err
	}
	r.summary.LastID = r.newest
	return r.summary, nil
}

// needsFullPass reports whether a skipped stage would have had to start over,
// in which case its cursor must not survive the run.
func (r *Runner) needsFullPass(name string) bool {
	if r.confChanged || r.resync {
		return true
	}
	return name == "xml" && r.rebuilt
}

func (r *Runner) saveStatus() error {
	if err := r.status.Save(r.cfg.StatusPath()); err != nil {
		return errors.Wrap(err, "cannot save status")
	}
	return nil
}

func (r *Runner) httpClient() *http.Client {
	return &http.Client{Transport: r.opts.Transport, Timeout: r.cfg.SocketTimeout}
}

// oldestCursor is the smallest cursor that was ever written, or Unset.
func (r *Runner) oldestCursor() int64 {
	oldest := status.Unset
	for _, c := range []int64{r.status.Mirror, r.status.DB, r.status.XML} {
		if c == status.Unset {
			continue
		}
		if oldest == status.Unset || c < oldest {
			oldest = c
		}
	}
	return oldest
}

func (r *Runner) useCursorsAsFeed() {
	last := max(r.status.Mirror, r.status.DB, r.status.XML)
	r.feed = hermes.NewFeed(last, nil)
	r.newest = last
}

func (r *Runner) readEvents(ctx context.Context, res *StageResult) error {
	reader := hermes.NewReader(r.httpClient(), r.cfg.HermesBaseURL, r.cfg.HermesFeeds)

	since := r.oldestCursor()
	if r.cfg.Debug.ForceHermes {
		r.resync = true
		since = status.Unset
	}

	feed, err := reader.Read(ctx, since)
	if errors.Is(err, hermes.ErrTooManyPages) {
		slog.Warn("hermes feed does not reach the last run, resyncing everything", "since", since)
		r.resync = true
		feed, err = reader.Read(ctx, status.Unset)
	}
	if err != nil {
		return err
	}

	r.feed = feed
	r.newest = feed.LastID
	res.Items = int64(feed.Len())
	res.Strategy = StrategyIncremental
	if since == status.Unset {
		res.Strategy = StrategyFull
	}
	slog.Info("hermes feed read", "since", since, "last_id", feed.LastID, "events", feed.Len())
	return nil
}

// advance moves a cursor to the newest event id, never backwards.
func (r *Runner) advance(cursor *int64) {
	*cursor = max(*cursor, r.newest)
}

func (r *Runner) mirror(ctx context.Context, res *StageResult) error {
	engine := mirror.New(r.cfg, mirror.Options{Progress: r.opts.Progress, Transport: r.opts.Transport})

	full := r.status.Mirror == status.Unset || r.confChanged || r.resync
	if full {
		res.Strategy = StrategyFull
	} else {
		res.Strategy = StrategyIncremental
		for _, e := range r.feed.GetEvents(r.status.Mirror, true) {
			if err := r.mirrorEvent(engine, e); err != nil {
				return err
			}
		}
	}

	checkAll := full || !r.cfg.NoFullCheck
	if checkAll {
		for _, p := range r.cfg.Projects {
			engine.QueueCheckoutProject(p.Name, mirror.CheckoutOptions{Parent: p.Parent, Primary: true})
		}
	}

	if err := engine.Run(ctx); err != nil {
		return err
	}
	if checkAll {
		if err := engine.PruneUnreferenced(); err != nil {
			return err
		}
	}

	stats := engine.Stats()
	res.Items, res.Failed = stats.Jobs, stats.Failed

	r.advance(&r.status.Mirror)
	return r.saveStatus()
}

func (r *Runner) mirrorEvent(engine *mirror.Engine, e hermes.Event) error {
	configured := r.cfg.Project(e.Project) != nil
	mirrored := configured
	if e.Kind.TargetsPackage() && !configured {
		// devel projects are only followed for the packages already mirrored
		mirrored = filesystem.IsDir(filepath.Join(r.cfg.MirrorDir(), e.Project, e.Package))
	}

	slog.Debug("mirror event", "event", e, "configured", configured)
	switch e.Kind {
	case hermes.Commit:
		if mirrored {
			engine.QueueCheckoutPackage(e.Project, e.Package, true)
		}
	case hermes.PackageAdded:
		if configured {
			engine.QueueCheckoutPackage(e.Project, e.Package, true)
			engine.QueueCheckoutPackageMeta(e.Project, e.Package, true)
		}
	case hermes.PackageMetaChanged:
		if mirrored {
			engine.QueueCheckoutPackageMeta(e.Project, e.Package, true)
		}
	case hermes.PackageDeleted:
		if mirrored {
			return engine.RemoveCheckoutPackage(e.Project, e.Package)
		}
	case hermes.ProjectDeleted:
		if configured {
			slog.Warn("configured project was deleted on the build service", "project", e.Project)
		}
		return engine.RemoveCheckoutProject(e.Project)
	}
	return nil
}

func (r *Runner) parseUpstream(ctx context.Context, res *StageResult) error {
	mtime, err := filesystem.MaxMtime(r.cfg.UpstreamDir())
	if err != nil {
		return err
	}
	r.upstreamMtime = mtime

	if mtime == r.status.UpstreamMtime && !r.cfg.Debug.ForceUpstream {
		res.Strategy = StrategyUnchanged
		return nil
	}

	res.Strategy = StrategyFull
	if err := r.upstream.Update(ctx, r.cfg.UpstreamDir()); err != nil {
		return err
	}
	r.upstreamChanged = true
	return nil
}

func (r *Runner) updateCatalog(ctx context.Context, res *StageResult) error {
	rebuild := r.status.DB == status.Unset || r.confChanged || r.resync || r.cfg.Debug.ForceDB
	if !rebuild && !r.catalog.Exists(ctx) {
		slog.Info("catalog missing or outdated, rebuilding it")
		rebuild = true
	}

	if rebuild {
		res.Strategy = StrategyRebuild
		if err := r.catalog.Rebuild(ctx); err != nil {
			return err
		}
		r.rebuilt = true
		pkgs, err := r.catalog.AllPackages(ctx)
		if err != nil {
			return err
		}
		res.Items = int64(len(pkgs))
	} else {
		res.Strategy = StrategyIncremental
		if err := r.applyCatalogEvents(ctx, res); err != nil {
			return err
		}
	}

	r.advance(&r.status.DB)
	if r.upstreamChanged {
		r.status.UpstreamMtime = r.upstreamMtime
	}
	return r.saveStatus()
}

func (r *Runner) applyCatalogEvents(ctx context.Context, res *StageResult) error {
	before, err := r.packageSet(ctx)
	if err != nil {
		return err
	}

	for _, e := range r.feed.GetEvents(r.status.DB, true) {
		if err := r.catalogEvent(ctx, e); err != nil {
			return err
		}
		r.touched[e.Project] = true
		res.Items++
	}

	reconciled, err := r.catalog.Reconcile(ctx)
	if err != nil {
		return err
	}
	for _, p := range reconciled {
		r.touched[p] = true
	}
	after, err := r.packageSet(ctx)
	if err != nil {
		return err
	}
	for key, project := range before {
		if _, ok := after[key]; !ok {
			r.touched[project] = true
		}
	}
	for key, project := range after {
		if _, ok := before[key]; !ok {
			r.touched[project] = true
		}
	}

	if r.upstreamChanged {
		projects, err := r.catalog.ApplyUpstreamChanges(ctx, r.status.UpstreamMtime)
		if err != nil {
			return err
		}
		for _, p := range projects {
			r.touched[p] = true
		}
	}

	return r.catalog.PostAnalyze(ctx)
}

func (r *Runner) catalogEvent(ctx context.Context, e hermes.Event) error {
	switch e.Kind {
	case hermes.Commit, hermes.PackageAdded, hermes.PackageMetaChanged:
		err := r.catalog.UpdatePackage(ctx, e.Project, e.Package)
		if !errors.Is(err, catalog.ErrNoParent) {
			return err
		}
		if !filesystem.IsDir(filepath.Join(r.cfg.MirrorDir(), e.Project)) {
			return nil
		}
		err = r.catalog.AddProject(ctx, e.Project)
		if errors.Is(err, catalog.ErrNoParent) {
			slog.Warn("cannot add project", "project", e.Project, "err", err)
			return nil
		}
		return err
	case hermes.PackageDeleted:
		return r.catalog.RemovePackage(ctx, e.Project, e.Package)
	case hermes.ProjectDeleted:
		return r.catalog.RemoveProject(ctx, e.Project)
	}
	return nil
}

// packageSet maps "project/package" to the project name for every catalog
// package.
func (r *Runner) packageSet(ctx context.Context) (map[string]string, error) {
	projects, err := r.catalog.Projects(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, p := range projects {
		pkgs, err := r.catalog.Packages(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			out[p.Name+"/"+pkg.Name] = p.Name
		}
	}
	return out, nil
}

func (r *Runner) export(ctx context.Context, res *StageResult) error {
	if err := r.catalog.Open(ctx); err != nil {
		return err
	}
	exporter := xmlexport.New(r.cfg.XMLDir(), r.catalog)

	full := r.status.XML == status.Unset || r.confChanged || r.resync || r.rebuilt || r.cfg.Debug.ForceXML
	var (
		stats xmlexport.Stats
		err   error
	)
	if full {
		res.Strategy = StrategyFull
		stats, err = exporter.ExportAll(ctx)
	} else {
		names, derr := r.exportTargets(ctx)
		if derr != nil {
			return derr
		}
		res.Strategy = StrategyIncremental
		if len(names) == 0 {
			res.Strategy = StrategyUnchanged
		}
		stats, err = exporter.ExportProjects(ctx, names)
	}
	if err != nil {
		return err
	}
	res.Items = int64(stats.Written + stats.Removed)

	r.advance(&r.status.XML)
	return r.saveStatus()
}

// exportTargets returns the projects whose document may have changed since
// the XML cursor: the projects named by newer events, those the catalog
// stage touched, and the projects pointing at any of them through a parent,
// link or devel reference.
func (r *Runner) exportTargets(ctx context.Context) ([]string, error) {
	names := map[string]bool{}
	for project := range r.touched {
		names[project] = true
	}
	for _, e := range r.feed.GetEvents(r.status.XML, false) {
		names[e.Project] = true
	}
	if len(names) == 0 {
		return nil, nil
	}

	projects, err := r.catalog.Projects(ctx)
	if err != nil {
		return nil, err
	}
	byID := map[int64]string{}
	dependents := map[string]bool{}
	for _, p := range projects {
		byID[p.ID] = p.Name
		if names[p.Parent] {
			dependents[p.Name] = true
		}
	}
	pkgs, err := r.catalog.AllPackages(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pkgs {
		if names[p.DevelProject] || names[p.LinkProject] {
			dependents[byID[p.ProjectID]] = true
		}
	}
	for name := range dependents {
		names[name] = true
	}

	out := make([]string, 0, len(names))
	for name := range names {
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
