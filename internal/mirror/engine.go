// Package mirror keeps a local copy of the OBS source metadata needed to build
// the catalog: listings, link descriptors, package metadata and spec files.
package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/obs"
)

const (
	listingCacheSize = 8192
	listingCacheTTL  = time.Hour
)

// CheckoutOptions qualifies a project checkout.
type CheckoutOptions struct {
	// Parent overrides the parent recorded in the option snapshot.
	Parent string
	// Primary selects the primary queue. Secondary work starts once the
	// primary queue is drained.
	Primary bool
	// ForceSimple walks the whole package list even when a mirrored copy
	// exists.
	ForceSimple bool
	// NoConfig marks projects mirrored only because they host devel packages
	// of a configured project.
	NoConfig bool
}

// Options tunes an engine beyond what the configuration holds.
type Options struct {
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
	// Transport replaces the dialing HTTP transport.
	Transport http.RoundTripper
}

// Stats counts what a run did.
type Stats struct {
	Jobs      int64
	Downloads int64
	Removed   int64
	Failed    int64
}

// Engine mirrors projects and packages into the cache directory.
type Engine struct {
	cfg      *config.Config
	dir      string
	threads  int
	client   *Client
	watchdog *Watchdog
	progress io.Writer

	primary   *queue
	secondary *queue

	listings *expirable.LRU[string, *obs.Directory]

	mu            sync.Mutex
	queued        map[job]bool
	devel         map[string]map[string]bool
	incompleteRun bool

	jobs      atomic.Int64
	downloads atomic.Int64
	removed   atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64
	bar       *progressbar.ProgressBar
}

// New returns an engine for cfg. With more than one worker the threaded
// socket timeout applies.
func New(cfg *config.Config, opts Options) *Engine {
	timeout := cfg.SocketTimeout
	if cfg.Threads > 1 {
		timeout = cfg.ThreadsSocketTimeout
	}
	watchdog := NewWatchdog(timeout)

	return &Engine{
		cfg:      cfg,
		dir:      cfg.MirrorDir(),
		threads:  max(cfg.Threads, 1),
		watchdog: watchdog,
		progress: opts.Progress,
		client: NewClient(cfg.APIURL, ClientOptions{
			ConnectTimeout:    cfg.SocketTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Watchdog:          watchdog,
			Transport:         opts.Transport,
		}),
		primary:   newQueue(),
		secondary: newQueue(),
		listings:  expirable.NewLRU[string, *obs.Directory](listingCacheSize, nil, listingCacheTTL),
		queued:    map[job]bool{},
		devel:     map[string]map[string]bool{},
	}
}

// QueueCheckoutProject queues the checkout of a whole project. A project that
// is already mirrored only gets a status check, unless ForceSimple is set.
func (e *Engine) QueueCheckoutProject(project string, opts CheckoutOptions) {
	e.enqueue(job{kind: jobProject, project: project, opts: opts}, opts.Primary)
}

// QueueCheckoutPackage queues the refresh of the file set of a package.
func (e *Engine) QueueCheckoutPackage(project, pkg string, primary bool) {
	e.enqueue(job{kind: jobPackage, project: project, pkg: pkg}, primary)
}

// QueueCheckoutPackageMeta queues the refresh of the _meta of a package.
func (e *Engine) QueueCheckoutPackageMeta(project, pkg string, primary bool) {
	e.enqueue(job{kind: jobPackageMeta, project: project, pkg: pkg}, primary)
}

// enqueue drops jobs already queued during this engine's lifetime, so a
// package is refreshed at most once per run.
func (e *Engine) enqueue(j job, primary bool) {
	key := j
	key.opts = CheckoutOptions{}

	e.mu.Lock()
	if e.queued[key] {
		e.mu.Unlock()
		return
	}
	e.queued[key] = true
	e.mu.Unlock()

	e.total.Add(1)
	if e.bar != nil {
		e.bar.ChangeMax64(e.total.Load())
	}

	if primary {
		e.primary.push(j)
	} else {
		e.secondary.push(j)
	}
}

// RemoveCheckoutProject deletes the mirrored copy of a project.
func (e *Engine) RemoveCheckoutProject(project string) error {
	dir := e.projectDir(project)
	e.forgetListings(dir + string(filepath.Separator))
	if filesystem.IsDir(dir) {
		e.removed.Add(1)
	}
	return filesystem.RemoveAll(dir)
}

// RemoveCheckoutPackage deletes the mirrored copy of a package.
func (e *Engine) RemoveCheckoutPackage(project, pkg string) error {
	dir := e.packageDir(project, pkg)
	e.forgetListings(dir + string(filepath.Separator))
	if filesystem.IsDir(dir) {
		e.removed.Add(1)
	}
	return filesystem.RemoveAll(dir)
}

// Run drains the primary queue, then the secondary queue. Individual job
// failures are logged and counted; Run only fails when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	done := make(chan struct{})
	var supervisor errgroup.Group
	supervisor.Go(func() error {
		e.watchdog.Run(done)
		return nil
	})

	e.startProgress()
	e.drain(ctx, e.primary)
	e.drain(ctx, e.secondary)

	close(done)
	_ = supervisor.Wait()
	e.finishProgress()

	slog.Info("mirror done", "jobs", e.jobs.Load(), "downloads", e.downloads.Load(), "removed", e.removed.Load(), "failed", e.failed.Load())
	return ctx.Err()
}

func (e *Engine) drain(ctx context.Context, q *queue) {
	var workers errgroup.Group
	for range e.threads {
		workers.Go(func() error {
			for {
				j, ok := q.pop()
				if !ok {
					return nil
				}
				if ctx.Err() == nil {
					e.process(ctx, j)
				}
				q.done()
				if e.bar != nil {
					_ = e.bar.Add(1)
				}
			}
		})
	}
	_ = workers.Wait()
}

func (e *Engine) process(ctx context.Context, j job) {
	e.jobs.Add(1)

	var err error
	switch j.kind {
	case jobProject:
		err = e.checkoutProject(ctx, j.project, j.opts)
	case jobPackage:
		err = e.refreshPackage(ctx, j.project, j.pkg)
	case jobPackageMeta:
		err = e.refreshPackageMeta(ctx, j.project, j.pkg)
	}
	if err != nil {
		e.failed.Add(1)
		slog.Error("mirror job failed", "job", j.String(), "err", err)
	}
}

// Stats returns the counters of the run so far.
func (e *Engine) Stats() Stats {
	return Stats{
		Jobs:      e.jobs.Load(),
		Downloads: e.downloads.Load(),
		Removed:   e.removed.Load(),
		Failed:    e.failed.Load(),
	}
}

func (e *Engine) startProgress() {
	if e.progress == nil {
		return
	}
	e.bar = progressbar.NewOptions64(
		e.total.Load(),
		progressbar.OptionSetWriter(e.progress),
		progressbar.OptionSetDescription("mirroring"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

func (e *Engine) finishProgress() {
	if e.bar == nil {
		return
	}
	_ = e.bar.Finish()
	e.bar = nil
}

func (e *Engine) projectDir(project string) string {
	return filepath.Join(e.dir, project)
}

func (e *Engine) packageDir(project, pkg string) string {
	return filepath.Join(e.dir, project, pkg)
}

// readListing returns the parsed listing stored at path, or nil when there is
// none or it cannot be parsed. Broken listings are deleted.
func (e *Engine) readListing(path string) *obs.Directory {
	if d, ok := e.listings.Get(path); ok {
		return d
	}
	if !filesystem.FileExists(path) {
		return nil
	}
	d, err := obs.ReadDirectory(path)
	if err != nil {
		slog.Warn("removing unreadable listing", "path", path, "err", err)
		_ = filesystem.DeleteFile(path)
		return nil
	}
	e.listings.Add(path, d)
	return d
}

func (e *Engine) publishListing(path string, data []byte, d *obs.Directory) error {
	if _, err := filesystem.WriteIfChanged(path, data); err != nil {
		return err
	}
	e.listings.Add(path, d)
	return nil
}

func (e *Engine) dropListing(path string) error {
	e.listings.Remove(path)
	return filesystem.DeleteFile(path)
}

func (e *Engine) forgetListings(prefix string) {
	for _, key := range e.listings.Keys() {
		if strings.HasPrefix(key, prefix) {
			e.listings.Remove(key)
		}
	}
}
