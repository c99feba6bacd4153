package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/obs"
)

// refreshPackage brings the mirrored file set of a package in line with the
// build service. Listings are published last, so an interrupted refresh is
// retried by the next status check.
func (e *Engine) refreshPackage(ctx context.Context, project, pkg string) error {
	dir := e.packageDir(project, pkg)
	filesPath := filepath.Join(dir, obs.FilesFile)
	expandedPath := filepath.Join(dir, obs.ExpandedFilesFile)

	localFiles := e.readListing(filesPath)
	localExpanded := e.readListing(expandedPath)

	data, err := e.client.fetch(ctx, packagePath(project, pkg), nil, metadata)
	if errors.Is(err, ErrNotFound) {
		slog.Info("package does not exist, cleaning it", "project", project, "package", pkg)
		return e.RemoveCheckoutPackage(project, pkg)
	}
	if err != nil {
		return err
	}
	files, err := obs.ParseDirectory(data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	keep := map[string]bool{obs.FilesFile: true, obs.MetaFile: true}

	var (
		expanded     *obs.Directory
		expandedData []byte
	)
	link, isLink := files.Link()
	if isLink {
		keep[obs.LinkFile] = true
		if err := e.syncFile(ctx, project, pkg, files, localFiles, obs.LinkFile, ""); err != nil {
			return err
		}
		if link.Error != "" {
			slog.Debug("broken link, only keeping _link", "project", project, "package", pkg, "error", link.Error)
		} else {
			expanded, expandedData, err = e.expandedListing(ctx, project, pkg, link, localExpanded)
			if err != nil {
				return err
			}
			keep[obs.ExpandedFilesFile] = true
		}
	}

	if !isLink || expanded != nil {
		listing, local, rev := files, localFiles, ""
		if expanded != nil {
			listing, local, rev = expanded, localExpanded, link.Xsrcmd5
		}
		for _, entry := range listing.Entries {
			if !obs.IsSpecFile(entry.Name) {
				continue
			}
			keep[entry.Name] = true
			if err := e.syncFile(ctx, project, pkg, listing, local, entry.Name, rev); err != nil {
				return err
			}
		}
	}

	if e.cfg.RpmlintEnabled() && e.syncRpmlint(ctx, project, pkg) {
		keep[obs.RpmlintFile] = true
	}

	if expanded != nil {
		if err := e.publishListing(expandedPath, expandedData, expanded); err != nil {
			return err
		}
	} else if err := e.dropListing(expandedPath); err != nil {
		return err
	}
	if err := e.publishListing(filesPath, data, files); err != nil {
		return err
	}

	return e.cleanup(dir, keep)
}

// expandedListing returns the listing of a link after expansion, reusing the
// mirrored copy when it is already at the link's expanded revision.
func (e *Engine) expandedListing(ctx context.Context, project, pkg string, link obs.LinkInfo, local *obs.Directory) (*obs.Directory, []byte, error) {
	if local != nil && link.Xsrcmd5 != "" && local.Srcmd5 == link.Xsrcmd5 {
		data, err := os.ReadFile(filepath.Join(e.packageDir(project, pkg), obs.ExpandedFilesFile))
		if err == nil {
			return local, data, nil
		}
	}

	query := url.Values{"expand": {"1"}}
	if link.Xsrcmd5 != "" {
		query.Set("rev", link.Xsrcmd5)
	}
	data, err := e.client.fetch(ctx, packagePath(project, pkg), query, metadata)
	if err != nil {
		return nil, nil, err
	}
	d, err := obs.ParseDirectory(data)
	if err != nil {
		return nil, nil, err
	}
	return d, data, nil
}

// syncFile downloads name unless the mirrored copy is known to match the
// listing entry: same md5 and mtime in the previous listing, and the content
// on disk hashes to that md5.
func (e *Engine) syncFile(ctx context.Context, project, pkg string, listing, local *obs.Directory, name, rev string) error {
	entry, ok := listing.Entry(name)
	if !ok {
		return fmt.Errorf("%s/%s: %s is not in the listing", project, pkg, name)
	}
	path := filepath.Join(e.packageDir(project, pkg), name)

	if local != nil {
		if old, ok := local.Entry(name); ok && old.MD5 == entry.MD5 && old.Mtime == entry.Mtime {
			same, err := filesystem.VerifyFile(path, entry.MD5)
			if err == nil && same {
				return nil
			}
		}
	}

	var query url.Values
	if rev != "" {
		query = url.Values{"rev": {rev}}
	}
	data, err := e.client.fetch(ctx, packagePath(project, pkg)+"/"+url.PathEscape(name), query, content)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", name, err)
	}
	if err := filesystem.WriteAtomic(path, data); err != nil {
		return err
	}
	e.downloads.Add(1)
	return nil
}

// syncRpmlint mirrors the rpmlint report of a package and reports whether a
// report is kept. A fetch failure keeps the previous report.
func (e *Engine) syncRpmlint(ctx context.Context, project, pkg string) bool {
	path := filepath.Join(e.packageDir(project, pkg), obs.RpmlintFile)
	remote := fmt.Sprintf("/build/%s/%s/%s/%s/rpmlint.log",
		url.PathEscape(project), url.PathEscape(e.cfg.RpmlintRepository), url.PathEscape(e.cfg.RpmlintArch), url.PathEscape(pkg))

	data, err := e.client.fetch(ctx, remote, nil, content)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		slog.Warn("cannot fetch rpmlint report", "project", project, "package", pkg, "err", err)
		return filesystem.FileExists(path)
	}

	changed, err := filesystem.WriteIfChanged(path, data)
	if err != nil {
		slog.Warn("cannot write rpmlint report", "project", project, "package", pkg, "err", err)
		return filesystem.FileExists(path)
	}
	if changed {
		e.downloads.Add(1)
	}
	return true
}

// cleanup removes everything in dir that is not in keep. _meta and its
// temporary files belong to the meta refresh, which may run concurrently.
func (e *Engine) cleanup(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if keep[entry.Name()] || strings.HasPrefix(entry.Name(), obs.MetaFile) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		e.listings.Remove(path)
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		e.removed.Add(1)
	}
	return nil
}

func (e *Engine) refreshPackageMeta(ctx context.Context, project, pkg string) error {
	data, err := e.client.fetch(ctx, packagePath(project, pkg)+"/"+obs.MetaFile, nil, metadata)
	if errors.Is(err, ErrNotFound) {
		slog.Info("package does not exist, cleaning it", "project", project, "package", pkg)
		return e.RemoveCheckoutPackage(project, pkg)
	}
	if err != nil {
		return err
	}
	meta, err := obs.ParsePackageMeta(data)
	if err != nil {
		return err
	}

	if _, err := filesystem.WriteIfChanged(filepath.Join(e.packageDir(project, pkg), obs.MetaFile), data); err != nil {
		return err
	}

	if p := e.cfg.Project(project); p != nil && p.CheckoutDevelProjects {
		if develProject, develPackage, ok := meta.DevelTarget(); ok {
			e.queueDevel(develProject, develPackage)
		}
	}
	return nil
}
