package hermes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(id int64, project, pkg string) Event {
	return Event{ID: id, Kind: Commit, Project: project, Package: pkg}
}

func TestStripCollapsesRedundantCommits(t *testing.T) {
	out := Strip([]Event{commit(108, "A", "p"), commit(110, "A", "p"), commit(109, "A", "p")})
	assert.Equal(t, []Event{commit(110, "A", "p")}, out)
}

func TestStripDropsEventsBeforeDeletion(t *testing.T) {
	events := []Event{
		commit(1, "A", "p"),
		{ID: 2, Kind: PackageMetaChanged, Project: "A", Package: "p"},
		{ID: 3, Kind: PackageDeleted, Project: "A", Package: "p"},
		commit(4, "B", "q"),
		{ID: 5, Kind: ProjectDeleted, Project: "B"},
		{ID: 6, Kind: ProjectDeleted, Project: "B"},
	}

	out := Strip(events)
	assert.Equal(t, []Event{
		{ID: 6, Kind: ProjectDeleted, Project: "B"},
		{ID: 3, Kind: PackageDeleted, Project: "A", Package: "p"},
	}, out)
}

func TestStripDropsDeletionOfResurrectedPackage(t *testing.T) {
	events := []Event{
		{ID: 1, Kind: PackageDeleted, Project: "A", Package: "p"},
		commit(2, "A", "p"),
	}
	assert.Equal(t, []Event{commit(2, "A", "p")}, Strip(events))
}

func TestStripCollapsesAddIntoCommitAndMeta(t *testing.T) {
	events := []Event{
		{ID: 1, Kind: PackageAdded, Project: "A", Package: "p"},
		{ID: 2, Kind: PackageMetaChanged, Project: "A", Package: "p"},
		commit(3, "A", "p"),
		{ID: 4, Kind: PackageAdded, Project: "A", Package: "q"},
		commit(5, "A", "q"),
	}

	out := Strip(events)
	assert.Equal(t, []Event{
		commit(5, "A", "q"),
		{ID: 4, Kind: PackageAdded, Project: "A", Package: "q"},
		commit(3, "A", "p"),
		{ID: 2, Kind: PackageMetaChanged, Project: "A", Package: "p"},
	}, out)
}

func TestStripIsIdempotent(t *testing.T) {
	events := []Event{
		{ID: 1, Kind: PackageAdded, Project: "A", Package: "p"},
		{ID: 2, Kind: PackageDeleted, Project: "A", Package: "p"},
		commit(3, "A", "p"),
		{ID: 4, Kind: PackageMetaChanged, Project: "A", Package: "p"},
		commit(5, "A", "p"),
		{ID: 6, Kind: ProjectDeleted, Project: "C"},
		commit(7, "C", "x"),
		{ID: 8, Kind: PackageDeleted, Project: "B", Package: "y"},
		{ID: 9, Kind: PackageAdded, Project: "B", Package: "y"},
	}

	once := Strip(events)
	twice := Strip(once)
	assert.Equal(t, once, twice)
}

func TestFeedGetEvents(t *testing.T) {
	f := NewFeed(100, []Event{commit(103, "A", "pkg1"), commit(105, "B", "pkg1"), commit(99, "A", "old")})
	assert.Equal(t, int64(105), f.LastID)

	assert.Equal(t, []Event{commit(105, "B", "pkg1"), commit(103, "A", "pkg1")}, f.GetEvents(100, false))
	assert.Equal(t, []Event{commit(103, "A", "pkg1"), commit(105, "B", "pkg1")}, f.GetEvents(100, true))
	assert.Equal(t, []Event{commit(105, "B", "pkg1")}, f.GetEvents(103, false))
}

type feedItem struct {
	id      int64
	tag     string
	project string
	pkg     string
}

func renderFeed(items []feedItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>hermes</title>`)
	for _, it := range items {
		fmt.Fprintf(&b, `<item><title>[%s] something happened</title><guid>https://hermes.example.org/notification/%d</guid><description>project: %s
package: %s
sender: someone</description></item>`, it.tag, it.id, it.project, it.pkg)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

// pagedFeed serves items newest first, pageSize at a time, honouring last_id.
func pagedFeed(t *testing.T, items []feedItem, pageSize int, requests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		if !strings.HasPrefix(r.URL.Path, "/feeds/") || !strings.HasSuffix(r.URL.Path, ".rdf") {
			http.NotFound(w, r)
			return
		}

		var below int64 = 1 << 62
		if v := r.URL.Query().Get("last_id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "bad last_id", http.StatusBadRequest)
				return
			}
			below = n
		}

		var page []feedItem
		for _, it := range items {
			if it.id < below && len(page) < pageSize {
				page = append(page, it)
			}
		}
		_, _ = w.Write([]byte(renderFeed(page)))
	}))
}

func TestReaderPaginatesUntilCursor(t *testing.T) {
	items := []feedItem{
		{110, "OBS_SRCSRV_COMMIT", "A", "p"},
		{109, "OBS_SRCSRV_COMMIT", "A", "p"},
		{108, "obs_srcsrv_commit", "A", "p"},
		{107, "OBS_SRCSRV_UPDATE_PACKAGE", "B", "q"},
		{106, "OBS_SRCSRV_COMMIT", "", "p"},
		{105, "OBS_SRCSRV_SOMETHING_ELSE", "A", "p"},
		{104, "OBS_SRCSRV_DELETE_PROJECT", "C", ""},
		{100, "OBS_SRCSRV_COMMIT", "A", "too-old"},
		{99, "OBS_SRCSRV_COMMIT", "A", "older"},
	}
	var requests int32
	srv := pagedFeed(t, items, 3, &requests)
	defer srv.Close()

	r := NewReader(srv.Client(), srv.URL+"/", []string{"OBS_SRCSRV_COMMIT", "OBS_SRCSRV_DELETE_PROJECT"})
	feed, err := r.Read(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, int64(110), feed.LastID)
	assert.Equal(t, []Event{
		{ID: 104, Kind: ProjectDeleted, Project: "C"},
		{ID: 107, Kind: PackageMetaChanged, Project: "B", Package: "q"},
		commit(110, "A", "p"),
	}, feed.GetEvents(100, true))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestReaderStopsOnEmptyPage(t *testing.T) {
	var requests int32
	srv := pagedFeed(t, nil, 3, &requests)
	defer srv.Close()

	feed, err := NewReader(srv.Client(), srv.URL, []string{"OBS_SRCSRV_COMMIT"}).Read(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), feed.LastID)
	assert.Equal(t, 0, feed.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestReaderFirstRunOnlyLearnsNewestID(t *testing.T) {
	items := []feedItem{{42, "OBS_SRCSRV_COMMIT", "A", "p"}, {41, "OBS_SRCSRV_COMMIT", "A", "q"}}
	var requests int32
	srv := pagedFeed(t, items, 1, &requests)
	defer srv.Close()

	feed, err := NewReader(srv.Client(), srv.URL, []string{"OBS_SRCSRV_COMMIT"}).Read(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), feed.LastID)
	assert.Equal(t, 0, feed.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestReaderStopsWhenFeedStalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(renderFeed([]feedItem{{20, "OBS_SRCSRV_COMMIT", "A", "p"}})))
	}))
	defer srv.Close()

	feed, err := NewReader(srv.Client(), srv.URL, []string{"OBS_SRCSRV_COMMIT"}).Read(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []Event{commit(20, "A", "p")}, feed.GetEvents(10, false))
}

func TestReaderPageCap(t *testing.T) {
	var next int64 = 1000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := atomic.AddInt64(&next, -1)
		_, _ = w.Write([]byte(renderFeed([]feedItem{{id, "OBS_SRCSRV_COMMIT", "A", "p"}})))
	}))
	defer srv.Close()

	r := NewReader(srv.Client(), srv.URL, []string{"OBS_SRCSRV_COMMIT"})
	r.maxPages = 5
	_, err := r.Read(context.Background(), 1)
	require.ErrorIs(t, err, ErrTooManyPages)
}

func TestReaderRetriesOnceThenFails(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewReader(srv.Client(), srv.URL, []string{"OBS_SRCSRV_COMMIT"}).Read(context.Background(), 1)
	require.ErrorIs(t, err, ErrFeed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}
