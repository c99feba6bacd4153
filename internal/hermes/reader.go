package hermes

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// MaxPages bounds the number of feed pages read in one run. Needing more
// means the cursor is too old for the feed to be trusted.
const MaxPages = 100

var (
	// ErrTooManyPages is returned when MaxPages pages did not reach the cursor.
	ErrTooManyPages = errors.New("hermes: too many feed pages")
	// ErrFeed wraps transport and decoding failures of the feed.
	ErrFeed = errors.New("hermes: cannot read feed")
)

// Reader fetches and paginates the hermes feed.
type Reader struct {
	client   *http.Client
	baseURL  string
	feeds    []string
	maxPages int
}

// NewReader returns a reader for the given feeds below baseURL.
func NewReader(client *http.Client, baseURL string, feeds []string) *Reader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Reader{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		feeds:    feeds,
		maxPages: MaxPages,
	}
}

// Feed is the stripped result of one read.
type Feed struct {
	// LastID is the newest id seen in the feed, or the cursor the read
	// started from when the feed had nothing newer.
	LastID int64

	events []Event
}

// NewFeed builds a feed from already parsed events and strips it.
func NewFeed(lastID int64, events []Event) *Feed {
	f := &Feed{LastID: lastID, events: events}
	for _, e := range events {
		if e.ID > f.LastID {
			f.LastID = e.ID
		}
	}
	f.Strip()
	return f
}

// Strip applies Strip to the feed in place.
func (f *Feed) Strip() {
	f.events = Strip(f.events)
}

// GetEvents returns the events newer than sinceID, newest first, or in
// chronological order when reverse is set.
func (f *Feed) GetEvents(sinceID int64, reverse bool) []Event {
	var out []Event
	for _, e := range f.events {
		if e.ID > sinceID {
			out = append(out, e)
		}
	}
	if reverse {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out
}

// Len returns the number of events kept after stripping.
func (f *Feed) Len() int {
	return len(f.events)
}

// Read collects every event newer than sinceID. With sinceID == -1 only the
// first page is read, to learn the newest id.
func (r *Reader) Read(ctx context.Context, sinceID int64) (*Feed, error) {
	byID := map[int64]Event{}
	lastID := sinceID
	var cursor int64 = -1

	for page := 0; ; page++ {
		if page == r.maxPages {
			return nil, fmt.Errorf("%w: %d pages read without reaching id %d", ErrTooManyPages, page, sinceID)
		}

		entries, err := r.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}

		pageMin := entries[0].id
		for _, entry := range entries {
			pageMin = min(pageMin, entry.id)
			lastID = max(lastID, entry.id)
			if sinceID < 0 || entry.id <= sinceID {
				continue
			}
			if e, ok := entry.event(); ok {
				byID[e.ID] = e
			}
		}

		if sinceID < 0 || pageMin <= sinceID {
			break
		}
		if cursor >= 0 && pageMin >= cursor {
			slog.Warn("hermes feed does not progress, stopping", "id", pageMin)
			break
		}
		cursor = pageMin
	}

	events := make([]Event, 0, len(byID))
	for _, e := range byID {
		events = append(events, e)
	}
	return NewFeed(lastID, events), nil
}

func (r *Reader) pageURL(cursor int64) string {
	u := fmt.Sprintf("%s/feeds/%s.rdf", r.baseURL, strings.Join(r.feeds, ","))
	if cursor >= 0 {
		u += "?" + url.Values{"last_id": {strconv.FormatInt(cursor, 10)}}.Encode()
	}
	return u
}

func (r *Reader) fetchPage(ctx context.Context, cursor int64) ([]feedEntry, error) {
	u := r.pageURL(cursor)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		data, err := r.get(ctx, u)
		if err == nil {
			entries, perr := parseFeed(data)
			if perr != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrFeed, u, perr)
			}
			return entries, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Debug("hermes fetch failed", "url", u, "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrFeed, u, lastErr)
}

func (r *Reader) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
}

type feedEntry struct {
	id      int64
	kind    Kind
	project string
	pkg     string
	title   string
}

func parseFeed(data []byte) ([]feedEntry, error) {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	entries := make([]feedEntry, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		id, ok := trailingID(item.GUID)
		if !ok {
			id, ok = trailingID(item.Link)
		}
		if !ok {
			slog.Warn("hermes entry without id, skipping", "title", item.Title)
			continue
		}

		fields := parseDescription(item.Description)
		entries = append(entries, feedEntry{
			id:      id,
			kind:    kindFromTitle(item.Title),
			project: fields["project"],
			pkg:     fields["package"],
			title:   item.Title,
		})
	}
	return entries, nil
}

// event converts a raw entry, dropping unknown kinds and buggy entries.
func (e feedEntry) event() (Event, bool) {
	if e.kind == 0 {
		slog.Debug("ignoring hermes entry of unknown type", "id", e.id, "title", e.title)
		return Event{}, false
	}
	if e.project == "" || (e.kind.TargetsPackage() && e.pkg == "") {
		slog.Warn("buggy hermes entry, skipping", "id", e.id, "kind", e.kind, "project", e.project, "package", e.pkg)
		return Event{}, false
	}

	ev := Event{ID: e.id, Kind: e.kind, Project: e.project}
	if e.kind.TargetsPackage() {
		ev.Package = e.pkg
	}
	return ev, true
}

func kindFromTitle(title string) Kind {
	title = strings.TrimSpace(title)
	if !strings.HasPrefix(title, "[") {
		return 0
	}
	end := strings.Index(title, "]")
	if end < 0 {
		return 0
	}
	return feedTags[strings.ToUpper(strings.TrimSpace(title[1:end]))]
}

func parseDescription(description string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(description, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, dup := fields[key]; dup {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

func trailingID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := len(s)
	start := end
	for start > 0 && unicode.IsDigit(rune(s[start-1])) {
		start--
	}
	if start == end {
		return 0, false
	}
	id, err := strconv.ParseInt(s[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
