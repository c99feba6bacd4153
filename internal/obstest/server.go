// Package obstest provides an in-memory build service and hermes feed for
// tests.
package obstest

import (
	"crypto/md5" //nolint:gosec // OBS identifies files by md5
	"encoding/hex"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mtime is the modification time reported for every file.
const Mtime = 1700000000

// Package is a source package served by the fake.
type Package struct {
	// Files are the files of the unexpanded package, _link included.
	Files map[string]string
	// Expanded are the files after link expansion; nil means Files.
	Expanded map[string]string
	// LinkProject and LinkPackage make the package a link.
	LinkProject string
	LinkPackage string
	LinkError   string
	// DevelProject and DevelPackage go into _meta.
	DevelProject string
	DevelPackage string
	Version      string
	Rpmlint      string
}

// IsLink reports whether the package is a link.
func (p *Package) IsLink() bool {
	return p.LinkProject != ""
}

// Event is an entry of the fake hermes feed.
type Event struct {
	ID      int64
	Tag     string
	Project string
	Package string
}

// Server is a fake build service. Paths are counted as they are requested.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	projects map[string]map[string]*Package
	events   []Event
	nextID   int64
	hits     map[string]int

	// HangPaths never answer until the client goes away.
	HangPaths map[string]bool
	// BadStatus answers 400 to the status of these projects.
	BadStatus map[string]bool
	// EmptyPaths answer 200 with an empty body.
	EmptyPaths map[string]bool
	// PageSize bounds the number of feed entries per page.
	PageSize int
}

// New starts a fake server. Close it when done.
func New() *Server {
	s := &Server{
		projects:   map[string]map[string]*Package{},
		hits:       map[string]int{},
		HangPaths:  map[string]bool{},
		BadStatus:  map[string]bool{},
		EmptyPaths: map[string]bool{},
		nextID:     100,
		PageSize:   50,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// HermesURL is the base URL of the fake feed.
func (s *Server) HermesURL() string {
	return s.URL + "/hermes"
}

// AddProject declares an empty project.
func (s *Server) AddProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projects[project] == nil {
		s.projects[project] = map[string]*Package{}
	}
}

// SetPackage creates or replaces a package.
func (s *Server) SetPackage(project, name string, p *Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projects[project] == nil {
		s.projects[project] = map[string]*Package{}
	}
	s.projects[project][name] = p
}

// SetFile changes one file of a package, in both its plain and expanded views.
func (s *Server) SetFile(project, name, file, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[project][name]
	p.Files[file] = content
	if p.Expanded != nil {
		p.Expanded[file] = content
	}
}

// DeletePackage removes a package.
func (s *Server) DeletePackage(project, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects[project], name)
}

// DeleteProject removes a project.
func (s *Server) DeleteProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, project)
}

// AddEvent appends an entry to the feed and returns its id.
func (s *Server) AddEvent(tag, project, pkg string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.events = append(s.events, Event{ID: s.nextID, Tag: tag, Project: project, Package: pkg})
	return s.nextID
}

// SetPageSize changes the number of feed entries per page.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PageSize = n
}

// LastEventID returns the id of the newest feed entry.
func (s *Server) LastEventID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Hits returns how often path was requested.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// ResetHits clears the request counters.
func (s *Server) ResetHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = map[string]int{}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	s.mu.Lock()
	s.hits[path]++
	hang := s.HangPaths[path]
	empty := s.EmptyPaths[path]
	s.mu.Unlock()

	if hang {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Minute):
		}
		return
	}
	if empty {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case parts[0] == "hermes":
		s.serveFeed(w, r)
	case parts[0] == "search" && len(parts) == 2 && parts[1] == "package":
		s.serveSearch(w, r)
	case parts[0] == "status" && len(parts) == 3 && parts[1] == "project":
		s.serveStatus(w, parts[2])
	case parts[0] == "source" && len(parts) == 2:
		s.serveProject(w, parts[1])
	case parts[0] == "source" && len(parts) == 3:
		s.servePackage(w, r, parts[1], parts[2])
	case parts[0] == "source" && len(parts) == 4:
		s.serveFile(w, r, parts[1], parts[2], parts[3])
	case parts[0] == "build" && len(parts) == 6 && parts[5] == "rpmlint.log":
		s.serveRpmlint(w, parts[1], parts[4])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) pkg(project, name string) *Package {
	return s.projects[project][name]
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hash(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Srcmd5 returns the md5 of a file set.
func Srcmd5(files map[string]string) string {
	var b strings.Builder
	for _, name := range sortedNames(files) {
		fmt.Fprintf(&b, "%s %s\n", hash(files[name]), name)
	}
	return hash(b.String())
}

func (p *Package) expandedFiles() map[string]string {
	if p.Expanded != nil {
		return p.Expanded
	}
	return p.Files
}

func (p *Package) xsrcmd5() string {
	return Srcmd5(p.expandedFiles())
}

func writeEntries(b *strings.Builder, files map[string]string) {
	for _, name := range sortedNames(files) {
		fmt.Fprintf(b, `<entry name="%s" md5="%s" size="%d" mtime="%d"/>`, html.EscapeString(name), hash(files[name]), len(files[name]), Mtime)
	}
}

func (s *Server) serveProject(w http.ResponseWriter, project string) {
	packages, ok := s.projects[project]
	if !ok {
		http.Error(w, "unknown project", http.StatusNotFound)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<directory count="%d">`, len(packages))
	for _, name := range sortedNames(packages) {
		fmt.Fprintf(&b, `<entry name="%s"/>`, html.EscapeString(name))
	}
	b.WriteString(`</directory>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) servePackage(w http.ResponseWriter, r *http.Request, project, name string) {
	p := s.pkg(project, name)
	if p == nil {
		http.Error(w, "unknown package", http.StatusNotFound)
		return
	}

	var b strings.Builder
	if r.URL.Query().Get("expand") == "1" {
		files := p.expandedFiles()
		fmt.Fprintf(&b, `<directory name="%s" srcmd5="%s">`, name, Srcmd5(files))
		writeEntries(&b, files)
		b.WriteString(`</directory>`)
		_, _ = w.Write([]byte(b.String()))
		return
	}

	fmt.Fprintf(&b, `<directory name="%s" rev="1" srcmd5="%s">`, name, Srcmd5(p.Files))
	if p.IsLink() {
		if p.LinkError != "" {
			fmt.Fprintf(&b, `<linkinfo project="%s" package="%s" srcmd5="%s" lsrcmd5="%s" error="%s"/>`,
				p.LinkProject, p.LinkPackage, Srcmd5(p.Files), Srcmd5(p.Files), html.EscapeString(p.LinkError))
		} else {
			fmt.Fprintf(&b, `<linkinfo project="%s" package="%s" srcmd5="%s" xsrcmd5="%s" lsrcmd5="%s"/>`,
				p.LinkProject, p.LinkPackage, Srcmd5(p.Files), p.xsrcmd5(), Srcmd5(p.Files))
		}
	}
	writeEntries(&b, p.Files)
	b.WriteString(`</directory>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) meta(project, name string, p *Package) string {
	devel := ""
	if p.DevelProject != "" {
		devel = fmt.Sprintf(`<devel project="%s" package="%s"/>`, p.DevelProject, p.DevelPackage)
	}
	return fmt.Sprintf(`<package name="%s" project="%s"><title>%s</title>%s</package>`, name, project, name, devel)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, project, name, file string) {
	p := s.pkg(project, name)
	if p == nil {
		http.Error(w, "unknown package", http.StatusNotFound)
		return
	}
	if file == "_meta" {
		_, _ = w.Write([]byte(s.meta(project, name, p)))
		return
	}

	files := p.Files
	if r.URL.Query().Get("rev") != "" {
		files = p.expandedFiles()
	}
	data, ok := files[file]
	if !ok {
		http.Error(w, "unknown file", http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(data))
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request) {
	match := r.URL.Query().Get("match")
	project := strings.TrimSuffix(strings.TrimPrefix(match, "@project='"), "'")

	var b strings.Builder
	b.WriteString(`<collection>`)
	packages := s.projects[project]
	for _, name := range sortedNames(packages) {
		b.WriteString(s.meta(project, name, packages[name]))
	}
	b.WriteString(`</collection>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) serveStatus(w http.ResponseWriter, project string) {
	if s.BadStatus[project] {
		http.Error(w, "no status", http.StatusBadRequest)
		return
	}
	packages, ok := s.projects[project]
	if !ok {
		http.Error(w, "unknown project", http.StatusNotFound)
		return
	}

	var b strings.Builder
	b.WriteString(`<packages>`)
	for _, name := range sortedNames(packages) {
		p := packages[name]
		version := p.Version
		if version == "" {
			version = "1.0"
		}
		if p.IsLink() {
			fmt.Fprintf(&b, `<package project="%s" name="%s" version="%s" srcmd5="%s" verifymd5="%s"><link project="%s" package="%s"/></package>`,
				project, name, version, Srcmd5(p.Files), p.xsrcmd5(), p.LinkProject, p.LinkPackage)
		} else {
			fmt.Fprintf(&b, `<package project="%s" name="%s" version="%s" srcmd5="%s"/>`, project, name, version, Srcmd5(p.Files))
		}
	}
	b.WriteString(`</packages>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) serveRpmlint(w http.ResponseWriter, project, name string) {
	p := s.pkg(project, name)
	if p == nil || p.Rpmlint == "" {
		http.Error(w, "no report", http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(p.Rpmlint))
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	below := int64(1 << 62)
	if v := r.URL.Query().Get("last_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "bad last_id", http.StatusBadRequest)
			return
		}
		below = n
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>hermes</title>`)
	count := 0
	for i := len(s.events) - 1; i >= 0 && count < s.PageSize; i-- {
		e := s.events[i]
		if e.ID >= below {
			continue
		}
		count++
		fmt.Fprintf(&b, "<item><title>[%s] %s</title><guid>%s/notification/%d</guid><description>project: %s\npackage: %s</description></item>",
			e.Tag, e.Tag, s.URL, e.ID, html.EscapeString(e.Project), html.EscapeString(e.Package))
	}
	b.WriteString(`</channel></rss>`)
	_, _ = w.Write([]byte(b.String()))
}
