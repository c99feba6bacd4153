// Package config loads the layered INI configuration of obsdb and resolves
// the on-disk locations derived from it.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/ini.v1"
)

// ErrInvalid marks configuration errors. They abort a run before anything is
// mutated.
var ErrInvalid = errors.New("invalid configuration")

//go:embed opensuse.conf
var opensuseDefaults []byte

// opensuseRevision stands in for the mtime of the embedded openSUSE layer. Bump
// it whenever opensuse.conf changes so that the next run does a full resync.
const opensuseRevision = 20240915

const projectSectionPrefix = "Project "

// DefaultFeeds are the hermes feeds describing source server mutations.
var DefaultFeeds = []string{
	"OBS_SRCSRV_COMMIT",
	"OBS_SRCSRV_DELETE_PROJECT",
	"OBS_SRCSRV_UPDATE_PACKAGE",
	"OBS_SRCSRV_CREATE_PACKAGE",
	"OBS_SRCSRV_DELETE_PACKAGE",
}

// Config is the resolved configuration of one run.
type Config struct {
	APIURL               string
	HermesBaseURL        string
	HermesFeeds          []string
	CacheDir             string
	IgnoreConfMtime      bool
	NoFullCheck          bool
	Threads              int
	SocketTimeout        time.Duration
	ThreadsSocketTimeout time.Duration
	RequestsPerSecond    float64
	RpmlintRepository    string
	RpmlintArch          string

	Debug Debug

	// Projects keeps the order of the [Project ...] sections.
	Projects []*Project

	// Mtime is the modification time of the user file, OpensuseMtime the
	// revision of the embedded layer (0 when it is not used).
	Mtime         int64
	OpensuseMtime int64

	byName map[string]*Project
}

// Debug holds the [Debug] toggles.
type Debug struct {
	Debug         bool
	MirrorOnlyNew bool
	ForceHermes   bool
	ForceUpstream bool
	ForceDB       bool
	ForceXML      bool
	SkipHermes    bool
	SkipMirror    bool
	SkipUpstream  bool
	SkipDB        bool
	SkipXML       bool
}

// Project is the configuration of one tracked project, with [Defaults]
// already applied.
type Project struct {
	Name                  string
	Parent                string
	Branches              []string
	ForceProjectParent    bool
	LenientDelta          bool
	IgnoreFallback        bool
	CheckoutDevelProjects bool
}

// Branch returns the primary upstream branch, or "" when the project does not
// follow upstream.
func (p *Project) Branch() string {
	if len(p.Branches) == 0 {
		return ""
	}
	return p.Branches[0]
}

// IgnoreUpstream reports whether upstream versions are irrelevant for the project.
func (p *Project) IgnoreUpstream() bool {
	return len(p.Branches) == 0
}

// Project returns the configuration of the named project, or nil.
func (c *Config) Project(name string) *Project {
	return c.byName[name]
}

// ProjectNames returns the configured project names in file order.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		names = append(names, p.Name)
	}
	return names
}

// DefaultCacheDir resolves the cache directory used when the configuration
// does not set one. OBSDB_CACHE_DIR wins over the XDG cache home.
func DefaultCacheDir() string {
	if explicit := os.Getenv("OBSDB_CACHE_DIR"); explicit != "" {
		return explicit
	}

	xdg.Reload()

	cacheHome := xdg.CacheHome
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "obsdb")
		}
		cacheHome = filepath.Join(home, ".cache")
	}

	return filepath.Join(cacheHome, "obsdb")
}

// MirrorDir is the root of the mirrored OBS tree.
func (c *Config) MirrorDir() string { return filepath.Join(c.CacheDir, "obs-mirror") }

// DBDir holds obs.db and upstream.db.
func (c *Config) DBDir() string { return filepath.Join(c.CacheDir, "db") }

// CatalogPath is the catalog store file.
func (c *Config) CatalogPath() string { return filepath.Join(c.DBDir(), "obs.db") }

// UpstreamDBPath is the upstream store file.
func (c *Config) UpstreamDBPath() string { return filepath.Join(c.DBDir(), "upstream.db") }

// UpstreamDir holds the upstream text databases.
func (c *Config) UpstreamDir() string { return filepath.Join(c.CacheDir, "upstream") }

// XMLDir receives one <project>.xml per project.
func (c *Config) XMLDir() string { return filepath.Join(c.CacheDir, "xml") }

// StatusPath is the persisted cursor file.
func (c *Config) StatusPath() string { return filepath.Join(c.CacheDir, "status", "last") }

// LockPath is the marker guarding against concurrent runs.
func (c *Config) LockPath() string { return filepath.Join(c.CacheDir, "running") }

// Load reads the configuration at path. With opensuse set, the embedded
// openSUSE defaults are loaded first and path overrides them; path may then be
// empty.
func Load(path string, opensuse bool) (*Config, error) {
	var sources []any
	if opensuse {
		sources = append(sources, opensuseDefaults)
	}

	var mtime int64
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		mtime = info.ModTime().Unix()
		sources = append(sources, path)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no configuration file given", ErrInvalid)
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, sources[0], sources[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	cfg, err := parse(file)
	if err != nil {
		return nil, err
	}

	cfg.Mtime = mtime
	if opensuse {
		cfg.OpensuseMtime = opensuseRevision
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(file *ini.File) (*Config, error) {
	general := file.Section("General")

	cfg := &Config{
		APIURL:            strings.TrimRight(general.Key("apiurl").String(), "/"),
		HermesBaseURL:     strings.TrimRight(general.Key("hermes-baseurl").String(), "/"),
		HermesFeeds:       splitList(general.Key("hermes-feeds").String()),
		CacheDir:          general.Key("cache-dir").String(),
		RpmlintRepository: general.Key("rpmlint-repository").String(),
		RpmlintArch:       general.Key("rpmlint-arch").String(),
		byName:            map[string]*Project{},
	}
	if len(cfg.HermesFeeds) == 0 {
		cfg.HermesFeeds = append([]string(nil), DefaultFeeds...)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir()
	} else {
		cfg.CacheDir = expandHome(cfg.CacheDir)
	}

	var err error
	if cfg.IgnoreConfMtime, err = boolKey(general, "ignore-conf-mtime", false); err != nil {
		return nil, err
	}
	if cfg.NoFullCheck, err = boolKey(general, "no-full-check", false); err != nil {
		return nil, err
	}
	if cfg.Threads, err = intKey(general, "threads", 10); err != nil {
		return nil, err
	}
	timeout, err := intKey(general, "sockettimeout", 30)
	if err != nil {
		return nil, err
	}
	cfg.SocketTimeout = time.Duration(timeout) * time.Second
	threadsTimeout, err := intKey(general, "threads-sockettimeout", timeout)
	if err != nil {
		return nil, err
	}
	cfg.ThreadsSocketTimeout = time.Duration(threadsTimeout) * time.Second
	if cfg.RequestsPerSecond, err = floatKey(general, "requests-per-second", 0); err != nil {
		return nil, err
	}

	if err := parseDebug(file.Section("Debug"), &cfg.Debug); err != nil {
		return nil, err
	}

	defaults := &Project{}
	if file.HasSection("Defaults") {
		if err := parseProject(file.Section("Defaults"), defaults); err != nil {
			return nil, err
		}
	}

	for _, section := range file.Sections() {
		if !strings.HasPrefix(section.Name(), projectSectionPrefix) {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(section.Name(), projectSectionPrefix))
		if name == "" {
			return nil, fmt.Errorf("%w: section %q has no project name", ErrInvalid, section.Name())
		}
		if _, dup := cfg.byName[name]; dup {
			return nil, fmt.Errorf("%w: project %s configured twice", ErrInvalid, name)
		}

		project := *defaults
		project.Name = name
		project.Branches = append([]string(nil), defaults.Branches...)
		if err := parseProject(section, &project); err != nil {
			return nil, err
		}
		cfg.Projects = append(cfg.Projects, &project)
		cfg.byName[name] = &project
	}

	return cfg, nil
}

func parseDebug(section *ini.Section, d *Debug) error {
	fields := []struct {
		key  string
		dest *bool
	}{
		{"debug", &d.Debug},
		{"mirror-only-new", &d.MirrorOnlyNew},
		{"force-hermes", &d.ForceHermes},
		{"force-upstream", &d.ForceUpstream},
		{"force-db", &d.ForceDB},
		{"force-xml", &d.ForceXML},
		{"skip-hermes", &d.SkipHermes},
		{"skip-mirror", &d.SkipMirror},
		{"skip-upstream", &d.SkipUpstream},
		{"skip-db", &d.SkipDB},
		{"skip-xml", &d.SkipXML},
	}
	for _, f := range fields {
		v, err := boolKey(section, f.key, false)
		if err != nil {
			return err
		}
		*f.dest = v
	}
	return nil
}

func parseProject(section *ini.Section, p *Project) error {
	if section.HasKey("parent") {
		p.Parent = strings.TrimSpace(section.Key("parent").String())
	}
	if section.HasKey("branches") {
		p.Branches = splitList(section.Key("branches").String())
	}

	var err error
	if p.CheckoutDevelProjects, err = boolKey(section, "checkout-devel-projects", p.CheckoutDevelProjects); err != nil {
		return err
	}
	if p.ForceProjectParent, err = boolKey(section, "force-project-parent", p.ForceProjectParent); err != nil {
		return err
	}
	if p.LenientDelta, err = boolKey(section, "lenient-delta", p.LenientDelta); err != nil {
		return err
	}
	if p.IgnoreFallback, err = boolKey(section, "ignore-fallback", p.IgnoreFallback); err != nil {
		return err
	}
	return nil
}

// Validate checks the cross-field rules of the configuration.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("%w: [General] apiurl is required", ErrInvalid)
	}
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1, got %d", ErrInvalid, c.Threads)
	}
	if c.SocketTimeout <= 0 || c.ThreadsSocketTimeout <= 0 {
		return fmt.Errorf("%w: socket timeouts must be positive", ErrInvalid)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests-per-second must not be negative", ErrInvalid)
	}
	if (c.RpmlintRepository == "") != (c.RpmlintArch == "") {
		return fmt.Errorf("%w: rpmlint-repository and rpmlint-arch must be set together", ErrInvalid)
	}
	for _, p := range c.Projects {
		if p.Parent == "" {
			continue
		}
		if p.Parent == p.Name {
			return fmt.Errorf("%w: project %s is its own parent", ErrInvalid, p.Name)
		}
		if c.byName[p.Parent] == nil {
			return fmt.Errorf("%w: parent %s of project %s is not configured", ErrInvalid, p.Parent, p.Name)
		}
	}
	return nil
}

// RpmlintEnabled reports whether rpmlint reports are mirrored and ingested.
func (c *Config) RpmlintEnabled() bool {
	return c.RpmlintRepository != "" && c.RpmlintArch != ""
}

func boolKey(section *ini.Section, name string, def bool) (bool, error) {
	if !section.HasKey(name) {
		return def, nil
	}
	v, err := section.Key(name).Bool()
	if err != nil {
		return false, fmt.Errorf("%w: [%s] %s: %w", ErrInvalid, section.Name(), name, err)
	}
	return v, nil
}

func intKey(section *ini.Section, name string, def int) (int, error) {
	if !section.HasKey(name) {
		return def, nil
	}
	v, err := section.Key(name).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: [%s] %s: %w", ErrInvalid, section.Name(), name, err)
	}
	return v, nil
}

func floatKey(section *ini.Section, name string, def float64) (float64, error) {
	if !section.HasKey(name) {
		return def, nil
	}
	v, err := section.Key(name).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: [%s] %s: %w", ErrInvalid, section.Name(), name, err)
	}
	return v, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
