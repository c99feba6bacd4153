package database

// ProjectRecord represents a row in the project table.
type ProjectRecord struct {
	ID             int64
	Name           string
	Parent         string
	IgnoreUpstream bool
}

// SrcPackageRecord represents a row in the srcpackage table. HasDelta is 0
// for no delta, 1 for a link carrying its own changes and 2 for a non-link
// package differing from the parent project.
type SrcPackageRecord struct {
	ID              int64
	ProjectID       int64
	Name            string
	Srcmd5          string
	Version         string
	LinkProject     string
	LinkPackage     string
	DevelProject    string
	DevelPackage    string
	UpstreamName    string
	UpstreamVersion string
	UpstreamURL     string
	IsLink          bool
	HasDelta        int
	Error           string
	ErrorDetails    string
}

// BinaryPackageRecord is a sub-package built from a source package.
type BinaryPackageRecord struct {
	ID           int64
	SrcPackageID int64
	Name         string
	Summary      string
	Description  string
}

// SourceRecord is a SourceN: declaration.
type SourceRecord struct {
	ID           int64
	SrcPackageID int64
	Filename     string
	NbInPack     int
}

// PatchRecord is a PatchN: declaration with its tag block.
type PatchRecord struct {
	ID           int64
	SrcPackageID int64
	Filename     string
	NbInPack     int
	ApplyOrder   int
	Disabled     bool
	Tag          string
	TagFilename  string
	ShortDescr   string
	Descr        string
	Bnc          int64
	Bgo          int64
	Bmo          int64
	Bln          int64
	Brc          int64
	Fate         int64
	Cve          int64
}

// FileRecord is one file of the package listing.
type FileRecord struct {
	ID           int64
	SrcPackageID int64
	Filename     string
	Mtime        int64
}

// RpmlintRecord is one rpmlint finding.
type RpmlintRecord struct {
	ID           int64
	SrcPackageID int64
	Level        string
	Type         string
	Detail       string
	Descr        string
}

// ProjectCounts summarises the source packages of a project.
type ProjectCounts struct {
	Name     string
	Packages int64
	Links    int64
	Errors   int64
}

// UpstreamRecord is the latest upstream version of a name in a branch.
type UpstreamRecord struct {
	ID         int64
	Branch     string
	Name       string
	Version    string
	URL        string
	IsFallback bool
	UpdatedAt  int64
}

// NameMatchRecord maps a source package to its upstream name.
type NameMatchRecord struct {
	SrcPackage   string
	UpstreamName string
	UpdatedAt    int64
}

// BranchRecord is an upstream branch and the mtime of its file when it was
// last read.
type BranchRecord struct {
	ID    int64
	Name  string
	Mtime int64
}

// ChangedName is a (branch, name) pair updated or removed after some time.
type ChangedName struct {
	Branch string
	Name   string
}
