package sqldb

type DbVersion struct {
	Major int64
	Minor int64
}

type Project struct {
	ID             int64
	Name           string
	Parent         string
	IgnoreUpstream int64
}

type Srcpackage struct {
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
	UpstreamUrl     string
	IsLink          int64
	HasDelta        int64
	Error           string
	ErrorDetails    string
}

type Package struct {
	ID           int64
	SrcpackageID int64
	Name         string
	Summary      string
	Description  string
}

type Source struct {
	ID           int64
	SrcpackageID int64
	Filename     string
	NbInPack     int64
}

type Patch struct {
	ID           int64
	SrcpackageID int64
	Filename     string
	NbInPack     int64
	ApplyOrder   int64
	Disabled     int64
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

type File struct {
	ID           int64
	SrcpackageID int64
	Filename     string
	Mtime        int64
}

type Rpmlint struct {
	ID           int64
	SrcpackageID int64
	Level        string
	Type         string
	Detail       string
	Descr        string
}

type Branch struct {
	ID    int64
	Name  string
	Mtime int64
}

type NameMatch struct {
	Srcpackage   string
	UpstreamName string
	UpdatedAt    int64
}

type Upstream struct {
	ID         int64
	BranchID   int64
	Name       string
	Version    string
	Url        string
	IsFallback int64
	UpdatedAt  int64
}

type Removed struct {
	Branch    string
	Name      string
	RemovedAt int64
}
