// Package obs models the XML documents served by the OBS API and kept in the
// mirror tree.
package obs

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Names of the bookkeeping files stored in a mirrored package directory.
const (
	FilesFile         = "_files"
	ExpandedFilesFile = "_files-expanded"
	LinkFile          = "_link"
	MetaFile          = "_meta"
	RpmlintFile       = "_rpmlint"
	PkgMetaFile       = "_pkgmeta"
)

// Directory is a source directory listing: the package list of a project, or
// the file list of a package.
type Directory struct {
	XMLName   xml.Name   `xml:"directory"`
	Name      string     `xml:"name,attr"`
	Rev       string     `xml:"rev,attr"`
	Srcmd5    string     `xml:"srcmd5,attr"`
	LinkInfos []LinkInfo `xml:"linkinfo"`
	Entries   []Entry    `xml:"entry"`
}

// LinkInfo describes the link target of a package listing.
type LinkInfo struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr"`
	Srcmd5  string `xml:"srcmd5,attr"`
	Xsrcmd5 string `xml:"xsrcmd5,attr"`
	Lsrcmd5 string `xml:"lsrcmd5,attr"`
	Error   string `xml:"error,attr"`
}

// Entry is one file (or package) of a listing.
type Entry struct {
	Name  string `xml:"name,attr"`
	MD5   string `xml:"md5,attr"`
	Size  int64  `xml:"size,attr"`
	Mtime int64  `xml:"mtime,attr"`
}

// ParseDirectory decodes a listing.
func ParseDirectory(data []byte) (*Directory, error) {
	var d Directory
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid directory listing: %w", err)
	}
	return &d, nil
}

// ReadDirectory decodes the listing stored at path.
func ReadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDirectory(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Link returns the link information of a package listing. A listing is a
// link iff it carries exactly one linkinfo with a non-empty xsrcmd5 or
// lsrcmd5; listings with several linkinfo records are reported and treated as
// plain packages.
func (d *Directory) Link() (LinkInfo, bool) {
	switch len(d.LinkInfos) {
	case 0:
		return LinkInfo{}, false
	case 1:
	default:
		slog.Warn("listing has more than one linkinfo, treating as non-link", "package", d.Name, "count", len(d.LinkInfos))
		return LinkInfo{}, false
	}

	li := d.LinkInfos[0]
	if li.Xsrcmd5 == "" && li.Lsrcmd5 == "" {
		return LinkInfo{}, false
	}
	return li, true
}

// IsLink reports whether the listing describes a link package.
func (d *Directory) IsLink() bool {
	_, ok := d.Link()
	return ok
}

// Entry looks up a listing entry by name.
func (d *Directory) Entry(name string) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns the entry names in listing order.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		names = append(names, e.Name)
	}
	return names
}

// IsSpecFile reports whether name is a spec file worth mirroring.
func IsSpecFile(name string) bool {
	return strings.HasSuffix(name, ".spec")
}

// Link is the content of a _link file.
type Link struct {
	XMLName xml.Name `xml:"link"`
	Project string   `xml:"project,attr"`
	Package string   `xml:"package,attr"`
	Baserev string   `xml:"baserev,attr"`
	Patches *Patches `xml:"patches"`
}

// Patches lists the changes a link applies on top of its target.
type Patches struct {
	Apply  []NamedPatch `xml:"apply"`
	Add    []NamedPatch `xml:"add"`
	Delete []NamedPatch `xml:"delete"`
	Branch *struct{}    `xml:"branch"`
}

// NamedPatch is an <apply/>, <add/> or <delete/> element.
type NamedPatch struct {
	Name string `xml:"name,attr"`
}

// ParseLink decodes a _link file.
func ParseLink(data []byte) (*Link, error) {
	var l Link
	if err := xml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("invalid _link: %w", err)
	}
	return &l, nil
}

// HasPatches reports whether the link carries changes of its own.
func (l *Link) HasPatches() bool {
	if l.Patches == nil {
		return false
	}
	p := l.Patches
	return len(p.Apply) > 0 || len(p.Add) > 0 || len(p.Delete) > 0 || p.Branch != nil
}

// PackageMeta is a package _meta document, or one element of a _pkgmeta
// collection.
type PackageMeta struct {
	XMLName xml.Name `xml:"package"`
	Name    string   `xml:"name,attr"`
	Project string   `xml:"project,attr"`
	Title   string   `xml:"title"`
	Devel   *Devel   `xml:"devel"`
}

// Devel points at the devel package of a package.
type Devel struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr"`
}

// DevelTarget returns the devel (project, package) pair; an omitted package
// means the same name as the package itself.
func (m *PackageMeta) DevelTarget() (project, pkg string, ok bool) {
	if m.Devel == nil || m.Devel.Project == "" {
		return "", "", false
	}
	pkg = m.Devel.Package
	if pkg == "" {
		pkg = m.Name
	}
	return m.Devel.Project, pkg, true
}

// ParsePackageMeta decodes a _meta file.
func ParsePackageMeta(data []byte) (*PackageMeta, error) {
	var m PackageMeta
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid _meta: %w", err)
	}
	return &m, nil
}

// Collection is the result of a package search: the _pkgmeta of a project.
type Collection struct {
	XMLName  xml.Name      `xml:"collection"`
	Packages []PackageMeta `xml:"package"`
}

// ParseCollection decodes a _pkgmeta file.
func ParseCollection(data []byte) (*Collection, error) {
	var c Collection
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid package collection: %w", err)
	}
	return &c, nil
}

// ProjectStatus is the answer of /status/project/<name>.
type ProjectStatus struct {
	XMLName  xml.Name        `xml:"packages"`
	Packages []PackageStatus `xml:"package"`
}

// PackageStatus summarises the state of one package of a project.
type PackageStatus struct {
	Name      string      `xml:"name,attr"`
	Project   string      `xml:"project,attr"`
	Version   string      `xml:"version,attr"`
	Srcmd5    string      `xml:"srcmd5,attr"`
	Xsrcmd5   string      `xml:"xsrcmd5,attr"`
	Verifymd5 string      `xml:"verifymd5,attr"`
	Link      *StatusLink `xml:"link"`
}

// StatusLink is the link target announced in a project status.
type StatusLink struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr"`
}

// ExpandedMD5 returns the md5 of the expanded sources of a link package.
func (p PackageStatus) ExpandedMD5() string {
	if p.Xsrcmd5 != "" {
		return p.Xsrcmd5
	}
	return p.Verifymd5
}

// IsLink reports whether the status describes a link package.
func (p PackageStatus) IsLink() bool {
	return p.Link != nil || p.Xsrcmd5 != ""
}

// ParseProjectStatus decodes a project status.
func ParseProjectStatus(data []byte) (*ProjectStatus, error) {
	var s ProjectStatus
	if err := xml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid project status: %w", err)
	}
	return &s, nil
}
