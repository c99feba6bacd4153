// Package hermes reads the OBS notification feed and reduces it to the
// minimal list of mutations a run has to apply.
package hermes

import "fmt"

// Kind is the type of a feed event.
type Kind int

const (
	Commit Kind = iota + 1
	ProjectDeleted
	PackageMetaChanged
	PackageAdded
	PackageDeleted
)

var kindNames = map[Kind]string{
	Commit:             "commit",
	ProjectDeleted:     "project-deleted",
	PackageMetaChanged: "package-meta-changed",
	PackageAdded:       "package-added",
	PackageDeleted:     "package-deleted",
}

// feedTags maps the bracketed title tag of a feed entry to its kind.
var feedTags = map[string]Kind{
	"OBS_SRCSRV_COMMIT":         Commit,
	"OBS_SRCSRV_DELETE_PROJECT": ProjectDeleted,
	"OBS_SRCSRV_UPDATE_PACKAGE": PackageMetaChanged,
	"OBS_SRCSRV_CREATE_PACKAGE": PackageAdded,
	"OBS_SRCSRV_DELETE_PACKAGE": PackageDeleted,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TargetsPackage reports whether events of this kind name a package.
func (k Kind) TargetsPackage() bool {
	return k != ProjectDeleted
}

// Event is one mutation announced by the feed. Package is empty for
// ProjectDeleted.
type Event struct {
	ID      int64
	Kind    Kind
	Project string
	Package string
}

func (e Event) String() string {
	if e.Kind.TargetsPackage() {
		return fmt.Sprintf("%d %s %s/%s", e.ID, e.Kind, e.Project, e.Package)
	}
	return fmt.Sprintf("%d %s %s", e.ID, e.Kind, e.Project)
}
