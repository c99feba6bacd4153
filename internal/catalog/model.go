package catalog

import (
	"github.com/obsdb/obsdb/internal/database"
)

// Error kinds stored in srcpackage.error.
const (
	ErrorNotLink             = "not-link"
	ErrorNotLinkNotInParent  = "not-link-not-in-parent"
	ErrorNotInParent         = "not-in-parent"
	ErrorNeedMergeWithParent = "need-merge-with-parent"
	ErrorNotRealDevel        = "not-real-devel"
	ErrorParentWithoutDevel  = "parent-without-devel"
	ErrorDevelCycle          = "devel-cycle"
)

// Values of srcpackage.has_delta.
const (
	DeltaNone   = 0
	DeltaLink   = 1
	DeltaNoLink = 2
)

// maxDevelHops bounds the walk along devel declarations.
const maxDevelHops = 16

// derivedErrors are recomputed by PostAnalyze on every run.
var derivedErrors = map[string]bool{
	ErrorNotRealDevel:       true,
	ErrorParentWithoutDevel: true,
	ErrorDevelCycle:         true,
}

// Package is a source package as read from the mirror, with its children.
type Package struct {
	database.SrcPackageRecord

	BinaryPackages []database.BinaryPackageRecord
	Sources        []database.SourceRecord
	Patches        []database.PatchRecord
	Files          []database.FileRecord
	Rpmlint        []database.RpmlintRecord
}

type pkgKey struct {
	project string
	name    string
}

func (k pkgKey) String() string {
	return k.project + "/" + k.name
}
