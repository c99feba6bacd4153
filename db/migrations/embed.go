// Package migrations contains the embedded SQL migrations of the catalog and
// upstream stores.
package migrations

import "embed"

// Directories of Files holding the migrations of each store.
const (
	CatalogDir  = "catalog"
	UpstreamDir = "upstream"
)

// Files exposes the compiled-in migration SQL files.
//
//go:embed catalog/*.sql upstream/*.sql
var Files embed.FS
