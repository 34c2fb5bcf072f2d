// Package migrations holds the embedded provider's SQLite schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
