// Package migrations carries the SQL schema of tanda-engine
package migrations

import "embed"

// FS holds every *.sql migration, applied in lexical order
//
//go:embed *.sql
var FS embed.FS
