// Package dbmigrations exposes embedded SQL migrations for Trolley binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Trolley binaries.
//
//go:embed *.sql
var Files embed.FS
