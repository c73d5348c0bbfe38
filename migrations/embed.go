// Package migrations embeds the versioned SQL schema so binaries can migrate
// without shipping the directory alongside them.
package migrations

import "embed"

// FS holds the golang-migrate file pairs (NNNNNN_name.up.sql / .down.sql).
//
//go:embed *.sql
var FS embed.FS
