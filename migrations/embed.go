// Package migrations carries the tenant schema SQL files inside the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
