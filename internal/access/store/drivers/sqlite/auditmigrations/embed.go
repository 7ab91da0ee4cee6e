// Package auditmigrations embeds the audit-log schema migrations so they
// compile into the binary.
package auditmigrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
