// Package cachemigrations embeds the request-cache schema migrations so they
// compile into the binary.
package cachemigrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
