// Package embedded provides assets compiled into the Go binary.
package embedded

import (
	"embed"
)

// Schemas holds the SQL schema of every database, one file per database name:
//   - greeks_schema.sql - snapshots, alerts and option positions
//   - cache_schema.sql - last-known Greeks per position
//
//go:embed schemas/*.sql
var Schemas embed.FS

// Schema returns the schema SQL for a database name, or false if it has none.
func Schema(name string) (string, bool) {
	content, err := Schemas.ReadFile("schemas/" + name + "_schema.sql")
	if err != nil {
		return "", false
	}
	return string(content), true
}
