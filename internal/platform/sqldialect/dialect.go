// Package sqldialect isolates the handful of SQL fragments that differ between
// the two gorm drivers the coordinator supports: Postgres for production and
// SQLite for the beekeeper's embedded/single-node mode and for tests
// (spec.md §6, "two driver dialects with differing timestamp arithmetic").
package sqldialect

import "strings"

// Kind names a supported backend.
type Kind string

const (
	Postgres Kind = "postgres"
	SQLite   Kind = "sqlite"
)

// Dialect bundles the fragments repos need that gorm does not abstract away:
// currently just how to take out a row lock. Every timestamp comparison in
// this codebase instead computes its cutoff in Go and binds it as a plain
// parameter (`column < ?`), which is identical SQL on both backends and never
// needed a dialect-specific epoch-diff fragment; see DESIGN.md.
type Dialect struct {
	Kind Kind
}

func New(kind Kind) Dialect { return Dialect{Kind: kind} }

// ForDriver maps a gorm driver name (db.Dialector.Name()) to a Dialect.
func ForDriver(name string) Dialect {
	if strings.Contains(strings.ToLower(name), "sqlite") {
		return Dialect{Kind: SQLite}
	}
	return Dialect{Kind: Postgres}
}

// SkipLocked reports whether this dialect supports SELECT ... FOR UPDATE SKIP
// LOCKED. SQLite has no concept of row locks at all; callers fall back to
// SQLite's whole-database write lock plus the same conditional UPDATE the
// synchronizer already relies on.
func (d Dialect) SkipLocked() bool { return d.Kind == Postgres }
