// Package dbctx bundles a request-scoped context.Context with an optional GORM
// transaction, so every repo method takes one argument instead of two and so a
// caller driving several repo calls inside one transaction only has to thread the
// *gorm.DB through a single struct.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction. When Tx is
// nil, repo methods fall back to their own *gorm.DB handle.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Background returns a Context with no transaction, suitable for call sites that
// are not already inside one (e.g. a beekeeper's top-level scheduling tick).
func Background() Context {
	return Context{Ctx: context.Background()}
}
