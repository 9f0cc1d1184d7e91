package outbound

import (
	"context"

	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

// CatalogStore holds the tool definitions the router ranks against.
// Snapshot returns an immutable view: callers never write through it.
type CatalogStore interface {
	// Snapshot returns every registered definition. The returned slice and
	// the definitions it points to are not mutated after return.
	Snapshot(ctx context.Context) ([]*tool.Definition, error)

	// Get returns one definition by id, or nil when absent.
	Get(ctx context.Context, id string) (*tool.Definition, error)

	// Put registers or replaces a definition.
	Put(ctx context.Context, def *tool.Definition) error

	// Delete removes a definition. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
