package graph

import (
	"context"
	"errors"
	"fmt"
)

// Store is the graph store port. It knows nodes, edges, properties and
// indexes, nothing about topics, types or roles.
// Both SQLite and Neo4j implement this interface.
type Store interface {
	// Begin opens a read-write transaction. Transactions do not nest.
	Begin(ctx context.Context) (Tx, error)

	// Backend names the implementation ("sqlite", "neo4j").
	Backend() string

	Close(ctx context.Context) error
}

// Tx is one transaction against the store. Reads observe the transaction's
// own writes.
type Tx interface {
	// Elements
	CreateNode(ctx context.Context) (int64, error)
	CreateNodeAt(ctx context.Context, id int64) error
	CreateEdge(ctx context.Context, end1, end2 Endpoint) (int64, error)
	Fetch(ctx context.Context, id int64) (*Element, error)
	Exists(ctx context.Context, id int64) (bool, error)
	// Delete removes the element, its properties, its index entries and every
	// endpoint row that references it.
	Delete(ctx context.Context, id int64) error
	SetRole(ctx context.Context, edgeID int64, position int, role string) error

	// Properties
	SetProperty(ctx context.Context, id int64, key string, value any) error
	Property(ctx context.Context, id int64, key string) (any, bool, error)
	Properties(ctx context.Context, id int64) (map[string]any, error)
	RemoveProperty(ctx context.Context, id int64, key string) error

	// Exact index
	IndexPut(ctx context.Context, index, key string, value any, id int64) error
	IndexRemove(ctx context.Context, index, key string, id int64) error
	IndexGet(ctx context.Context, index, key string, value any) ([]int64, error)

	// Fulltext index
	FulltextPut(ctx context.Context, index, key, text string, id int64) error
	FulltextRemove(ctx context.Context, index, key string, id int64) error
	FulltextQuery(ctx context.Context, index, key, query string) ([]int64, error)

	// Adjacency
	Edges(ctx context.Context, id int64, filter AdjacencyFilter) ([]*Element, error)

	// Lock takes the exclusive lock called name and holds it until the
	// transaction ends. A check-then-write sequence run under the lock sees
	// every write committed by an earlier holder.
	Lock(ctx context.Context, name string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Kind distinguishes nodes from edges.
type Kind int

const (
	KindNode Kind = iota + 1
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Endpoint is one end of an edge. It may reference a node or another edge.
type Endpoint struct {
	ID   int64
	Kind Kind
	Role string
}

// Element is a node or an edge. Edges carry exactly two endpoints.
type Element struct {
	ID   int64
	Kind Kind
	Ends [2]Endpoint
}

// Other returns the endpoint opposite to position i (1 or 2).
func (e *Element) Other(i int) Endpoint {
	if i == 1 {
		return e.Ends[1]
	}
	return e.Ends[0]
}

// AdjacencyFilter narrows Tx.Edges. Zero-valued fields do not constrain.
type AdjacencyFilter struct {
	// Role is the role the anchor element plays in the edge.
	Role string
	// OthersKind is the kind of the element at the opposite end.
	OthersKind Kind
}

// ErrNotFound is returned when an element does not exist.
var ErrNotFound = errors.New("element not found")

// Normalize converts a property or index value into one of the four storable
// types: string, int64, float64, bool.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case string, int64, float64, bool:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case nil:
		return nil, fmt.Errorf("nil is not a storable value")
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
