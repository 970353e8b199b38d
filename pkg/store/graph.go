// Package store persists similarity graphs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dan-solli/songpath/pkg/graph"
)

// Node is a persisted graph node.
type Node struct {
	ID     string // Song identifier
	Name   string // Song display name
	Artist string // Artist name
}

// GraphInfo records how a persisted graph was built.
type GraphInfo struct {
	K        int      // Neighbor count used for the build
	Features []string // Feature columns that were honored
	// FeatureFilter is the canonical feature narrowing the graph was built
	// with; nil means every feature
	FeatureFilter []string
	Source        string    // Path of the song table the graph was built from
	BuiltAt       time.Time // Build completion time
}

// GraphStore defines the interface for graph persistence.
type GraphStore interface {
	// SaveGraph replaces the stored graph with g in a single transaction.
	// Node order, edge order, weights and metadata are preserved exactly.
	SaveGraph(ctx context.Context, g *graph.Graph, info GraphInfo) error

	// LoadGraph reads the stored graph back.
	// An empty store yields an empty graph.
	LoadGraph(ctx context.Context) (*graph.Graph, GraphInfo, error)

	// FindNodesByName returns nodes whose name or artist contains query,
	// case-insensitively, in stored order.
	FindNodesByName(ctx context.Context, query string) ([]*Node, error)

	// FindNodeByName returns the single node whose name equals name
	// (case-insensitive). Zero matches yield ErrNodeNotFound, several
	// ErrAmbiguousNode.
	FindNodeByName(ctx context.Context, name string) (*Node, error)

	// NodeCount returns the total number of nodes in the graph.
	NodeCount(ctx context.Context) (int64, error)

	// EdgeCount returns the total number of edges in the graph.
	EdgeCount(ctx context.Context) (int64, error)

	// Close releases any resources held by the store (e.g., database connections).
	Close() error
}

// ErrNotFound indicates that a graph database file does not exist.
var ErrNotFound = errors.New("graph store not found")

// ErrNodeNotFound indicates that no node was found for the given criteria.
var ErrNodeNotFound = errors.New("node not found")

// ErrAmbiguousNode indicates that multiple nodes matched the given name.
var ErrAmbiguousNode = errors.New("multiple nodes match the given name")
