// Package graph provides the directed, weighted song similarity graph.
package graph

import (
	"errors"
	"fmt"
	"math"
)

// UnknownLabel is stored in place of a missing song name or artist.
const UnknownLabel = "Unknown"

// ErrNodeNotFound indicates that a referenced node is not part of the graph.
var ErrNodeNotFound = errors.New("node not found")

// ErrSelfLoop indicates an attempt to connect a node to itself.
var ErrSelfLoop = errors.New("self-loop edges are not allowed")

// ErrInvalidWeight indicates a negative or NaN edge weight.
var ErrInvalidWeight = errors.New("edge weight must be a non-negative number")

// ErrEdgeNotFound indicates that two nodes are not directly connected.
var ErrEdgeNotFound = errors.New("edge not found")

// NodeMeta is the metadata carried by every node. Feature vectors are
// build-time only and never stored on the graph.
type NodeMeta struct {
	Name   string // Song display name
	Artist string // Artist name
}

// Edge is a directed connection from Source to Target.
type Edge struct {
	Source     string  // Source node ID
	Target     string  // Target node ID
	Weight     float64 // Distance between the two songs
	Unweighted bool    // No explicit weight was recorded; Cost() is 1.0
}

// Cost returns the weight used for path computation.
func (e Edge) Cost() float64 {
	if e.Unweighted {
		return 1.0
	}
	return e.Weight
}

// Graph is an adjacency-list directed graph keyed by song ID.
//
// A Graph is built once and then shared read-only; none of the read methods
// mutate it, so concurrent readers need no coordination.
type Graph struct {
	order []string
	meta  map[string]NodeMeta
	adj   map[string][]Edge
	edges int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		order: make([]string, 0),
		meta:  make(map[string]NodeMeta),
		adj:   make(map[string][]Edge),
	}
}

// AddNode adds a node or replaces the metadata of an existing one.
// Empty name or artist are stored as UnknownLabel.
func (g *Graph) AddNode(id string, meta NodeMeta) {
	if meta.Name == "" {
		meta.Name = UnknownLabel
	}
	if meta.Artist == "" {
		meta.Artist = UnknownLabel
	}
	if _, exists := g.meta[id]; !exists {
		g.order = append(g.order, id)
	}
	g.meta[id] = meta
}

// AddEdge adds a directed edge with an explicit weight.
func (g *Graph) AddEdge(source, target string, weight float64) error {
	return g.addEdge(Edge{Source: source, Target: target, Weight: weight})
}

// AddUnweightedEdge adds a directed edge without a recorded weight.
func (g *Graph) AddUnweightedEdge(source, target string) error {
	return g.addEdge(Edge{Source: source, Target: target, Weight: 1.0, Unweighted: true})
}

func (g *Graph) addEdge(e Edge) error {
	if e.Source == e.Target {
		return fmt.Errorf("%w: %s", ErrSelfLoop, e.Source)
	}
	if math.IsNaN(e.Weight) || e.Weight < 0 {
		return fmt.Errorf("%w: %s -> %s has %v", ErrInvalidWeight, e.Source, e.Target, e.Weight)
	}
	if _, ok := g.meta[e.Source]; !ok {
		return fmt.Errorf("edge source %q: %w", e.Source, ErrNodeNotFound)
	}
	if _, ok := g.meta[e.Target]; !ok {
		return fmt.Errorf("edge target %q: %w", e.Target, ErrNodeNotFound)
	}
	g.adj[e.Source] = append(g.adj[e.Source], e)
	g.edges++
	return nil
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.meta[id]
	return ok
}

// Node returns the metadata for id.
func (g *Graph) Node(id string) (NodeMeta, bool) {
	m, ok := g.meta[id]
	return m, ok
}

// Out returns the outgoing edges of id in insertion order.
// The returned slice must not be modified.
func (g *Graph) Out(id string) []Edge {
	return g.adj[id]
}

// OutDegree returns the number of outgoing edges of id.
func (g *Graph) OutDegree(id string) int {
	return len(g.adj[id])
}

// NodeIDs returns node IDs in insertion order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Edges returns every edge, grouped by source in node insertion order.
func (g *Graph) Edges() []Edge {
	all := make([]Edge, 0, g.edges)
	for _, id := range g.order {
		all = append(all, g.adj[id]...)
	}
	return all
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.order)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}
