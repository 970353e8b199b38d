// Package search answers shortest-path and neighborhood queries over a
// similarity graph.
package search

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/dan-solli/songpath/pkg/graph"
)

// ErrNodeNotFound is returned when a query names a node absent from the graph.
var ErrNodeNotFound = graph.ErrNodeNotFound

// PathResult is the outcome of a shortest-path query.
// When Reachable is false, Path is nil and Distance is +Inf.
type PathResult struct {
	Path      []string // Node IDs from source to target, inclusive
	Distance  float64  // Sum of edge costs along Path
	Reachable bool     // False when no directed path exists
}

// Unreachable returns the result for a disconnected source/target pair.
func Unreachable() PathResult {
	return PathResult{Path: nil, Distance: math.Inf(1), Reachable: false}
}

// queueItem is a (distance, node) pair in the priority queue.
type queueItem struct {
	dist float64
	node string
}

// minQueue is a binary min-heap of queue items. Outdated entries are left in
// place and skipped when popped.
type minQueue []queueItem

func (q minQueue) Len() int            { return len(q) }
func (q minQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q minQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x interface{}) { *q = append(*q, x.(queueItem)) }
func (q *minQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ShortestPath computes the minimum-weight directed path from source to
// target with Dijkstra's algorithm. It never mutates g, so concurrent queries
// on the same graph are safe.
//
// A missing source or target is reported as ErrNodeNotFound before any
// search runs. A disconnected pair is not an error: the result has
// Reachable == false.
func ShortestPath(g *graph.Graph, source, target string) (PathResult, error) {
	if !g.HasNode(source) {
		return PathResult{}, fmt.Errorf("source %q: %w", source, ErrNodeNotFound)
	}
	if !g.HasNode(target) {
		return PathResult{}, fmt.Errorf("target %q: %w", target, ErrNodeNotFound)
	}

	// Nodes absent from dist are at +Inf; nodes absent from prev have no
	// predecessor.
	dist := map[string]float64{source: 0}
	prev := make(map[string]string)

	pq := &minQueue{{dist: 0, node: source}}
	for pq.Len() > 0 {
		current := heap.Pop(pq).(queueItem)

		if best, ok := dist[current.node]; ok && current.dist > best {
			continue
		}
		if current.node == target {
			break
		}

		for _, e := range g.Out(current.node) {
			candidate := current.dist + e.Cost()
			if best, ok := dist[e.Target]; !ok || candidate < best {
				dist[e.Target] = candidate
				prev[e.Target] = current.node
				heap.Push(pq, queueItem{dist: candidate, node: e.Target})
			}
		}
	}

	total, ok := dist[target]
	if !ok {
		return Unreachable(), nil
	}

	path := []string{target}
	for node := target; node != source; {
		node = prev[node]
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return PathResult{Path: path, Distance: total, Reachable: true}, nil
}

// PathEdges returns the edges traversed by path, in order. When parallel
// edges exist between two hops, the cheapest one is returned.
func PathEdges(g *graph.Graph, path []string) ([]graph.Edge, error) {
	if len(path) < 2 {
		return []graph.Edge{}, nil
	}
	edges := make([]graph.Edge, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		found := false
		var best graph.Edge
		for _, e := range g.Out(path[i]) {
			if e.Target != path[i+1] {
				continue
			}
			if !found || e.Cost() < best.Cost() {
				best = e
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%s -> %s: %w", path[i], path[i+1], graph.ErrEdgeNotFound)
		}
		edges = append(edges, best)
	}
	return edges, nil
}
