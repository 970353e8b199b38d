package search

import (
	"errors"
	"fmt"

	"github.com/dan-solli/songpath/pkg/graph"
)

// ErrInvalidDepth is returned when a neighbor expansion is requested with a
// depth below 1.
var ErrInvalidDepth = errors.New("depth must be at least 1")

// Neighbor is a node reached by expanding outgoing edges from a seed.
type Neighbor struct {
	NodeID   string
	Meta     graph.NodeMeta
	Depth    int     // Hops from the seed
	Distance float64 // Summed edge cost along the first path that reached it
}

// Neighbors expands outgoing edges breadth-first from seed, up to depth hops.
// Results are ordered by depth, then by discovery order; the seed itself is
// not included.
func Neighbors(g *graph.Graph, seed string, depth int) ([]Neighbor, error) {
	if depth < 1 {
		return nil, ErrInvalidDepth
	}
	if !g.HasNode(seed) {
		return nil, fmt.Errorf("seed %q: %w", seed, ErrNodeNotFound)
	}

	type queueItem struct {
		nodeID   string
		depth    int
		distance float64
	}

	visited := map[string]bool{seed: true}
	queue := []queueItem{{nodeID: seed}}
	results := make([]Neighbor, 0)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= depth {
			continue
		}

		nextDepth := current.depth + 1
		for _, e := range g.Out(current.nodeID) {
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true

			meta, _ := g.Node(e.Target)
			item := queueItem{
				nodeID:   e.Target,
				depth:    nextDepth,
				distance: current.distance + e.Cost(),
			}
			results = append(results, Neighbor{
				NodeID:   item.nodeID,
				Meta:     meta,
				Depth:    item.depth,
				Distance: item.distance,
			})
			queue = append(queue, item)
		}
	}

	return results, nil
}
