package songpath

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dan-solli/songpath/pkg/search"
	"github.com/dan-solli/songpath/pkg/store"
)

// ShortestPath returns the minimum-distance path from source to target.
// An unreachable target is a result with Reachable == false, not an error.
func (s *Service) ShortestPath(ctx context.Context, source, target string) (search.PathResult, error) {
	op := s.begin(OpPath)
	op.ids["source"] = source
	op.ids["target"] = target

	g, err := s.graph(ctx, op, false)
	if err != nil {
		return search.Unreachable(), op.end(ctx, err)
	}

	span := op.span("search-path")
	result, err := search.ShortestPath(g, source, target)
	if err != nil {
		span.finish(err, nil)
		return search.Unreachable(), op.end(ctx, err)
	}
	reachable := int64(0)
	if result.Reachable {
		reachable = 1
	}
	span.finish(nil, map[string]int64{"pathLength": int64(len(result.Path)), "reachable": reachable})

	return result, op.end(ctx, nil)
}

// Neighbors lists the songs reachable from id within depth hops.
func (s *Service) Neighbors(ctx context.Context, id string, depth int) ([]search.Neighbor, error) {
	op := s.begin(OpNeighbors)
	op.ids["seed"] = id

	g, err := s.graph(ctx, op, false)
	if err != nil {
		return nil, op.end(ctx, err)
	}

	span := op.span("search-neighbors")
	neighbors, err := search.Neighbors(g, id, depth)
	span.finish(err, map[string]int64{"depth": int64(depth), "results": int64(len(neighbors))})
	if err != nil {
		return nil, op.end(ctx, err)
	}
	return neighbors, op.end(ctx, nil)
}

// FindSongs returns the songs whose name or artist contains query,
// case-insensitively, in graph order.
func (s *Service) FindSongs(ctx context.Context, query string) ([]*store.Node, error) {
	op := s.begin(OpFind)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, op.end(ctx, ErrEmptyQuery)
	}

	if _, err := s.graph(ctx, op, false); err != nil {
		return nil, op.end(ctx, err)
	}

	span := op.span("find-songs")
	var nodes []*store.Node
	err := s.withStore(func(st store.GraphStore) error {
		found, err := st.FindNodesByName(ctx, query)
		if err != nil {
			return err
		}
		nodes = found
		return nil
	})
	span.finish(err, map[string]int64{"results": int64(len(nodes))})
	if err != nil {
		return nil, op.end(ctx, err)
	}
	return nodes, op.end(ctx, nil)
}

// Resolve maps ref to a song ID. A ref that is already an ID is returned
// as is; otherwise it must equal exactly one song name (case-insensitive).
func (s *Service) Resolve(ctx context.Context, ref string) (string, error) {
	op := s.begin(OpFind)
	op.ids["ref"] = ref

	g, err := s.graph(ctx, op, false)
	if err != nil {
		return "", op.end(ctx, err)
	}
	if g.HasNode(ref) {
		return ref, op.end(ctx, nil)
	}

	span := op.span("find-songs")
	var id string
	err = s.withStore(func(st store.GraphStore) error {
		node, err := st.FindNodeByName(ctx, ref)
		if err != nil {
			return err
		}
		id = node.ID
		return nil
	})
	span.finish(err, nil)
	if err != nil {
		return "", op.end(ctx, fmt.Errorf("resolve %q: %w", ref, err))
	}
	return id, op.end(ctx, nil)
}

// Stats describes the current graph.
type Stats struct {
	Nodes        int
	Edges        int
	SavedNodes   int64 // Rows in the graph database
	SavedEdges   int64
	MaxOutDegree int
	K            int
	Features     []string
	Source       string
	BuiltAt      time.Time
}

// Stats loads the graph if needed and reports its size and build settings,
// along with the row counts of the graph database. A missing database
// reports zero saved rows.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	op := s.begin(OpStats)

	g, err := s.graph(ctx, op, false)
	if err != nil {
		return Stats{}, op.end(ctx, err)
	}

	s.mu.RLock()
	info := s.graphInfo
	s.mu.RUnlock()

	stats := Stats{
		Nodes:    g.NodeCount(),
		Edges:    g.EdgeCount(),
		K:        info.K,
		Features: info.Features,
		Source:   info.Source,
		BuiltAt:  info.BuiltAt,
	}
	for _, id := range g.NodeIDs() {
		if d := g.OutDegree(id); d > stats.MaxOutDegree {
			stats.MaxOutDegree = d
		}
	}

	err = s.withStore(func(st store.GraphStore) error {
		var err error
		if stats.SavedNodes, err = st.NodeCount(ctx); err != nil {
			return err
		}
		stats.SavedEdges, err = st.EdgeCount(ctx)
		return err
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Stats{}, op.end(ctx, fmt.Errorf("count saved graph: %w", err))
	}
	return stats, op.end(ctx, nil)
}

// withStore opens the persisted graph for the duration of fn.
func (s *Service) withStore(fn func(store.GraphStore) error) error {
	st, err := store.OpenExisting(s.config.GraphDBPath())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}
