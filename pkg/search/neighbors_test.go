package search

import (
	"testing"
)

func TestNeighbors_Depth1(t *testing.T) {
	g := newTestGraph(t, []string{"seed", "n1", "n2", "far"}, []weightedEdge{
		{"seed", "n1", 0.5},
		{"seed", "n2", 0.7},
		{"n1", "far", 0.2},
	})

	results, err := Neighbors(g, "seed", 1)
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 neighbors, got %d", len(results))
	}
	if results[0].NodeID != "n1" || results[1].NodeID != "n2" {
		t.Errorf("Expected [n1 n2] in edge order, got [%s %s]", results[0].NodeID, results[1].NodeID)
	}
	for _, r := range results {
		if r.Depth != 1 {
			t.Errorf("Neighbor %s depth should be 1, got %d", r.NodeID, r.Depth)
		}
	}
	if results[0].Meta.Name != "Song n1" {
		t.Errorf("Expected metadata for n1, got %+v", results[0].Meta)
	}
	if results[1].Distance != 0.7 {
		t.Errorf("Expected distance 0.7 for n2, got %f", results[1].Distance)
	}
}

func TestNeighbors_Depth2AccumulatesDistance(t *testing.T) {
	g := newTestGraph(t, []string{"seed", "n1", "n2", "far"}, []weightedEdge{
		{"seed", "n1", 0.5},
		{"seed", "n2", 0.75},
		{"n1", "far", 0.25},
		{"n2", "far", 0.1},
	})

	results, err := Neighbors(g, "seed", 2)
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 neighbors, got %d", len(results))
	}

	far := results[2]
	if far.NodeID != "far" || far.Depth != 2 {
		t.Fatalf("Expected far at depth 2, got %+v", far)
	}
	// First discovered through n1.
	if far.Distance != 0.75 {
		t.Errorf("Expected distance 0.75 through n1, got %f", far.Distance)
	}
}

func TestNeighbors_CycleDoesNotRevisitSeed(t *testing.T) {
	g := newTestGraph(t, []string{"a", "b"}, []weightedEdge{
		{"a", "b", 1},
		{"b", "a", 1},
	})

	results, err := Neighbors(g, "a", 5)
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(results) != 1 || results[0].NodeID != "b" {
		t.Errorf("Expected only b, got %+v", results)
	}
}

func TestNeighbors_Errors(t *testing.T) {
	g := newTestGraph(t, []string{"a"}, nil)

	if _, err := Neighbors(g, "a", 0); err != ErrInvalidDepth {
		t.Errorf("Expected ErrInvalidDepth, got %v", err)
	}
	if _, err := Neighbors(g, "missing", 1); err == nil {
		t.Error("Expected error for missing seed")
	}

	results, err := Neighbors(g, "a", 1)
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no neighbors for isolated node, got %d", len(results))
	}
}
