package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dan-solli/songpath/pkg/graph"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteGraphStore implements GraphStore using SQLite as the backend.
type SQLiteGraphStore struct {
	db *sql.DB
}

// NewSQLiteGraphStore creates a new SQLite-backed graph store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteGraphStore(dbPath string) (*SQLiteGraphStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	store := &SQLiteGraphStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// OpenExisting opens a graph store that must already exist on disk.
// A missing file yields ErrNotFound instead of a fresh empty database.
func OpenExisting(dbPath string) (*SQLiteGraphStore, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dbPath, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	return NewSQLiteGraphStore(dbPath)
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteGraphStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		artist TEXT NOT NULL,
		name_folded TEXT NOT NULL,
		artist_folded TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_name_folded ON nodes(name_folded);

	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		weight REAL,
		position INTEGER NOT NULL,
		FOREIGN KEY (source_id) REFERENCES nodes(id),
		FOREIGN KEY (target_id) REFERENCES nodes(id)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, position);

	CREATE TABLE IF NOT EXISTS graph_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveGraph replaces the stored graph with g.
func (s *SQLiteGraphStore) SaveGraph(ctx context.Context, g *graph.Graph, info GraphInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"edges", "nodes", "graph_info"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (id, name, artist, name_folded, artist_folded, position) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	for i, id := range g.NodeIDs() {
		meta, _ := g.Node(id)
		if _, err := nodeStmt.ExecContext(ctx, id, meta.Name, meta.Artist, fold(meta.Name), fold(meta.Artist), i); err != nil {
			return fmt.Errorf("failed to add node: %w", err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (id, source_id, target_id, weight, position) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for i, e := range g.Edges() {
		weight := sql.NullFloat64{Float64: e.Weight, Valid: !e.Unweighted}
		if _, err := edgeStmt.ExecContext(ctx, uuid.New().String(), e.Source, e.Target, weight, i); err != nil {
			return fmt.Errorf("failed to add edge: %w", err)
		}
	}

	features, err := json.Marshal(info.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	filter, err := json.Marshal(info.FeatureFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal feature filter: %w", err)
	}
	if info.BuiltAt.IsZero() {
		info.BuiltAt = time.Now()
	}
	entries := map[string]string{
		"k":              strconv.Itoa(info.K),
		"features":       string(features),
		"feature_filter": string(filter),
		"source":         info.Source,
		"built_at":       info.BuiltAt.UTC().Format(time.RFC3339Nano),
	}
	for key, value := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO graph_info (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to write graph info: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	return nil
}

// LoadGraph reads the stored graph back into memory.
func (s *SQLiteGraphStore) LoadGraph(ctx context.Context) (*graph.Graph, GraphInfo, error) {
	g := graph.New()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, artist FROM nodes ORDER BY position`)
	if err != nil {
		return nil, GraphInfo{}, fmt.Errorf("failed to query nodes: %w", err)
	}
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.ID, &node.Name, &node.Artist); err != nil {
			rows.Close()
			return nil, GraphInfo{}, fmt.Errorf("failed to scan node: %w", err)
		}
		g.AddNode(node.ID, graph.NodeMeta{Name: node.Name, Artist: node.Artist})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, GraphInfo{}, fmt.Errorf("error iterating nodes: %w", err)
	}
	rows.Close()

	edges, err := s.queryEdges(ctx, `SELECT source_id, target_id, weight FROM edges ORDER BY position`)
	if err != nil {
		return nil, GraphInfo{}, err
	}
	for _, e := range edges {
		if e.Unweighted {
			err = g.AddUnweightedEdge(e.Source, e.Target)
		} else {
			err = g.AddEdge(e.Source, e.Target, e.Weight)
		}
		if err != nil {
			return nil, GraphInfo{}, fmt.Errorf("corrupt stored edge: %w", err)
		}
	}

	info, err := s.Info(ctx)
	if err != nil {
		return nil, GraphInfo{}, err
	}
	return g, info, nil
}

// Info returns the build information of the stored graph. An empty store
// yields a zero GraphInfo.
func (s *SQLiteGraphStore) Info(ctx context.Context) (GraphInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM graph_info`)
	if err != nil {
		return GraphInfo{}, fmt.Errorf("failed to query graph info: %w", err)
	}
	defer rows.Close()

	var info GraphInfo
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return GraphInfo{}, fmt.Errorf("failed to scan graph info: %w", err)
		}
		switch key {
		case "k":
			if info.K, err = strconv.Atoi(value); err != nil {
				return GraphInfo{}, fmt.Errorf("invalid stored k %q: %w", value, err)
			}
		case "features":
			if err := json.Unmarshal([]byte(value), &info.Features); err != nil {
				return GraphInfo{}, fmt.Errorf("failed to unmarshal features: %w", err)
			}
		case "feature_filter":
			if err := json.Unmarshal([]byte(value), &info.FeatureFilter); err != nil {
				return GraphInfo{}, fmt.Errorf("failed to unmarshal feature filter: %w", err)
			}
		case "source":
			info.Source = value
		case "built_at":
			if info.BuiltAt, err = time.Parse(time.RFC3339Nano, value); err != nil {
				return GraphInfo{}, fmt.Errorf("invalid stored build time %q: %w", value, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return GraphInfo{}, fmt.Errorf("error iterating graph info: %w", err)
	}
	return info, nil
}

func (s *SQLiteGraphStore) queryEdges(ctx context.Context, query string, args ...interface{}) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}
	defer rows.Close()

	edges := make([]graph.Edge, 0)
	for rows.Next() {
		var edge graph.Edge
		var weight sql.NullFloat64
		if err := rows.Scan(&edge.Source, &edge.Target, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if weight.Valid {
			edge.Weight = weight.Float64
		} else {
			edge.Weight = 1.0
			edge.Unweighted = true
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// FindNodesByName searches name and artist with case-insensitive substring
// matching. Both sides are case-folded in Go, so non-ASCII letters match too.
func (s *SQLiteGraphStore) FindNodesByName(ctx context.Context, query string) ([]*Node, error) {
	pattern := "%" + escapeLike(fold(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, artist
		FROM nodes
		WHERE name_folded LIKE ? ESCAPE '\' OR artist_folded LIKE ? ESCAPE '\'
		ORDER BY position
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes by name: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.ID, &node.Name, &node.Artist); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

// FindNodeByName returns the single node whose name matches exactly,
// ignoring case.
func (s *SQLiteGraphStore) FindNodeByName(ctx context.Context, name string) (*Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, artist
		FROM nodes
		WHERE name_folded = ?
		ORDER BY position
		LIMIT 2
	`, fold(name))
	if err != nil {
		return nil, fmt.Errorf("failed to find node by name: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.ID, &node.Name, &node.Artist); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	if len(nodes) == 0 {
		return nil, ErrNodeNotFound
	}
	if len(nodes) > 1 {
		return nil, ErrAmbiguousNode
	}
	return nodes[0], nil
}

// NodeCount returns the total number of nodes in the graph.
func (s *SQLiteGraphStore) NodeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// EdgeCount returns the total number of edges in the graph.
func (s *SQLiteGraphStore) EdgeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteGraphStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// fold is the case folding shared by stored names and queries.
func fold(s string) string {
	return strings.ToLower(s)
}
