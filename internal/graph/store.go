package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/agentic-research/flowgraph/internal/diag"
	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT NOT NULL,
	graph_type TEXT NOT NULL,
	file TEXT NOT NULL DEFAULT '',
	lang TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (id, graph_type)
);
CREATE TABLE IF NOT EXISTS edges (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	type TEXT NOT NULL,
	graph_type TEXT NOT NULL,
	file TEXT NOT NULL DEFAULT '',
	lines TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	UNIQUE (source, target, type, graph_type)
);
CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(graph_type, file);
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(graph_type, file);
`

// Store persists graphs in SQLite. Saves are transactional upserts: a failed
// save leaves the store exactly as it was.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	mu      sync.Mutex
	writers map[GraphType]*sync.Mutex
}

// SaveOptions tune Save.
type SaveOptions struct {
	// PruneStale removes edges of this graph type that belong to a file
	// present in the saved graph but are absent from it. Nodes are never
	// removed.
	PruneStale bool
}

// SaveResult reports what a Save wrote.
type SaveResult struct {
	Nodes  int
	Edges  int
	Pruned int
}

func OpenStore(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open graph store %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create graph schema: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: db, logger: logger, writers: make(map[GraphType]*sync.Mutex)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) writer(gt GraphType) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.writers[gt]
	if !ok {
		m = &sync.Mutex{}
		s.writers[gt] = m
	}
	return m
}

// Save upserts the nodes and edges of graph type gt in one transaction.
// Writers of the same graph type are serialized; different graph types
// proceed independently. Any failure is a *diag.PersistenceFailure and the
// transaction is rolled back.
func (s *Store) Save(ctx context.Context, g *Graph, gt GraphType, opts SaveOptions) (SaveResult, error) {
	w := s.writer(gt)
	w.Lock()
	defer w.Unlock()

	res, err := s.save(ctx, g, gt, opts)
	if err != nil {
		return SaveResult{}, &diag.PersistenceFailure{Op: "save", GraphType: string(gt), Err: err}
	}
	s.logger.Printf("GraphStore: saved %s graph (%d nodes, %d edges, %d pruned)", gt, res.Nodes, res.Edges, res.Pruned)
	return res, nil
}

func (s *Store) save(ctx context.Context, g *Graph, gt GraphType, opts SaveOptions) (SaveResult, error) {
	var res SaveResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // safe to ignore

	nodeStmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (id, graph_type, file, lang, type, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, graph_type) DO UPDATE SET
			file = excluded.file, lang = excluded.lang, type = excluded.type, metadata = excluded.metadata`)
	if err != nil {
		return res, fmt.Errorf("prepare node upsert: %w", err)
	}
	defer func() { _ = nodeStmt.Close() }()

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (source, target, type, graph_type, file, lines, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, target, type, graph_type) DO UPDATE SET
			file = excluded.file, lines = excluded.lines, metadata = excluded.metadata`)
	if err != nil {
		return res, fmt.Errorf("prepare edge upsert: %w", err)
	}
	defer func() { _ = edgeStmt.Close() }()

	for _, n := range g.Nodes(gt) {
		meta, err := encodeMeta(n.Metadata)
		if err != nil {
			return res, err
		}
		if _, err := nodeStmt.ExecContext(ctx, n.ID, string(gt), n.File, n.Lang, string(n.Type), meta); err != nil {
			return res, fmt.Errorf("upsert node %s: %w", n.ID, err)
		}
		res.Nodes++
	}

	edges := g.Edges(gt)
	for _, e := range edges {
		meta, err := encodeMeta(e.Metadata)
		if err != nil {
			return res, err
		}
		lines, err := json.Marshal(nonNilInts(e.Lines))
		if err != nil {
			return res, fmt.Errorf("encode lines: %w", err)
		}
		if _, err := edgeStmt.ExecContext(ctx, e.Source, e.Target, e.Type, string(gt), e.File, string(lines), meta); err != nil {
			return res, fmt.Errorf("upsert edge %s -> %s (%s): %w", e.Source, e.Target, e.Type, err)
		}
		res.Edges++
	}

	if opts.PruneStale {
		n, err := pruneStale(ctx, tx, g, gt, edges)
		if err != nil {
			return res, err
		}
		res.Pruned = n
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// pruneStale deletes edges of gt whose file was rebuilt but whose key is
// not in the new edge set.
func pruneStale(ctx context.Context, tx *sql.Tx, g *Graph, gt GraphType, edges []*Edge) (int, error) {
	rebuilt := make(map[string]struct{})
	for _, f := range g.Files(gt) {
		rebuilt[f] = struct{}{}
	}
	keep := make(map[EdgeKey]struct{}, len(edges))
	for _, e := range edges {
		keep[e.Key()] = struct{}{}
		if e.File != "" {
			rebuilt[e.File] = struct{}{}
		}
	}
	if len(rebuilt) == 0 {
		return 0, nil
	}

	files := make([]string, 0, len(rebuilt))
	for f := range rebuilt {
		files = append(files, f)
	}
	sort.Strings(files)

	args := make([]any, 0, len(files)+1)
	args = append(args, string(gt))
	for _, f := range files {
		args = append(args, f)
	}
	q := `SELECT source, target, type FROM edges WHERE graph_type = ? AND file IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(files)), ",") + `)`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("scan stale edges: %w", err)
	}
	var stale []EdgeKey
	for rows.Next() {
		k := EdgeKey{GraphType: gt}
		if err := rows.Scan(&k.Source, &k.Target, &k.Type); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan stale edge: %w", err)
		}
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, k := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source = ? AND target = ? AND type = ? AND graph_type = ?`,
			k.Source, k.Target, k.Type, string(gt)); err != nil {
			return 0, fmt.Errorf("prune edge: %w", err)
		}
	}
	return len(stale), nil
}

// Load materializes every node and edge of gt.
func (s *Store) Load(ctx context.Context, gt GraphType) (*Graph, error) {
	g := New()
	if err := s.loadInto(ctx, g, gt); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadAll merges several graph types into one Graph.
func (s *Store) LoadAll(ctx context.Context, types ...GraphType) (*Graph, error) {
	g := New()
	for _, gt := range types {
		if err := s.loadInto(ctx, g, gt); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *Store) loadInto(ctx context.Context, g *Graph, gt GraphType) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file, lang, type, metadata FROM nodes WHERE graph_type = ? ORDER BY id`, string(gt))
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	for rows.Next() {
		n := &Node{GraphType: gt}
		var typ, meta string
		if err := rows.Scan(&n.ID, &n.File, &n.Lang, &typ, &meta); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan node: %w", err)
		}
		n.Type = NodeType(typ)
		if n.Metadata, err = decodeMeta(meta); err != nil {
			_ = rows.Close()
			return err
		}
		g.AddNode(n)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT source, target, type, file, lines, metadata FROM edges
		WHERE graph_type = ? ORDER BY source, target, type`, string(gt))
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		e := &Edge{GraphType: gt}
		var lines, meta string
		if err := rows.Scan(&e.Source, &e.Target, &e.Type, &e.File, &lines, &meta); err != nil {
			return fmt.Errorf("scan edge: %w", err)
		}
		if err := json.Unmarshal([]byte(lines), &e.Lines); err != nil {
			return fmt.Errorf("decode lines: %w", err)
		}
		if e.Metadata, err = decodeMeta(meta); err != nil {
			return err
		}
		g.AddEdge(e)
	}
	return rows.Err()
}

// Counts returns the number of persisted nodes and edges of gt.
func (s *Store) Counts(ctx context.Context, gt GraphType) (nodes, edges int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE graph_type = ?`, string(gt)).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("count nodes: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE graph_type = ?`, string(gt)).Scan(&edges); err != nil {
		return 0, 0, fmt.Errorf("count edges: %w", err)
	}
	return nodes, edges, nil
}

// Dependencies returns the distinct nodes with a forward edge of gt into id
// (upstream) and out of id (downstream), each sorted.
func (s *Store) Dependencies(ctx context.Context, gt GraphType, id string) (upstream, downstream []string, err error) {
	if upstream, err = s.neighbours(ctx, `SELECT DISTINCT source, type FROM edges WHERE target = ? AND graph_type = ?`, id, gt); err != nil {
		return nil, nil, err
	}
	if downstream, err = s.neighbours(ctx, `SELECT DISTINCT target, type FROM edges WHERE source = ? AND graph_type = ?`, id, gt); err != nil {
		return nil, nil, err
	}
	return upstream, downstream, nil
}

// Calls returns the callers and callees of a function node of the call graph.
func (s *Store) Calls(ctx context.Context, id string) (callers, callees []string, err error) {
	return s.Dependencies(ctx, TypeCall, id)
}

func (s *Store) neighbours(ctx context.Context, q, id string, gt GraphType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, id, string(gt))
	if err != nil {
		return nil, fmt.Errorf("query neighbours of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	seen := make(map[string]struct{})
	var out []string
	for rows.Next() {
		var other, typ string
		if err := rows.Scan(&other, &typ); err != nil {
			return nil, fmt.Errorf("scan neighbour: %w", err)
		}
		if strings.HasSuffix(typ, ReverseSuffix) {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// GraphStats are the persisted counts of one graph type.
type GraphStats struct {
	GraphType GraphType `json:"graph_type"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
}

// Stats returns node and edge counts for every stored graph type, sorted by
// graph type. Edge counts exclude reverse edges.
func (s *Store) Stats(ctx context.Context) ([]GraphStats, error) {
	byType := make(map[GraphType]*GraphStats)
	get := func(gt string) *GraphStats {
		st, ok := byType[GraphType(gt)]
		if !ok {
			st = &GraphStats{GraphType: GraphType(gt)}
			byType[GraphType(gt)] = st
		}
		return st
	}

	rows, err := s.db.QueryContext(ctx, `SELECT graph_type, COUNT(*) FROM nodes GROUP BY graph_type`)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	for rows.Next() {
		var gt string
		var n int
		if err := rows.Scan(&gt, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan node count: %w", err)
		}
		get(gt).Nodes = n
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT graph_type, type, COUNT(*) FROM edges GROUP BY graph_type, type`)
	if err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var gt, typ string
		var n int
		if err := rows.Scan(&gt, &typ, &n); err != nil {
			return nil, fmt.Errorf("scan edge count: %w", err)
		}
		if !strings.HasSuffix(typ, ReverseSuffix) {
			get(gt).Edges += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]GraphStats, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GraphType < out[j].GraphType })
	return out, nil
}

func encodeMeta(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
