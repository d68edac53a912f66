package rag

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// Node is one chunk in the similarity graph.
type Node struct {
	ID        string
	Corpus    string
	Color     string
	Summary   string
	Embedding []float32
}

// Edge is a weighted SIMILAR_TO link.
type Edge struct {
	Target string
	Weight float64
}

// GraphStore keeps chunk nodes and similarity edges in sqlite.
type GraphStore struct {
	db *sql.DB
}

func NewGraphStore(db *sql.DB) (*GraphStore, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rag_graph_nodes (
			id TEXT PRIMARY KEY,
			corpus TEXT NOT NULL,
			color TEXT NOT NULL,
			summary TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS rag_graph_edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			relation TEXT NOT NULL DEFAULT 'SIMILAR_TO',
			weight REAL NOT NULL,
			PRIMARY KEY (source, target)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rag_graph_edges_source ON rag_graph_edges(source, weight);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("migrate graph store: %w", err)
		}
	}
	return &GraphStore{db: db}, nil
}

// CorpusColor derives a stable hex colour for a corpus label.
func CorpusColor(corpus string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(corpus))
	return fmt.Sprintf("#%06x", h.Sum32()&0xffffff)
}

// AddNode stores n and links it both ways to every existing node whose
// embedding similarity is at least threshold. It returns the edge count.
func (g *GraphStore) AddNode(ctx context.Context, n Node, threshold float64) (int, error) {
	if n.Color == "" {
		n.Color = CorpusColor(n.Corpus)
	}

	existing, err := g.embeddings(ctx, n.ID)
	if err != nil {
		return 0, err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO rag_graph_nodes (id, corpus, color, summary, embedding) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Corpus, n.Color, n.Summary, encodeVector(n.Embedding))
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}

	edges := 0
	for id, vec := range existing {
		w := Cosine(n.Embedding, vec)
		if w < threshold {
			continue
		}
		for _, pair := range [][2]string{{n.ID, id}, {id, n.ID}} {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO rag_graph_edges (source, target, weight) VALUES (?, ?, ?)`,
				pair[0], pair[1], w)
			if err != nil {
				return 0, fmt.Errorf("insert edge: %w", err)
			}
		}
		edges++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return edges, nil
}

func (g *GraphStore) embeddings(ctx context.Context, except string) (map[string][]float32, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id, embedding FROM rag_graph_nodes WHERE id != ?`, except)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) == 0 {
			continue
		}
		out[id] = vec
	}
	return out, rows.Err()
}

// Neighbors returns the targets of id's edges weighing at least threshold,
// heaviest first.
func (g *GraphStore) Neighbors(ctx context.Context, id string, threshold float64) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT target, weight FROM rag_graph_edges WHERE source = ? AND weight >= ? ORDER BY weight DESC, target`,
		id, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Target, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Node loads one node.
func (g *GraphStore) Node(ctx context.Context, id string) (*Node, error) {
	var n Node
	var blob []byte
	err := g.db.QueryRowContext(ctx,
		`SELECT id, corpus, color, summary, embedding FROM rag_graph_nodes WHERE id = ?`, id).
		Scan(&n.ID, &n.Corpus, &n.Color, &n.Summary, &blob)
	if err != nil {
		return nil, err
	}
	if n.Embedding, err = decodeVector(blob); err != nil {
		return nil, err
	}
	return &n, nil
}

// Stats counts nodes and directed edges.
func (g *GraphStore) Stats(ctx context.Context) (nodes, edges int, err error) {
	if err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_graph_nodes`).Scan(&nodes); err != nil {
		return 0, 0, err
	}
	err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_graph_edges`).Scan(&edges)
	return nodes, edges, err
}
