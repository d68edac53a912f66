package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// MetaID is the metadata key carrying a document's id.
const MetaID = "id"

// SQLiteVectorStore keeps documents and their embeddings in sqlite and
// ranks them by cosine similarity. Collections map to namespaces.
type SQLiteVectorStore struct {
	db        *sql.DB
	embedder  embeddings.Embedder
	namespace string
}

var _ vectorstores.VectorStore = (*SQLiteVectorStore)(nil)

func NewSQLiteVectorStore(db *sql.DB, embedder embeddings.Embedder, namespace string) (*SQLiteVectorStore, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rag_documents_collection ON rag_documents(collection);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("migrate vector store: %w", err)
		}
	}
	return &SQLiteVectorStore{db: db, embedder: embedder, namespace: namespace}, nil
}

func (s *SQLiteVectorStore) options(opts []vectorstores.Option) vectorstores.Options {
	o := vectorstores.Options{NameSpace: s.namespace, Embedder: s.embedder}
	for _, opt := range opts {
		opt(&o)
	}
	if o.NameSpace == "" {
		o.NameSpace = s.namespace
	}
	if o.Embedder == nil {
		o.Embedder = s.embedder
	}
	return o
}

// AddDocuments embeds and stores docs. A string "id" in a document's
// metadata is used as its id, otherwise a uuid is generated.
func (s *SQLiteVectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	o := s.options(options)
	if o.Embedder == nil {
		return nil, errors.New("vector store: no embedder")
	}

	kept := make([]schema.Document, 0, len(docs))
	for _, d := range docs {
		if o.Deduplicater != nil && o.Deduplicater(ctx, d) {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	texts := make([]string, len(kept))
	for i, d := range kept {
		texts[i] = d.PageContent
	}
	vecs, err := o.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(kept) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(kept))
	}
	return s.insert(ctx, o.NameSpace, kept, vecs)
}

// AddEmbedded stores documents whose vectors are already known.
func (s *SQLiteVectorStore) AddEmbedded(ctx context.Context, collection string, docs []schema.Document, vecs [][]float32) ([]string, error) {
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("add embedded: %d vectors for %d documents", len(vecs), len(docs))
	}
	if collection == "" {
		collection = s.namespace
	}
	return s.insert(ctx, collection, docs, vecs)
}

func (s *SQLiteVectorStore) insert(ctx context.Context, collection string, docs []schema.Document, vecs [][]float32) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, len(docs))
	for i, d := range docs {
		id, _ := d.Metadata[MetaID].(string)
		if id == "" {
			id = uuid.NewString()
		}
		meta := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta[MetaID] = id
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO rag_documents (id, collection, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)`,
			id, collection, d.PageContent, string(metaJSON), encodeVector(vecs[i]))
		if err != nil {
			return nil, fmt.Errorf("insert document: %w", err)
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments documents of the namespace
// ranked by similarity to query, dropping those under ScoreThreshold.
func (s *SQLiteVectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	o := s.options(options)
	if o.Embedder == nil {
		return nil, errors.New("vector store: no embedder")
	}
	qv, err := o.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.SearchByVector(ctx, o.NameSpace, qv, numDocuments, o.ScoreThreshold)
}

// SearchByVector ranks the collection against qv.
func (s *SQLiteVectorStore) SearchByVector(ctx context.Context, collection string, qv []float32, n int, threshold float32) ([]schema.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, metadata, embedding FROM rag_documents WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		doc, vec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		doc.Score = float32(Cosine(qv, vec))
		if threshold > 0 && doc.Score < threshold {
			continue
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if n > 0 && len(docs) > n {
		docs = docs[:n]
	}
	return docs, nil
}

// Get returns the documents with the given ids, in the order given. Unknown
// ids are skipped.
func (s *SQLiteVectorStore) Get(ctx context.Context, ids []string) ([]schema.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, metadata, embedding FROM rag_documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]schema.Document, len(ids))
	for rows.Next() {
		doc, _, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		id, _ := doc.Metadata[MetaID].(string)
		byID[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]schema.Document, 0, len(byID))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Count is the number of documents in collection.
func (s *SQLiteVectorStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_documents WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

func scanDocument(rows *sql.Rows) (schema.Document, []float32, error) {
	var content string
	var meta sql.NullString
	var blob []byte
	if err := rows.Scan(&content, &meta, &blob); err != nil {
		return schema.Document{}, nil, err
	}
	doc := schema.Document{PageContent: content, Metadata: map[string]any{}}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
			return schema.Document{}, nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return schema.Document{}, nil, err
	}
	return doc, vec, nil
}
