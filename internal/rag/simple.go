// Package rag implements the retrieval engines: a plain vector RAG and a
// hybrid engine that walks a chunk similarity graph from the vector hits.
package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rahul/planloop/internal/observability"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

// Splitter cuts texts into overlapping chunks.
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{inner: textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)}
}

// Split chunks every text, dropping blank chunks.
func (s *Splitter) Split(texts []string) ([]string, error) {
	var out []string
	for _, t := range texts {
		chunks, err := s.inner.SplitText(t)
		if err != nil {
			return nil, fmt.Errorf("split text: %w", err)
		}
		for _, c := range chunks {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses every whitespace run to one space.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// IngestResult reports an ingestion.
type IngestResult struct {
	Collection string   `json:"collection"`
	Documents  int      `json:"documents"`
	Chunks     int      `json:"chunks"`
	IDs        []string `json:"ids"`
	Nodes      int      `json:"nodes,omitempty"`
	Edges      int      `json:"edges,omitempty"`
	Skipped    int      `json:"skipped,omitempty"`
}

// Hit is one ranked retrieval result.
type Hit struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func toHits(docs []schema.Document) []Hit {
	out := make([]Hit, len(docs))
	for i, d := range docs {
		id, _ := d.Metadata[MetaID].(string)
		out[i] = Hit{ID: id, Content: d.PageContent, Score: d.Score, Metadata: d.Metadata}
	}
	return out
}

// SimpleEngine chunks, embeds and stores texts, and answers similarity
// queries per collection.
type SimpleEngine struct {
	store      vectorstores.VectorStore
	splitter   *Splitter
	collection string
	topK       int
	logger     *zap.Logger
}

func NewSimpleEngine(store vectorstores.VectorStore, splitter *Splitter, collection string, topK int, logger *zap.Logger) *SimpleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = 5
	}
	return &SimpleEngine{store: store, splitter: splitter, collection: collection, topK: topK, logger: logger.Named("rag.simple")}
}

// Ingest stores texts in collection (the default one when empty).
func (e *SimpleEngine) Ingest(ctx context.Context, texts []string, collection string) (*IngestResult, error) {
	if collection == "" {
		collection = e.collection
	}
	chunks, err := e.splitter.Split(texts)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Collection: collection, Documents: len(texts), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	docs := make([]schema.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = schema.Document{PageContent: c, Metadata: map[string]any{"collection": collection, "chunk": i}}
	}
	ids, err := e.store.AddDocuments(ctx, docs, vectorstores.WithNameSpace(collection))
	if err != nil {
		return nil, fmt.Errorf("ingest into %s: %w", collection, err)
	}
	res.IDs = ids
	e.logger.Info("ingested",
		observability.Event(observability.EventTypeRAG),
		zap.String("collection", collection),
		zap.Int("documents", len(texts)),
		zap.Int("chunks", len(chunks)),
	)
	return res, nil
}

// Retrieve ranks collection against query. k <= 0 uses the default.
func (e *SimpleEngine) Retrieve(ctx context.Context, query, collection string, k int) ([]Hit, error) {
	if collection == "" {
		collection = e.collection
	}
	if k <= 0 {
		k = e.topK
	}
	docs, err := e.store.SimilaritySearch(ctx, query, k, vectorstores.WithNameSpace(collection))
	if err != nil {
		return nil, fmt.Errorf("retrieve from %s: %w", collection, err)
	}
	return toHits(docs), nil
}
