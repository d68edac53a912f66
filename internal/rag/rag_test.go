package rag

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// keywordEmbedder counts vocabulary words; texts without any known word get
// the zero vector.
type keywordEmbedder struct {
	vocab []string
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"go", "concurrency", "channels", "pasta", "cooking"}}
}

func (k *keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(k.vocab))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,:;!?")
		for i, known := range k.vocab {
			if word == known {
				v[i]++
			}
		}
	}
	return v
}

func (k *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = k.vector(t)
	}
	return out, nil
}

func (k *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return k.vector(text), nil
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "rag.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteVectorStore(openDB(t), newKeywordEmbedder(), "default")
	require.NoError(t, err)

	ids, err := store.AddDocuments(ctx, []schema.Document{
		{PageContent: "go concurrency", Metadata: map[string]any{MetaID: "a"}},
		{PageContent: "pasta cooking"},
		{PageContent: "go channels"},
	}, vectorstores.WithNameSpace("docs"))
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "a", ids[0])

	n, err := store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Zero(t, n)

	t.Run("ranked", func(t *testing.T) {
		docs, err := store.SimilaritySearch(ctx, "pasta", 2, vectorstores.WithNameSpace("docs"))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "pasta cooking", docs[0].PageContent)
	})

	t.Run("threshold", func(t *testing.T) {
		docs, err := store.SimilaritySearch(ctx, "concurrency", 5,
			vectorstores.WithNameSpace("docs"), vectorstores.WithScoreThreshold(0.5))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].Metadata[MetaID])
	})

	t.Run("get keeps order", func(t *testing.T) {
		docs, err := store.Get(ctx, []string{ids[2], "missing", ids[0]})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "go channels", docs[0].PageContent)
		assert.Equal(t, "go concurrency", docs[1].PageContent)
	})

	t.Run("deduplicater", func(t *testing.T) {
		ids, err := store.AddDocuments(ctx, []schema.Document{{PageContent: "go concurrency"}},
			vectorstores.WithNameSpace("docs"),
			vectorstores.WithDeduplicater(func(context.Context, schema.Document) bool { return true }))
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestGraphStoreEdges(t *testing.T) {
	ctx := context.Background()
	g, err := NewGraphStore(openDB(t))
	require.NoError(t, err)

	n, err := g.AddNode(ctx, Node{ID: "a", Corpus: "c", Summary: "a", Embedding: []float32{1, 0}}, 0.8)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = g.AddNode(ctx, Node{ID: "b", Corpus: "c", Summary: "b", Embedding: []float32{1, 0.1}}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = g.AddNode(ctx, Node{ID: "c", Corpus: "c", Summary: "c", Embedding: []float32{0, 1}}, 0.8)
	require.NoError(t, err)
	assert.Zero(t, n)

	edges, err := g.Neighbors(ctx, "b", 0.8)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].Target)

	edges, err = g.Neighbors(ctx, "a", 0.9999)
	require.NoError(t, err)
	assert.Empty(t, edges)

	nodes, directed, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, directed)

	node, err := g.Node(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, CorpusColor("c"), node.Color)
	assert.Equal(t, []float32{1, 0}, node.Embedding)
}

func TestSimpleEngine(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteVectorStore(openDB(t), newKeywordEmbedder(), "general")
	require.NoError(t, err)
	engine := NewSimpleEngine(store, NewSplitter(200, 0), "general", 2, nil)

	res, err := engine.Ingest(ctx, []string{"pasta cooking at home", "go   concurrency\n\npatterns", "   "}, "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", res.Collection)
	assert.Equal(t, 2, res.Chunks)
	assert.Len(t, res.IDs, 2)

	hits, err := engine.Retrieve(ctx, "cooking", "notes", 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pasta cooking at home", hits[0].Content)
	assert.NotEmpty(t, hits[0].ID)

	hits, err = engine.Retrieve(ctx, "cooking", "", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("  a\n\tb   c \r\n"))
	assert.Equal(t, "", NormalizeWhitespace(" \n "))
}

// scriptedGateway answers the three prompt kinds of the hybrid engine.
type scriptedGateway struct {
	mu          sync.Mutex
	failSummary string
	enoughWhen  string
	checks      int
	answerInput string
}

func (s *scriptedGateway) Complete(_ context.Context, msgs []llm.Message, _ string, opts llm.Options) (string, error) {
	prompt := msgs[len(msgs)-1].Content
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.HasPrefix(prompt, "Summarize"):
		text := prompt[strings.Index(prompt, "TEXT:\n")+len("TEXT:\n"):]
		if s.failSummary != "" && strings.Contains(text, s.failSummary) {
			return "", errors.New("summary backend down")
		}
		return text, nil
	case opts.JSON:
		s.checks++
		if s.enoughWhen != "" && strings.Contains(prompt, s.enoughWhen) {
			return "```json\n{\"enough_context\": True}\n```", nil
		}
		return `{"enough_context": false}`, nil
	default:
		s.answerInput = prompt
		return " Goroutines communicate over channels. ", nil
	}
}

func newHybrid(t *testing.T, gw llm.Completer, mutate func(*config.HybridRAGConfig)) (*HybridEngine, *GraphStore) {
	t.Helper()
	db := openDB(t)
	emb := newKeywordEmbedder()
	vectors, err := NewSQLiteVectorStore(db, emb, "hybrid")
	require.NoError(t, err)
	graph, err := NewGraphStore(db)
	require.NoError(t, err)
	cfg := config.HybridRAGConfig{
		ChunkSize:         200,
		Collection:        "hybrid",
		SummaryModel:      "mini",
		SummaryLength:     200,
		EdgeThreshold:     0.4,
		RetrieveThreshold: 0.4,
		MaxDepth:          2,
		TopK:              1,
		MaxContextLength:  10000,
		Concurrency:       2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHybridEngine(vectors, graph, emb, gw, cfg, "big", nil), graph
}

var hybridTexts = []string{
	"go concurrency with goroutines",
	"go channels carry values",
	"pasta cooking takes ten minutes",
}

func TestHybridIngestBuildsGraph(t *testing.T) {
	ctx := context.Background()
	engine, graph := newHybrid(t, &scriptedGateway{}, nil)

	res, err := engine.Ingest(ctx, hybridTexts, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Nodes)
	assert.Equal(t, 1, res.Edges)
	assert.Zero(t, res.Skipped)

	edges, err := graph.Neighbors(ctx, res.IDs[0], 0.4)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, res.IDs[1], edges[0].Target)

	node, err := graph.Node(ctx, res.IDs[2])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(node.Corpus, "Corpus_"))
}

func TestHybridIngestSkipsFailedSummary(t *testing.T) {
	engine, graph := newHybrid(t, &scriptedGateway{failSummary: "pasta"}, nil)

	res, err := engine.Ingest(context.Background(), hybridTexts, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Nodes)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.IDs, 3)

	nodes, _, err := graph.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, nodes)
}

func TestHybridQueryExpandsUntilEnough(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{enoughWhen: "channels"}
	engine, _ := newHybrid(t, gw, nil)
	res, err := engine.Ingest(ctx, hybridTexts, "go")
	require.NoError(t, err)

	ans, err := engine.Query(ctx, "what is concurrency")
	require.NoError(t, err)
	assert.Equal(t, "Goroutines communicate over channels.", ans.Answer)
	assert.Equal(t, []string{res.IDs[0], res.IDs[1]}, ans.ChunkIDs)
	assert.Equal(t, 1, ans.Depth)
	assert.Equal(t, 2, gw.checks)
	assert.Contains(t, gw.answerInput, "go concurrency with goroutines\n\ngo channels carry values")
	assert.NotContains(t, gw.answerInput, "pasta")
}

func TestHybridQueryStopsWhenGraphExhausted(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{}
	engine, _ := newHybrid(t, gw, func(c *config.HybridRAGConfig) { c.MaxContextLength = 20 })
	_, err := engine.Ingest(ctx, hybridTexts, "go")
	require.NoError(t, err)

	ans, err := engine.Query(ctx, "concurrency")
	require.NoError(t, err)
	assert.Len(t, ans.ChunkIDs, 2)
	assert.Equal(t, 2, gw.checks)
	assert.Contains(t, gw.answerInput, truncatedMarker)
}

func TestHybridQueryCheckFailureCountsAsNotEnough(t *testing.T) {
	ctx := context.Background()
	var checks int
	gw := llm.CompleterFunc(func(_ context.Context, msgs []llm.Message, _ string, opts llm.Options) (string, error) {
		prompt := msgs[0].Content
		switch {
		case strings.HasPrefix(prompt, "Summarize"):
			return prompt[strings.Index(prompt, "TEXT:\n")+6:], nil
		case opts.JSON:
			checks++
			return "not json at all", nil
		}
		return "done", nil
	})
	engine, _ := newHybrid(t, gw, func(c *config.HybridRAGConfig) { c.Concurrency = 1 })
	_, err := engine.Ingest(ctx, hybridTexts, "go")
	require.NoError(t, err)

	ans, err := engine.Query(ctx, "concurrency")
	require.NoError(t, err)
	assert.Equal(t, "done", ans.Answer)
	assert.Len(t, ans.ChunkIDs, 2)
	assert.Equal(t, 2, checks)
}

func TestHybridIngestCorpus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("go   channels\n\ncarry values"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("pasta cooking"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("  \n"), 0o644))

	engine, graph := newHybrid(t, &scriptedGateway{}, nil)
	results, err := engine.IngestCorpus(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "a.txt", results[0].File)
	assert.Equal(t, "b.md", results[1].File)
	assert.Equal(t, "c.pdf", results[2].File)
	assert.Contains(t, results[2].Error, "read pdf")
	assert.Equal(t, "empty file", results[3].Error)

	node, err := graph.Node(context.Background(), results[1].Result.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Corpus_b", node.Corpus)
	assert.Equal(t, "go channels carry values", node.Summary)

	_, err = engine.IngestCorpus(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestHybridIngestCorpusReadsPDF(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "sample.pdf"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.pdf"), data, 0o644))

	engine, graph := newHybrid(t, &scriptedGateway{}, nil)
	results, err := engine.IngestCorpus(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Error)
	require.NotNil(t, results[0].Result)
	assert.Positive(t, results[0].Result.Chunks)

	node, err := graph.Node(context.Background(), results[0].Result.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Corpus_sample", node.Corpus)
	assert.Contains(t, node.Summary, "A Simple PDF File")
}

func TestClipKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "h", clip("héllo", 2))
	assert.Equal(t, "hé", clip("héllo", 3))
	assert.Equal(t, "héllo", clip("héllo", 50))
}
