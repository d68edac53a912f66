package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/observability"
	"github.com/rahul/planloop/pkg/config"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	summarizePrompt = `Summarize the following text in at most %d characters. Keep names, numbers and domain terms. Reply with the summary only.

TEXT:
%s`

	enoughContextPrompt = `Question: %s

Context:
%s

Is the context above enough to answer the question fully? Reply with a JSON object {"enough_context": true} or {"enough_context": false}.`

	answerPrompt = `Answer the question using only the context. If the context does not contain the answer, say so.

Question: %s

Context:
%s`

	truncatedMarker = "...[truncated]"
)

// Answer is the result of a hybrid query.
type Answer struct {
	Answer   string   `json:"answer"`
	ChunkIDs []string `json:"chunk_ids"`
	Depth    int      `json:"depth"`
}

// HybridEngine stores chunk text in the vector store and a summary graph in
// the graph store, then answers by expanding vector hits through the graph.
type HybridEngine struct {
	vectors  *SQLiteVectorStore
	graph    *GraphStore
	embedder embeddings.Embedder
	gateway  llm.Completer
	splitter *Splitter
	cfg      config.HybridRAGConfig
	model    string
	logger   *zap.Logger
}

// NewHybridEngine wires the engine; model answers queries while
// cfg.SummaryModel writes node summaries.
func NewHybridEngine(vectors *SQLiteVectorStore, graph *GraphStore, embedder embeddings.Embedder, gateway llm.Completer, cfg config.HybridRAGConfig, model string, logger *zap.Logger) *HybridEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridEngine{
		vectors:  vectors,
		graph:    graph,
		embedder: embedder,
		gateway:  gateway,
		splitter: NewSplitter(cfg.ChunkSize, cfg.Overlap),
		cfg:      cfg,
		model:    model,
		logger:   logger.Named("rag.hybrid"),
	}
}

// Ingest adds texts as one corpus. An empty corpus label gets a generated one.
func (e *HybridEngine) Ingest(ctx context.Context, texts []string, corpus string) (*IngestResult, error) {
	if corpus == "" {
		corpus = "Corpus_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	chunks, err := e.splitter.Split(texts)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Collection: e.cfg.Collection, Documents: len(texts), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	docs := make([]schema.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = schema.Document{PageContent: c, Metadata: map[string]any{
			MetaID:   uuid.NewString(),
			"corpus": corpus,
		}}
	}
	ids, err := e.vectors.AddEmbedded(ctx, e.cfg.Collection, docs, vecs)
	if err != nil {
		return nil, err
	}
	res.IDs = ids

	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Concurrency > 0 {
		g.SetLimit(e.cfg.Concurrency)
	}
	for i, chunk := range chunks {
		g.Go(func() error {
			s, err := e.summarize(gctx, chunk)
			if err != nil {
				e.logger.Warn("summary failed, chunk left out of the graph", zap.String("chunk", ids[i]), zap.Error(err))
				return nil
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var nodeIDs, nodeSummaries []string
	for i, s := range summaries {
		if s == "" {
			res.Skipped++
			continue
		}
		nodeIDs = append(nodeIDs, ids[i])
		nodeSummaries = append(nodeSummaries, s)
	}
	if len(nodeSummaries) == 0 {
		return res, nil
	}
	summaryVecs, err := e.embedder.EmbedDocuments(ctx, nodeSummaries)
	if err != nil {
		return nil, fmt.Errorf("embed summaries: %w", err)
	}
	if len(summaryVecs) != len(nodeSummaries) {
		return nil, fmt.Errorf("embed summaries: got %d vectors for %d summaries", len(summaryVecs), len(nodeSummaries))
	}

	for i, id := range nodeIDs {
		edges, err := e.graph.AddNode(ctx, Node{
			ID:        id,
			Corpus:    corpus,
			Summary:   nodeSummaries[i],
			Embedding: summaryVecs[i],
		}, e.cfg.EdgeThreshold)
		if err != nil {
			e.logger.Warn("graph node failed", zap.String("chunk", id), zap.Error(err))
			res.Skipped++
			continue
		}
		res.Nodes++
		res.Edges += edges
	}

	e.logger.Info("ingested",
		observability.Event(observability.EventTypeRAG),
		zap.String("corpus", corpus),
		zap.Int("chunks", res.Chunks),
		zap.Int("nodes", res.Nodes),
		zap.Int("edges", res.Edges),
	)
	return res, nil
}

func (e *HybridEngine) summarize(ctx context.Context, text string) (string, error) {
	out, err := e.gateway.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(summarizePrompt, e.cfg.SummaryLength, text)),
	}, e.cfg.SummaryModel, llm.Options{})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty summary")
	}
	return out, nil
}

// Query answers question from the vector hits and, layer by layer, their
// graph neighbours until the model judges the context sufficient or
// MaxDepth is reached.
func (e *HybridEngine) Query(ctx context.Context, question string) (*Answer, error) {
	qv, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.vectors.SearchByVector(ctx, e.cfg.Collection, qv, e.cfg.TopK, 0)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	visited := make(map[string]bool)
	var related, layer []string
	for _, h := range toHits(hits) {
		if h.ID == "" || visited[h.ID] {
			continue
		}
		visited[h.ID] = true
		related = append(related, h.ID)
		layer = append(layer, h.ID)
	}

	depth := 0
	for ; depth <= e.cfg.MaxDepth && len(layer) > 0; depth++ {
		text, err := e.context(ctx, related)
		if err != nil {
			return nil, err
		}
		if e.enough(ctx, question, text) {
			e.logger.Info("context sufficient", zap.Int("depth", depth), zap.Int("chunks", len(related)))
			break
		}

		var next []string
		for _, id := range layer {
			edges, err := e.graph.Neighbors(ctx, id, e.cfg.RetrieveThreshold)
			if err != nil {
				return nil, fmt.Errorf("neighbors of %s: %w", id, err)
			}
			for _, edge := range edges {
				if visited[edge.Target] {
					continue
				}
				visited[edge.Target] = true
				related = append(related, edge.Target)
				next = append(next, edge.Target)
			}
		}
		e.logger.Debug("expanded layer", zap.Int("depth", depth), zap.Int("new", len(next)))
		layer = next
	}

	text, err := e.context(ctx, related)
	if err != nil {
		return nil, err
	}
	answer, err := e.gateway.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(answerPrompt, question, text)),
	}, e.model, llm.Options{})
	if err != nil {
		return nil, err
	}
	return &Answer{Answer: strings.TrimSpace(answer), ChunkIDs: related, Depth: depth}, nil
}

func (e *HybridEngine) context(ctx context.Context, ids []string) (string, error) {
	docs, err := e.vectors.Get(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("load chunks: %w", err)
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	text := strings.Join(parts, "\n\n")
	if max := e.cfg.MaxContextLength; max > 0 && len(text) > max {
		text = clip(text, max) + truncatedMarker
	}
	return text, nil
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// enough treats any failure as "not enough".
func (e *HybridEngine) enough(ctx context.Context, question, text string) bool {
	out, err := e.gateway.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(enoughContextPrompt, question, text)),
	}, e.model, llm.Options{JSON: true})
	if err != nil {
		e.logger.Warn("context check failed", zap.Error(err))
		return false
	}
	var verdict struct {
		EnoughContext bool `json:"enough_context"`
	}
	if err := llm.DecodeJSON("context check", out, nil, &verdict); err != nil {
		e.logger.Warn("context check unreadable", zap.Error(err))
		return false
	}
	return verdict.EnoughContext
}

// FileResult is the outcome of ingesting one corpus file.
type FileResult struct {
	File   string        `json:"file"`
	Result *IngestResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

var corpusExtensions = map[string]bool{".txt": true, ".md": true, ".pdf": true}

// IngestCorpus ingests every .txt, .md and .pdf file of dir as its own corpus.
// Files that fail are reported and do not stop the others.
func (e *HybridEngine) IngestCorpus(ctx context.Context, dir string) ([]FileResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []FileResult
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if !corpusExtensions[strings.ToLower(filepath.Ext(name))] {
			e.logger.Info("skipping unsupported corpus file", zap.String("file", name))
			continue
		}
		fr := FileResult{File: name}
		raw, err := readCorpusFile(ctx, filepath.Join(dir, name))
		if err != nil {
			fr.Error = err.Error()
			out = append(out, fr)
			continue
		}
		text := NormalizeWhitespace(raw)
		if text == "" {
			fr.Error = "empty file"
			out = append(out, fr)
			continue
		}
		label := "Corpus_" + strings.TrimSuffix(name, filepath.Ext(name))
		res, err := e.Ingest(ctx, []string{text}, label)
		if err != nil {
			fr.Error = err.Error()
		}
		fr.Result = res
		out = append(out, fr)
	}
	return out, nil
}

// readCorpusFile returns the text of a corpus file. PDFs are read page by
// page with the langchaingo loader.
func readCorpusFile(ctx context.Context, path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		data, err := os.ReadFile(path)
		return string(data), err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.PageContent
	}
	return strings.Join(parts, "\n"), nil
}
