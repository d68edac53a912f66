package tools

import (
	"context"
	"errors"

	"github.com/rahul/planloop/internal/rag"
	"go.uber.org/zap"
)

// Ingester is the ingest half of a retrieval engine.
type Ingester interface {
	Ingest(ctx context.Context, texts []string, collection string) (*rag.IngestResult, error)
}

// Retriever is the lookup half of a retrieval engine.
type Retriever interface {
	Retrieve(ctx context.Context, query, collection string, k int) ([]rag.Hit, error)
}

// Answerer answers a question from the knowledge graph.
type Answerer interface {
	Query(ctx context.Context, question string) (*rag.Answer, error)
}

// RAGIngestTool stores text in a collection for later retrieval.
type RAGIngestTool struct {
	Engine Ingester
}

func NewRAGIngestTool(engine Ingester) *RAGIngestTool {
	return &RAGIngestTool{Engine: engine}
}

func (r *RAGIngestTool) Name() string {
	return "rag_ingest"
}

func (r *RAGIngestTool) Description() string {
	return "Store text in a document collection so later steps can retrieve it. The text defaults to the output of the step named in input_ref."
}

func (r *RAGIngestTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"texts": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Documents to store",
			},
			"collection": map[string]any{"type": "string"},
		},
	}
}

func (r *RAGIngestTool) Execute(ctx context.Context, call Call) (any, error) {
	texts := call.Strings("texts")
	if len(texts) == 0 {
		if in := call.InputText(); in != "" {
			texts = []string{in}
		}
	}
	if len(texts) == 0 {
		return nil, errors.New("nothing to ingest")
	}
	res, err := r.Engine.Ingest(ctx, texts, call.String("collection"))
	if err != nil {
		return nil, err
	}
	call.log().Debug("rag ingest", zap.String("collection", res.Collection), zap.Int("chunks", res.Chunks))
	return res, nil
}

// RAGRetrieveTool searches a collection.
type RAGRetrieveTool struct {
	Engine Retriever
}

func NewRAGRetrieveTool(engine Retriever) *RAGRetrieveTool {
	return &RAGRetrieveTool{Engine: engine}
}

func (r *RAGRetrieveTool) Name() string {
	return "rag_retrieve"
}

func (r *RAGRetrieveTool) Description() string {
	return "Search and retrieve information from stored documents."
}

func (r *RAGRetrieveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The natural language query to search for",
			},
			"collection": map[string]any{"type": "string"},
			"top_k":      map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}
}

func (r *RAGRetrieveTool) Execute(ctx context.Context, call Call) (any, error) {
	query := call.String("query")
	if query == "" {
		return nil, errors.New("query is required")
	}
	return r.Engine.Retrieve(ctx, query, call.String("collection"), call.Int("top_k", 0))
}

// KnowledgeQueryTool answers from the hybrid vector/graph store.
type KnowledgeQueryTool struct {
	Engine Answerer
}

func NewKnowledgeQueryTool(engine Answerer) *KnowledgeQueryTool {
	return &KnowledgeQueryTool{Engine: engine}
}

func (k *KnowledgeQueryTool) Name() string {
	return "knowledge_query"
}

func (k *KnowledgeQueryTool) Description() string {
	return "Answer a question from the ingested knowledge corpus, following related passages."
}

func (k *KnowledgeQueryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required": []string{"question"},
	}
}

func (k *KnowledgeQueryTool) Execute(ctx context.Context, call Call) (any, error) {
	q := call.String("question")
	if q == "" {
		return nil, errors.New("question is required")
	}
	ans, err := k.Engine.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return ans.Answer, nil
}
