// Package gateway exposes the agents to the outside: an HTTP API and a
// Telegram bot. Both persist every finished run to the run store.
package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rahul/planloop/internal/agent"
	"github.com/rahul/planloop/internal/rag"
	"github.com/rahul/planloop/internal/store"
)

// Messenger defines the interface for chat gateways (Telegram, etc.)
type Messenger interface {
	// Start begins the message listening loop and returns when ctx ends
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// CodeAgent is the code agent as the gateways use it.
type CodeAgent interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// SurfAgent is the surf agent as the gateways use it.
type SurfAgent interface {
	Run(ctx context.Context, objective string) (*agent.Result, error)
}

type SimpleRAG interface {
	Ingest(ctx context.Context, texts []string, collection string) (*rag.IngestResult, error)
	Retrieve(ctx context.Context, query, collection string, k int) ([]rag.Hit, error)
}

type HybridRAG interface {
	Ingest(ctx context.Context, texts []string, corpus string) (*rag.IngestResult, error)
	IngestCorpus(ctx context.Context, dir string) ([]rag.FileResult, error)
	Query(ctx context.Context, question string) (*rag.Answer, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	Save(ctx context.Context, rec store.Record) error
}

// RecordOf turns a run outcome into a journal record. A fatal run still
// yields its partial result through agent.RunError; a nil record means
// the run never started.
func RecordOf(res *agent.Result, err error) *store.Record {
	if res == nil {
		var runErr *agent.RunError
		if !errors.As(err, &runErr) {
			return nil
		}
		res = runErr.Result
	}
	rec := &store.Record{
		RunID:       res.RunID,
		Variant:     res.Variant,
		Objective:   res.Objective,
		Decision:    string(res.Decision),
		Iterations:  res.Iterations,
		FinalAnswer: res.FinalAnswer,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}
	if res.Plan != nil {
		if data, jerr := json.Marshal(res.Plan); jerr == nil {
			rec.PlanJSON = string(data)
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
