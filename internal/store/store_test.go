package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/planloop/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *RunStore {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "planloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunStore(db)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planloop.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRunStore_SaveAndGet(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)
	rec := Record{
		RunID:       "run-1",
		Variant:     "code",
		Objective:   "2+2",
		Decision:    "DONE",
		Iterations:  1,
		FinalAnswer: "4",
		PlanJSON:    `{"steps":[]}`,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Second),
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	rec.FinalAnswer = "four"
	require.NoError(t, s.Save(ctx, rec))
	got, err = s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "four", got.FinalAnswer)
}

func TestRunStore_GetMissing(t *testing.T) {
	_, err := openTest(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_SaveRequiresID(t *testing.T) {
	assert.Error(t, openTest(t).Save(context.Background(), Record{}))
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(ctx, Record{RunID: id, Variant: "surf", Objective: "o", StartedAt: at, FinishedAt: at}))
	}

	recs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].RunID)
	assert.Equal(t, "b", recs[1].RunID)
}

func TestHistoryStore(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer db.Close()
	h := NewHistoryStore(db)
	ctx := context.Background()

	require.NoError(t, h.AddMessage(ctx, "chat", llm.RoleUser, "hi"))
	require.NoError(t, h.AddMessage(ctx, "chat", llm.RoleAssistant, "hello"))
	require.NoError(t, h.AddMessage(ctx, "chat", "human", "2+2?"))
	require.NoError(t, h.AddMessage(ctx, "other", llm.RoleUser, "unrelated"))

	got, err := h.GetHistory(ctx, "chat", 2)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "2+2?"},
	}, got)

	require.NoError(t, h.ClearHistory(ctx, "chat"))
	got, err = h.GetHistory(ctx, "chat", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
