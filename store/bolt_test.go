package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/dome/catalog"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/orchestrator"
)

var (
	_ catalog.KnowledgeBase = (*BoltStore)(nil)
	_ orchestrator.Auditor  = (*BoltStore)(nil)
)

func openStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := Open(path, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	return s
}

func TestResourcesPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dome.db")

	s := openStore(t, path)
	folder, err := s.Create(ctx, catalog.Resource{Kind: catalog.KindFolder, Title: "Biology"})
	require.NoError(t, err)
	deck, err := s.Create(ctx, catalog.Resource{
		ParentID: folder.ID,
		Kind:     catalog.KindDeck,
		Title:    "Cell biology",
		Cards:    []catalog.Flashcard{{Front: "Powerhouse of the cell?", Back: "Mitochondria"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, path)
	defer s.Close()

	got, err := s.Get(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cell biology", got.Title)
	assert.Equal(t, folder.ID, got.ParentID)
	require.Len(t, got.Cards, 1)

	hits, err := s.Search(ctx, catalog.SearchQuery{Text: "mitochondria"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, deck.ID, hits[0].ID)

	children, err := s.List(ctx, folder.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
}

func TestResourceTreeOperations(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "dome.db"))
	defer s.Close()

	root, err := s.Create(ctx, catalog.Resource{Kind: catalog.KindFolder, Title: "Root"})
	require.NoError(t, err)
	sub, err := s.Create(ctx, catalog.Resource{ParentID: root.ID, Kind: catalog.KindFolder, Title: "Sub"})
	require.NoError(t, err)
	note, err := s.Create(ctx, catalog.Resource{ParentID: sub.ID, Title: "Note", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, catalog.KindNote, note.Kind)

	_, err = s.Create(ctx, catalog.Resource{ParentID: note.ID, Title: "child of a note"})
	assert.ErrorContains(t, err, "not a folder")

	_, err = s.Move(ctx, root.ID, sub.ID)
	assert.ErrorIs(t, err, catalog.ErrCycle)

	moved, err := s.Move(ctx, note.ID, "")
	require.NoError(t, err)
	assert.Empty(t, moved.ParentID)

	title := "Renamed"
	updated, err := s.Update(ctx, note.ID, catalog.ResourcePatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "hello", updated.Content)

	require.NoError(t, s.Delete(ctx, root.ID))
	_, err = s.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = s.Get(ctx, note.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, root.ID), catalog.ErrNotFound)
	_, err = s.List(ctx, root.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestApprovalLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dome.db")
	s := openStore(t, path)

	in := &hitl.Interrupt{
		ThreadID: "t1",
		ActionRequests: []hitl.ActionRequest{
			{ToolCallID: "call_1", Name: "call_writer_agent", Arguments: json.RawMessage(`{"instructions":"deck"}`)},
			{ToolCallID: "call_2", Name: "call_data_agent", Arguments: json.RawMessage(`{"instructions":"sheet"}`)},
		},
	}
	require.NoError(t, s.RecordInterrupt(ctx, in))
	require.NoError(t, s.RecordInterrupt(ctx, &hitl.Interrupt{
		ThreadID:       "t10",
		ActionRequests: []hitl.ActionRequest{{ToolCallID: "x", Name: "call_data_agent"}},
	}))
	require.NoError(t, s.RecordDecisions(ctx, "t1", in.ActionRequests, []hitl.Decision{
		{Type: hitl.Edit, Arguments: json.RawMessage(`{"instructions":"short deck"}`)},
		{Type: hitl.Reject, Message: "not now"},
	}))
	require.NoError(t, s.Close())

	s = openStore(t, path)
	defer s.Close()

	recs, err := s.ListApprovals(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, KindRequested, recs[0].Kind)
	assert.Equal(t, "call_1", recs[0].ToolCallID)
	assert.Equal(t, KindRequested, recs[1].Kind)

	assert.Equal(t, KindDecided, recs[2].Kind)
	assert.Equal(t, hitl.Edit, recs[2].Decision)
	assert.JSONEq(t, `{"instructions":"short deck"}`, string(recs[2].Arguments))

	assert.Equal(t, hitl.Reject, recs[3].Decision)
	assert.Equal(t, "not now", recs[3].Message)
	assert.JSONEq(t, `{"instructions":"sheet"}`, string(recs[3].Arguments))

	other, err := s.ListApprovals(ctx, "t10")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	none, err := s.ListApprovals(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordDecisionsRejectsMismatch(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "dome.db"))
	defer s.Close()

	err := s.RecordDecisions(context.Background(), "t1",
		[]hitl.ActionRequest{{ToolCallID: "a"}}, nil)
	assert.Error(t, err)
}
