package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySaveListAndPayload(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec1 := Record{RunID: "run-1", TargetID: "turn-1", RevisionID: "rev-a", ResultHash: "hash-1"}
	rec2 := Record{RunID: "run-1", TargetID: "turn-1", RevisionID: "rev-b", ResultHash: "hash-2"}
	require.NoError(t, s.Save(ctx, rec1, []byte(`{"response":{"data":"one"}}`)))
	require.NoError(t, s.Save(ctx, rec2, []byte(`{"response":{"data":"two"}}`)))

	records, err := s.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	require.Equal(t, "rev-b", records[0].RevisionID)
	require.False(t, records[0].CreatedAt.IsZero())

	payload, err := s.Payload(ctx, "run-1", "hash-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"response":{"data":"one"}}`, string(payload))
}

func TestMemorySaveAbsorbsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := Record{RunID: "run-1", TargetID: "turn-1", RevisionID: "rev-a", ResultHash: "hash-1"}
	require.NoError(t, s.Save(ctx, rec, nil))
	require.NoError(t, s.Save(ctx, rec, nil))

	records, err := s.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestListByRunUnknown(t *testing.T) {
	s := New()
	records, err := s.ListByRun(context.Background(), "nope")
	require.NoError(t, err)
	require.Empty(t, records)

	_, err = s.Payload(context.Background(), "nope", "hash")
	require.Error(t, err)
}
