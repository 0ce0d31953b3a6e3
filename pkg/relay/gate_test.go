package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	inserts []*QARecord
	err     error
}

func (s *memoryStore) InsertSession(_ context.Context, rec *QARecord) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	s.inserts = append(s.inserts, rec)
	return uuid.New(), nil
}

func TestGateSkipsEmptyRun(t *testing.T) {
	store := &memoryStore{}
	gate := NewPersistenceGate(store, &StreamRequest{Question: "nothing happened"})

	var acc AccumulatorState
	id, err := gate.Save(context.Background(), &acc)

	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Empty(t, store.inserts)
	assert.False(t, acc.HasSaved(), "a skipped save must not consume the latch")
}

func TestGateSavesOnce(t *testing.T) {
	store := &memoryStore{}
	req := &StreamRequest{
		Question:            "how does raft elect leaders",
		TopK:                7,
		EnableQueryRewriter: true,
	}
	gate := NewPersistenceGate(store, req)

	var acc AccumulatorState
	acc.AppendAnswer("leaders are elected by majority vote")
	acc.ReplaceReferences([]Reference{{TopicId: "t1", Topic: "raft", Relevance: 0.93}})

	id, err := gate.Save(context.Background(), &acc)
	require.NoError(t, err)
	require.NotNil(t, id)

	require.Len(t, store.inserts, 1)
	rec := store.inserts[0]
	assert.Equal(t, "how does raft elect leaders", rec.Title)
	assert.Equal(t, req.Question, rec.Question)
	assert.Equal(t, "leaders are elected by majority vote", rec.Answer)
	assert.Equal(t, 7, rec.TopK)
	assert.True(t, rec.EnableQueryRewriter)
	assert.False(t, rec.IsFailed)
	require.Len(t, rec.References, 1)
	assert.Equal(t, "t1", rec.References[0].TopicId)

	// Second call hits the latch and is a no-op.
	id2, err := gate.Save(context.Background(), &acc)
	require.NoError(t, err)
	assert.Nil(t, id2)
	assert.Len(t, store.inserts, 1)
}

func TestGateFailedRunGetsMarkedTitle(t *testing.T) {
	store := &memoryStore{}
	gate := NewPersistenceGate(store, &StreamRequest{Question: "broken question"})

	var acc AccumulatorState
	acc.AppendAnswer("partial answer")
	acc.AppendAnswer(FailureNote("upstream timeout"))
	acc.MarkFailed("upstream timeout")

	id, err := gate.Save(context.Background(), &acc)
	require.NoError(t, err)
	require.NotNil(t, id)

	rec := store.inserts[0]
	assert.Equal(t, "【失败】broken question", rec.Title)
	assert.Equal(t, "partial answer\n\n【生成失败】原因：upstream timeout", rec.Answer)
	assert.True(t, rec.IsFailed)
	assert.Equal(t, "upstream timeout", rec.FailReason)
}

func TestGateNeverRetriesFailedSave(t *testing.T) {
	store := &memoryStore{err: errors.New("connection refused")}
	gate := NewPersistenceGate(store, &StreamRequest{Question: "q"})

	var acc AccumulatorState
	acc.AppendAnswer("answer")

	id, err := gate.Save(context.Background(), &acc)
	require.Error(t, err)
	assert.Nil(t, id)
	assert.True(t, acc.HasSaved(), "latch stays set after a failed save")

	// The error is gone now, but the latch forbids a second attempt.
	store.err = nil
	id2, err := gate.Save(context.Background(), &acc)
	require.NoError(t, err)
	assert.Nil(t, id2)
	assert.Empty(t, store.inserts)
}
