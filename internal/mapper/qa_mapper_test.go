package mapper

import (
	"testing"

	"knowledge-qa-be/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQASessionMapperRoundTrip(t *testing.T) {
	m := NewQAMapper()

	src := &entity.QASession{
		Id:       uuid.New(),
		UserId:   uuid.New(),
		Title:    "【失败】what is raft",
		Question: "what is raft",
		Answer:   "raft is a consensus protocol\n\n【生成失败】原因：timeout",
		References: []entity.QAReference{
			{TopicId: "t1", Topic: "consensus", Relevance: 0.92},
			{TopicId: "t2", Topic: "replication", Relevance: 0.61},
		},
		TopK:                5,
		EnableQueryRewriter: true,
		IsFailed:            true,
		FailReason:          "timeout",
		Pinned:              true,
		CreatedAt:           1724630400000,
		UpdatedAt:           1724630400000,
	}

	mdl := m.SessionToModel(src)
	got := m.SessionToEntity(mdl)

	assert.Equal(t, src, got)
}

func TestQASessionMapperEmptyReferences(t *testing.T) {
	m := NewQAMapper()

	src := &entity.QASession{
		Id:       uuid.New(),
		UserId:   uuid.New(),
		Title:    "q",
		Question: "q",
	}

	mdl := m.SessionToModel(src)
	require.NotNil(t, mdl)

	got := m.SessionToEntity(mdl)
	assert.Empty(t, got.References)
}

func TestQASessionMapperNil(t *testing.T) {
	m := NewQAMapper()
	assert.Nil(t, m.SessionToModel(nil))
	assert.Nil(t, m.SessionToEntity(nil))
}
