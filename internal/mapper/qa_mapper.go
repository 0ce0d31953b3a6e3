package mapper

import (
	"encoding/json"

	"knowledge-qa-be/internal/entity"
	"knowledge-qa-be/internal/model"

	"gorm.io/datatypes"
)

type QAMapper struct{}

func NewQAMapper() *QAMapper {
	return &QAMapper{}
}

// wire shape of one reference inside the jsonb column
type referenceJSON struct {
	TopicId   string  `json:"topicId"`
	Topic     string  `json:"topic"`
	Relevance float64 `json:"relevance"`
}

func (m *QAMapper) SessionToEntity(s *model.QASession) *entity.QASession {
	if s == nil {
		return nil
	}

	var refs []entity.QAReference
	if len(s.References) > 0 {
		var raw []referenceJSON
		if err := json.Unmarshal(s.References, &raw); err == nil {
			refs = make([]entity.QAReference, len(raw))
			for i, r := range raw {
				refs[i] = entity.QAReference{TopicId: r.TopicId, Topic: r.Topic, Relevance: r.Relevance}
			}
		}
	}

	return &entity.QASession{
		Id:                  s.Id,
		UserId:              s.UserId,
		Title:               s.Title,
		Question:            s.Question,
		Answer:              s.Answer,
		References:          refs,
		TopK:                s.TopK,
		EnableQueryRewriter: s.EnableQueryRewriter,
		IsFailed:            s.IsFailed,
		FailReason:          s.FailReason,
		Pinned:              s.Pinned,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
		IsDeleted:           s.DeletedAt.Valid,
	}
}

func (m *QAMapper) SessionToModel(s *entity.QASession) *model.QASession {
	if s == nil {
		return nil
	}

	raw := make([]referenceJSON, len(s.References))
	for i, r := range s.References {
		raw[i] = referenceJSON{TopicId: r.TopicId, Topic: r.Topic, Relevance: r.Relevance}
	}
	refs, _ := json.Marshal(raw)

	return &model.QASession{
		Id:                  s.Id,
		UserId:              s.UserId,
		Title:               s.Title,
		Question:            s.Question,
		Answer:              s.Answer,
		References:          datatypes.JSON(refs),
		TopK:                s.TopK,
		EnableQueryRewriter: s.EnableQueryRewriter,
		IsFailed:            s.IsFailed,
		FailReason:          s.FailReason,
		Pinned:              s.Pinned,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func (m *QAMapper) SessionsToEntities(models []*model.QASession) []*entity.QASession {
	entities := make([]*entity.QASession, len(models))
	for i, s := range models {
		entities[i] = m.SessionToEntity(s)
	}
	return entities
}
