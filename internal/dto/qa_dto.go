package dto

import (
	"github.com/google/uuid"
)

// AskRequest is the browser-facing shape of one streaming run.
type AskRequest struct {
	Question            string   `json:"question" validate:"required,min=1"`
	ConversationId      string   `json:"conversation_id,omitempty"`
	SessionId           string   `json:"session_id,omitempty"`
	TopK                int      `json:"top_k,omitempty" validate:"gte=0,lte=50"`
	EnableQueryRewriter bool     `json:"enable_query_rewriter,omitempty"`
	EnabledTools        []string `json:"enabled_tools,omitempty"`
	MaxToolRounds       int      `json:"max_tool_rounds,omitempty" validate:"gte=0,lte=10"`
	Temperature         float64  `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens           int      `json:"max_tokens,omitempty" validate:"gte=0"`
}

type QAReferenceDTO struct {
	TopicId   string  `json:"topic_id"`
	Topic     string  `json:"topic"`
	Relevance float64 `json:"relevance"`
}

type SessionListItemResponse struct {
	Id        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	IsFailed  bool      `json:"is_failed"`
	Pinned    bool      `json:"pinned"`
	CreatedAt int64     `json:"created_at"` // ms since epoch
	UpdatedAt int64     `json:"updated_at"`
}

type SessionListResponse struct {
	Sessions []SessionListItemResponse `json:"sessions"`
	Total    int64                     `json:"total"`
}

type SessionDetailResponse struct {
	Id                  uuid.UUID        `json:"id"`
	Title               string           `json:"title"`
	Question            string           `json:"question"`
	Answer              string           `json:"answer"`
	References          []QAReferenceDTO `json:"references"`
	TopK                int              `json:"top_k"`
	EnableQueryRewriter bool             `json:"enable_query_rewriter"`
	IsFailed            bool             `json:"is_failed"`
	FailReason          string           `json:"fail_reason,omitempty"`
	Pinned              bool             `json:"pinned"`
	CreatedAt           int64            `json:"created_at"`
	UpdatedAt           int64            `json:"updated_at"`
}

type PinSessionRequest struct {
	Pinned bool `json:"pinned"`
}

// PublishSessionSavedMessage is the internal bus payload emitted after a
// run was persisted.
type PublishSessionSavedMessage struct {
	SessionId uuid.UUID `json:"session_id"`
	UserId    uuid.UUID `json:"user_id"`
	IsFailed  bool      `json:"is_failed"`
}
