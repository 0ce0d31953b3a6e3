package entity

import (
	"github.com/google/uuid"
)

// QAReference is one cited knowledge topic of a stored answer.
type QAReference struct {
	TopicId   string
	Topic     string
	Relevance float64
}

// QASession is the domain view of one persisted run. CreatedAt/UpdatedAt
// are milliseconds since epoch.
type QASession struct {
	Id                  uuid.UUID
	UserId              uuid.UUID
	Title               string
	Question            string
	Answer              string
	References          []QAReference
	TopK                int
	EnableQueryRewriter bool
	IsFailed            bool
	FailReason          string
	Pinned              bool
	CreatedAt           int64
	UpdatedAt           int64
	IsDeleted           bool
}
