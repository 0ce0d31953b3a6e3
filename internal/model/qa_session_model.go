package model

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QASession is one persisted question-answering run. Timestamps are stored
// as milliseconds since epoch, matching the wire contract exactly.
type QASession struct {
	Id                  uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserId              uuid.UUID      `gorm:"type:uuid;not null;index"` // User ownership for data isolation
	Title               string         `gorm:"type:text;not null"`
	Question            string         `gorm:"type:text;not null"`
	Answer              string         `gorm:"type:text"`
	References          datatypes.JSON `gorm:"type:jsonb"`
	TopK                int            `gorm:"not null;default:0"`
	EnableQueryRewriter bool           `gorm:"not null;default:false"`
	IsFailed            bool           `gorm:"not null;default:false"`
	FailReason          string         `gorm:"type:text"`
	Pinned              bool           `gorm:"not null;default:false;index"`
	CreatedAt           int64          `gorm:"autoCreateTime:milli"`
	UpdatedAt           int64          `gorm:"autoUpdateTime:milli"`
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

func (QASession) TableName() string {
	return "qa_sessions"
}
