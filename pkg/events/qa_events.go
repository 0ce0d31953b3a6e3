package events

import (
	"time"

	"github.com/google/uuid"
)

// QASessionSavedEvent fires after the relay durably persisted one run.
type QASessionSavedEvent struct {
	SessionId  uuid.UUID
	UserId     uuid.UUID
	IsFailed   bool
	OccurredAt time.Time
}

func NewQASessionSavedEvent(sessionId, userId uuid.UUID, isFailed bool) QASessionSavedEvent {
	return QASessionSavedEvent{
		SessionId:  sessionId,
		UserId:     userId,
		IsFailed:   isFailed,
		OccurredAt: time.Now(),
	}
}

func (e QASessionSavedEvent) EventType() string {
	return "QA_SESSION_SAVED"
}

func (e QASessionSavedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionId.String(),
		"user_id":    e.UserId.String(),
		"is_failed":  e.IsFailed,
	}
}

func (e QASessionSavedEvent) Timestamp() time.Time {
	return e.OccurredAt
}
