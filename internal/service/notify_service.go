package service

import (
	"context"

	"knowledge-qa-be/internal/pkg/logger"
	internalWS "knowledge-qa-be/internal/websocket"
	"knowledge-qa-be/pkg/events"
	pktNats "knowledge-qa-be/pkg/nats"

	"github.com/google/uuid"
)

type INotifyService interface {
	Start() error
}

// notifyService turns saved-session events from JetStream into websocket
// pushes. The durable consumer gives queue semantics across instances; the
// hub's Redis fan-out reaches devices connected elsewhere.
type notifyService struct {
	natsSub *pktNats.Subscriber
	hub     *internalWS.Hub
	logger  logger.ILogger
}

func NewNotifyService(natsSub *pktNats.Subscriber, hub *internalWS.Hub, log logger.ILogger) INotifyService {
	return &notifyService{
		natsSub: natsSub,
		hub:     hub,
		logger:  log,
	}
}

func (s *notifyService) Start() error {
	return s.natsSub.Subscribe("events.QA_SESSION_SAVED", "qa-ws-notifier", s.handleSessionSaved)
}

func (s *notifyService) handleSessionSaved(_ context.Context, event events.Event) error {
	payload := event.Payload()

	userIdStr, _ := payload["user_id"].(string)
	sessionIdStr, _ := payload["session_id"].(string)
	isFailed, _ := payload["is_failed"].(bool)

	userId, err := uuid.Parse(userIdStr)
	if err != nil {
		s.logger.Warn("NotifyService", "Event missing valid user_id", map[string]interface{}{"payload": payload})
		return nil // drop; retrying cannot fix a malformed event
	}

	sessionId, err := uuid.Parse(sessionIdStr)
	if err != nil {
		s.logger.Warn("NotifyService", "Event missing valid session_id", map[string]interface{}{"payload": payload})
		return nil
	}

	s.hub.Send(userId, internalWS.Notification{
		Kind:      "qa_session_saved",
		SessionId: sessionId,
		Data: map[string]interface{}{
			"is_failed": isFailed,
		},
	})
	return nil
}
