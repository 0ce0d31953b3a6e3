package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"knowledge-qa-be/internal/constant"
	"knowledge-qa-be/internal/dto"
	"knowledge-qa-be/internal/entity"
	"knowledge-qa-be/internal/pkg/logger"
	"knowledge-qa-be/internal/pkg/mailer"
	"knowledge-qa-be/internal/pkg/serverutils"
	"knowledge-qa-be/internal/repository/unitofwork"
	"knowledge-qa-be/pkg/relay"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IAskService interface {
	// StartStream opens one run against the upstream agent. Envelopes are
	// written to sink as they arrive; the returned session reports
	// completion via Done(). Returns relay.ErrConversationBusy when the
	// conversation already has an active run.
	StartStream(ctx context.Context, userId uuid.UUID, req *dto.AskRequest, sink relay.EnvelopeSink, policy relay.DisconnectPolicy) (*relay.StreamSession, error)
}

type askService struct {
	uowFactory       unitofwork.RepositoryFactory
	subscriber       relay.UpstreamSubscriber
	lock             *relay.ConversationLock
	publisherService IPublisherService
	emailService     mailer.IEmailService
	logger           logger.ILogger
}

func NewAskService(
	uowFactory unitofwork.RepositoryFactory,
	subscriber relay.UpstreamSubscriber,
	lock *relay.ConversationLock,
	publisherService IPublisherService,
	emailService mailer.IEmailService,
	log logger.ILogger,
) IAskService {
	return &askService{
		uowFactory:       uowFactory,
		subscriber:       subscriber,
		lock:             lock,
		publisherService: publisherService,
		emailService:     emailService,
		logger:           log,
	}
}

func (s *askService) StartStream(ctx context.Context, userId uuid.UUID, req *dto.AskRequest, sink relay.EnvelopeSink, policy relay.DisconnectPolicy) (*relay.StreamSession, error) {
	if len(req.Question) > constant.MaxQuestionBytes {
		return nil, serverutils.NewAppError(fiber.StatusBadRequest, "question too long")
	}

	sreq := &relay.StreamRequest{
		Question:            req.Question,
		ConversationId:      req.ConversationId,
		SessionId:           req.SessionId,
		TopK:                req.TopK,
		EnableQueryRewriter: req.EnableQueryRewriter,
		EnabledTools:        req.EnabledTools,
		MaxToolRounds:       req.MaxToolRounds,
		Temperature:         req.Temperature,
		MaxTokens:           req.MaxTokens,
	}
	if sreq.TopK == 0 {
		sreq.TopK = constant.DefaultTopK
	}
	if sreq.TopK > constant.MaxTopK {
		sreq.TopK = constant.MaxTopK
	}
	if sreq.MaxToolRounds > constant.MaxToolRounds {
		sreq.MaxToolRounds = constant.MaxToolRounds
	}

	store := &qaSessionStore{uowFactory: s.uowFactory, userId: userId}

	sess := relay.NewStreamSession(relay.SessionConfig{
		Request:    sreq,
		Subscriber: s.subscriber,
		Gate:       relay.NewPersistenceGate(store, sreq),
		Channel:    relay.NewClientChannel(sink),
		Lock:       s.lock,
		Policy:     policy,
		Logger:     s.logger,
		OnSaveError: func(err error) {
			if s.emailService == nil {
				return
			}
			go func() {
				title := relay.DeriveTitle(req.Question, true)
				if mailErr := s.emailService.SendSaveFailureAlert(title, err.Error()); mailErr != nil {
					s.logger.Error("AskService", "Failed to send save failure alert", map[string]interface{}{"error": mailErr.Error()})
				}
			}()
		},
	})

	// The run must outlive the HTTP request under PolicyContinue, so it is
	// detached from the request context.
	if err := sess.Start(context.Background()); err != nil {
		return nil, err
	}

	go s.announceWhenSaved(sess, userId)

	return sess, nil
}

// announceWhenSaved waits for the run to close and, if a row was written,
// puts a saved-session message on the internal bus.
func (s *askService) announceWhenSaved(sess *relay.StreamSession, userId uuid.UUID) {
	<-sess.Done()

	id := sess.SessionId()
	if id == nil {
		return
	}

	failed, _ := sess.Outcome()
	payload := dto.PublishSessionSavedMessage{
		SessionId: *id,
		UserId:    userId,
		IsFailed:  failed,
	}
	msgJson, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("AskService", "Failed to marshal saved-session message", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := s.publisherService.Publish(context.Background(), msgJson); err != nil {
		fmt.Printf("[WARN] Failed to publish saved-session message: %v\n", err)
	}
}

// qaSessionStore adapts the repository layer to the relay's store
// interface. It owns id generation so the relay stays persistence-agnostic.
type qaSessionStore struct {
	uowFactory unitofwork.RepositoryFactory
	userId     uuid.UUID
}

func (st *qaSessionStore) InsertSession(ctx context.Context, rec *relay.QARecord) (uuid.UUID, error) {
	refs := make([]entity.QAReference, 0, len(rec.References))
	for _, r := range rec.References {
		refs = append(refs, entity.QAReference{
			TopicId:   r.TopicId,
			Topic:     r.Topic,
			Relevance: r.Relevance,
		})
	}

	now := time.Now().UnixMilli()
	sess := &entity.QASession{
		Id:                  uuid.New(),
		UserId:              st.userId,
		Title:               rec.Title,
		Question:            rec.Question,
		Answer:              rec.Answer,
		References:          refs,
		TopK:                rec.TopK,
		EnableQueryRewriter: rec.EnableQueryRewriter,
		IsFailed:            rec.IsFailed,
		FailReason:          rec.FailReason,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	uow := st.uowFactory.NewUnitOfWork(ctx)
	if err := uow.QASessionRepository().Create(ctx, sess); err != nil {
		return uuid.Nil, err
	}
	return sess.Id, nil
}
