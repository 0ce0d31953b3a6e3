package service

import (
	"context"

	"knowledge-qa-be/internal/dto"
	"knowledge-qa-be/internal/entity"
	"knowledge-qa-be/internal/pkg/serverutils"
	"knowledge-qa-be/internal/repository/specification"
	"knowledge-qa-be/internal/repository/unitofwork"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ListFilter narrows the session list. Zero value means no filtering.
type ListFilter struct {
	OnlyPinned bool
	OnlyFailed bool
}

type ISessionService interface {
	List(ctx context.Context, userId uuid.UUID, filter ListFilter, limit, offset int) (*dto.SessionListResponse, error)
	Show(ctx context.Context, userId, id uuid.UUID) (*dto.SessionDetailResponse, error)
	SetPinned(ctx context.Context, userId, id uuid.UUID, pinned bool) error
	Delete(ctx context.Context, userId, id uuid.UUID) error
}

type sessionService struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewSessionService(uowFactory unitofwork.RepositoryFactory) ISessionService {
	return &sessionService{
		uowFactory: uowFactory,
	}
}

func (s *sessionService) List(ctx context.Context, userId uuid.UUID, filter ListFilter, limit, offset int) (*dto.SessionListResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	repo := uow.QASessionRepository()

	scope := []specification.Specification{specification.UserOwnedBy{UserID: userId}}
	if filter.OnlyPinned {
		scope = append(scope, specification.OnlyPinned{})
	}
	if filter.OnlyFailed {
		scope = append(scope, specification.OnlyFailed{})
	}

	total, err := repo.Count(ctx, scope...)
	if err != nil {
		return nil, err
	}

	sessions, err := repo.FindAll(ctx, append(scope,
		specification.PinnedFirstNewest{},
		specification.Pagination{Limit: limit, Offset: offset},
	)...)
	if err != nil {
		return nil, err
	}

	items := make([]dto.SessionListItemResponse, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, dto.SessionListItemResponse{
			Id:        sess.Id,
			Title:     sess.Title,
			IsFailed:  sess.IsFailed,
			Pinned:    sess.Pinned,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}

	return &dto.SessionListResponse{Sessions: items, Total: total}, nil
}

func (s *sessionService) Show(ctx context.Context, userId, id uuid.UUID) (*dto.SessionDetailResponse, error) {
	sess, err := s.findOwned(ctx, userId, id)
	if err != nil {
		return nil, err
	}

	refs := make([]dto.QAReferenceDTO, 0, len(sess.References))
	for _, r := range sess.References {
		refs = append(refs, dto.QAReferenceDTO{
			TopicId:   r.TopicId,
			Topic:     r.Topic,
			Relevance: r.Relevance,
		})
	}

	return &dto.SessionDetailResponse{
		Id:                  sess.Id,
		Title:               sess.Title,
		Question:            sess.Question,
		Answer:              sess.Answer,
		References:          refs,
		TopK:                sess.TopK,
		EnableQueryRewriter: sess.EnableQueryRewriter,
		IsFailed:            sess.IsFailed,
		FailReason:          sess.FailReason,
		Pinned:              sess.Pinned,
		CreatedAt:           sess.CreatedAt,
		UpdatedAt:           sess.UpdatedAt,
	}, nil
}

func (s *sessionService) SetPinned(ctx context.Context, userId, id uuid.UUID, pinned bool) error {
	sess, err := s.findOwned(ctx, userId, id)
	if err != nil {
		return err
	}

	sess.Pinned = pinned

	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.QASessionRepository().Update(ctx, sess)
}

func (s *sessionService) Delete(ctx context.Context, userId, id uuid.UUID) error {
	sess, err := s.findOwned(ctx, userId, id)
	if err != nil {
		return err
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.QASessionRepository().Delete(ctx, sess.Id)
}

// findOwned loads a session and enforces ownership in one query.
func (s *sessionService) findOwned(ctx context.Context, userId, id uuid.UUID) (*entity.QASession, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	sess, err := uow.QASessionRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, serverutils.NewAppError(fiber.StatusNotFound, "session not found")
	}
	return sess, nil
}
