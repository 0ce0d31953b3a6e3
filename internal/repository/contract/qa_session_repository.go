package contract

import (
	"context"

	"knowledge-qa-be/internal/entity"
	"knowledge-qa-be/internal/repository/specification"

	"github.com/google/uuid"
)

type QASessionRepository interface {
	Create(ctx context.Context, session *entity.QASession) error
	Update(ctx context.Context, session *entity.QASession) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.QASession, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.QASession, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
