package unitofwork

import (
	"context"

	"knowledge-qa-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	UserRepository() contract.UserRepository
	QASessionRepository() contract.QASessionRepository
}
