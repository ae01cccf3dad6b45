package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"sharelink/internal/model"
)

type MockShareRepository struct {
	mock.Mock
}

func (m *MockShareRepository) Create(ctx context.Context, share *model.Share) (*model.Share, error) {
	args := m.Called(ctx, share)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Share), args.Error(1)
}

func (m *MockShareRepository) FindByToken(ctx context.Context, token string) (*model.Share, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Share), args.Error(1)
}

func (m *MockShareRepository) FindOlderThan(ctx context.Context, cutoff time.Time) ([]model.Share, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Share), args.Error(1)
}

func (m *MockShareRepository) MarkSent(ctx context.Context, token, sender, receiver string) error {
	args := m.Called(ctx, token, sender, receiver)
	return args.Error(0)
}

func (m *MockShareRepository) MarkForDeletion(ctx context.Context, token string, at time.Time) error {
	args := m.Called(ctx, token, at)
	return args.Error(0)
}

func (m *MockShareRepository) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}
