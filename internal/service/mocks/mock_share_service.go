package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"sharelink/internal/mailer"
	"sharelink/internal/service"
)

type MockShareService struct {
	mock.Mock
}

func (m *MockShareService) Upload(ctx context.Context, r io.Reader, filename, contentType string, size int64) (*service.UploadResult, error) {
	args := m.Called(ctx, r, filename, contentType, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UploadResult), args.Error(1)
}

func (m *MockShareService) Send(ctx context.Context, token, sender, receiver string) (*mailer.Receipt, error) {
	args := m.Called(ctx, token, sender, receiver)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mailer.Receipt), args.Error(1)
}

func (m *MockShareService) Resolve(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockShareService) Get(ctx context.Context, token string) (*service.ShareView, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ShareView), args.Error(1)
}

func (m *MockShareService) Sweep(ctx context.Context) (*service.SweepReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SweepReport), args.Error(1)
}
