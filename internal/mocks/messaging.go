package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-engine/internal/messaging"
)

// MockFactsPublisher is a testify mock of messaging.FactsPublisher.
type MockFactsPublisher struct {
	mock.Mock
}

func (m *MockFactsPublisher) Publish(ctx context.Context, payload messaging.FactsReadyPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
