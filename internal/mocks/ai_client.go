// Package mocks contains testify mocks for the engine's collaborator
// interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-engine/internal/ai"
)

// MockAIClient is a testify mock of ai.Client.
type MockAIClient struct {
	mock.Mock
}

func (m *MockAIClient) Complete(ctx context.Context, systemPrompt string, userInput string, params ai.Params) (string, ai.Usage, error) {
	args := m.Called(ctx, systemPrompt, userInput, params)
	return args.String(0), args.Get(1).(ai.Usage), args.Error(2)
}

func (m *MockAIClient) CompleteWithImages(ctx context.Context, images []string, prompt string, params ai.Params) (string, ai.Usage, error) {
	args := m.Called(ctx, images, prompt, params)
	return args.String(0), args.Get(1).(ai.Usage), args.Error(2)
}
