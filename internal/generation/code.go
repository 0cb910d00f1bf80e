package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/models"
)

const codePrompt = `You implement one scene of a short video as a React component animated with Remotion (useCurrentFrame, interpolate, spring).
Implement the layout specification faithfully: every element, color, position and size it lists must appear in the component. The user's request is context for intent, the specification is the contract.
Export the component as the default export under the given name. Respond with the complete source file only, no commentary.`

// CodeGenerator turns a layout specification into component source.
type CodeGenerator struct {
	client  ai.Client
	retry   ai.RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// NewCodeGenerator creates a CodeGenerator.
func NewCodeGenerator(client ai.Client, retry ai.RetryPolicy, timeout time.Duration, logger *zap.Logger) *CodeGenerator {
	return &CodeGenerator{
		client:  client,
		retry:   retry,
		timeout: timeout,
		logger:  logger.Named("CodeGenerator"),
	}
}

// Generate produces the component source for a layout spec. The output is
// returned as produced: imperfect code is a normal success, repaired by a
// downstream collaborator. No placeholder is ever substituted, because that
// would silently discard the layout stage's work. Only an empty response is
// an error.
func (g *CodeGenerator) Generate(ctx context.Context, layoutSpec json.RawMessage, requestText, componentName string) (string, error) {
	systemPrompt := fmt.Sprintf("%s\n\nComponent name: %s\n\nLayout specification:\n%s",
		codePrompt, componentName, string(layoutSpec))

	var raw string
	err := g.retry.Do(ctx, g.logger, "code", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var callErr error
		raw, _, callErr = g.client.Complete(callCtx, systemPrompt, requestText, ai.Params{
			Temperature: ai.Float64Ptr(0.3),
			MaxTokens:   ai.IntPtr(4096),
		})
		return callErr
	})
	if err != nil {
		generationsTotal.With(prometheus.Labels{"stage": "code", "mode": "any", "status": "error"}).Inc()
		return "", fmt.Errorf("code generation failed: %w: %v", models.ErrTransientProvider, err)
	}

	code := StripCodeFences(raw)
	if strings.TrimSpace(code) == "" {
		generationsTotal.With(prometheus.Labels{"stage": "code", "mode": "any", "status": "empty"}).Inc()
		return "", fmt.Errorf("code generation returned empty source: %w", models.ErrTransientProvider)
	}

	generationsTotal.With(prometheus.Labels{"stage": "code", "mode": "any", "status": "success"}).Inc()
	g.logger.Debug("Scene code generated",
		zap.String("componentName", componentName),
		zap.Int("sourceBytes", len(code)))
	return code, nil
}

// StripCodeFences removes a surrounding markdown code fence, keeping the
// body untouched.
func StripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 {
		// Drop the language tag line.
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
