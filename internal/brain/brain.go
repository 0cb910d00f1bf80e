// Package brain is the decision engine: one structured LLM call that maps a
// request plus assembled context to a single tool call, an ordered workflow,
// or a clarification question.
package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/contextbuilder"
	"storyboard-engine/internal/models"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_engine_decisions_total",
		Help: "Total decisions produced, by tool.",
	}, []string{"tool"})
	decisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyboard_engine_decision_duration_seconds",
		Help:    "Histogram of decision call durations.",
		Buckets: prometheus.DefBuckets,
	})
)

// Engine produces one ToolDecision per request.
type Engine struct {
	client  ai.Client
	retry   ai.RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine creates the decision engine.
func NewEngine(client ai.Client, retry ai.RetryPolicy, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		client:  client,
		retry:   retry,
		timeout: timeout,
		logger:  logger.Named("Brain"),
	}
}

// Decide runs the decision call. A provider failure after the retry budget
// surfaces as models.ErrTransientProvider; it never degrades into a silently
// guessed decision.
func (e *Engine) Decide(ctx context.Context, requestText string, packet *contextbuilder.Packet) (*models.ToolDecision, error) {
	systemPrompt := buildSystemPrompt(requestText, packet)

	startTime := time.Now()
	var raw string
	err := e.retry.Do(ctx, e.logger, "decision", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		var callErr error
		raw, _, callErr = e.client.Complete(callCtx, systemPrompt, requestText, ai.Params{
			Temperature: ai.Float64Ptr(0.2),
			MaxTokens:   ai.IntPtr(1024),
		})
		return callErr
	})
	decisionDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		return nil, fmt.Errorf("decision call failed: %w: %v", models.ErrTransientProvider, err)
	}

	var decision models.ToolDecision
	if _, err := ai.DecodeLenient(raw, &decision); err != nil {
		return nil, fmt.Errorf("decision response unparseable: %w: %v", models.ErrTransientProvider, err)
	}

	if err := e.validate(requestText, &decision, packet.Scenes); err != nil {
		return nil, err
	}

	decisionsTotal.With(prometheus.Labels{"tool": string(decision.Tool)}).Inc()
	e.logger.Info("Decision produced",
		zap.String("tool", string(decision.Tool)),
		zap.Int("workflowSteps", len(decision.Workflow)),
		zap.Duration("duration", time.Since(startTime)))
	return &decision, nil
}

// validate enforces the identifier rules: every emitted target id must exist
// in the snapshot. Positional or descriptive references the model emitted
// anyway are resolved to the real id; anything unresolvable is a stale
// reference, never a guess.
func (e *Engine) validate(requestText string, decision *models.ToolDecision, scenes []models.Scene) error {
	if !models.IsValidToolName(decision.Tool) {
		return fmt.Errorf("decision names unknown tool '%s': %w", decision.Tool, models.ErrTransientProvider)
	}

	if decision.Tool == models.ToolClarify {
		// Terminal; no target to validate.
		if decision.Clarification == "" {
			decision.Clarification = decision.UserFacingMessage
		}
		return nil
	}

	if decision.TargetSceneID != "" {
		resolved, err := e.resolveTarget(requestText, decision.TargetSceneID, scenes)
		if err != nil {
			return err
		}
		decision.TargetSceneID = resolved
	}

	for i := range decision.Workflow {
		step := &decision.Workflow[i]
		if !models.IsValidToolName(step.Tool) {
			return fmt.Errorf("workflow step %d names unknown tool '%s': %w", i+1, step.Tool, models.ErrTransientProvider)
		}
		if step.TargetSceneID == "" {
			continue
		}
		if n, ok := models.ParseStepPlaceholder(step.TargetSceneID); ok {
			if n > i {
				return fmt.Errorf("workflow step %d references step %d which has not run yet: %w", i+1, n, models.ErrStaleReference)
			}
			continue
		}
		resolved, err := e.resolveTarget(step.Request, step.TargetSceneID, scenes)
		if err != nil {
			return err
		}
		step.TargetSceneID = resolved
	}

	return nil
}

func (e *Engine) resolveTarget(requestText, targetSceneID string, scenes []models.Scene) (string, error) {
	if sceneExists(targetSceneID, scenes) {
		return targetSceneID, nil
	}
	if scene := resolveSceneReference(requestText, scenes); scene != nil {
		e.logger.Warn("Resolved non-id scene reference from request text",
			zap.String("emitted", targetSceneID),
			zap.String("resolved", scene.ID))
		return scene.ID, nil
	}
	if scene := resolveSceneReference(targetSceneID, scenes); scene != nil {
		e.logger.Warn("Resolved positional label emitted as scene id",
			zap.String("emitted", targetSceneID),
			zap.String("resolved", scene.ID))
		return scene.ID, nil
	}
	return "", fmt.Errorf("target scene '%s' not in storyboard: %w", targetSceneID, models.ErrStaleReference)
}
