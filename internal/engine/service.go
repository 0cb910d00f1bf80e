// Package engine exposes the single entry point of the orchestration core:
// one request in, one execution result out. It wires the async image
// pipeline, context assembly, the decision engine, execution and the audit
// sink into the request state machine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyboard-engine/internal/brain"
	"storyboard-engine/internal/contextbuilder"
	"storyboard-engine/internal/executor"
	"storyboard-engine/internal/imagery"
	"storyboard-engine/internal/models"
	"storyboard-engine/internal/storage"
)

const transientFailureMessage = "I couldn't process that request. Please try again."

// reEditWindow bounds how soon a follow-up edit of the same scene counts as
// an immediate re-edit in the audit record.
const reEditWindow = 2 * time.Minute

// Service is the orchestration engine's public surface.
type Service struct {
	pipeline   *imagery.Pipeline
	builder    *contextbuilder.Builder
	brain      *brain.Engine
	executor   *executor.Executor
	iterations storage.IterationRepository
	modelUsed  string
	logger     *zap.Logger

	mu        sync.Mutex
	lastEdits map[string]time.Time // scene id -> last mutation time
}

// NewService creates the Service.
func NewService(pipeline *imagery.Pipeline, builder *contextbuilder.Builder, decisionEngine *brain.Engine, exec *executor.Executor, iterations storage.IterationRepository, modelUsed string, logger *zap.Logger) *Service {
	return &Service{
		pipeline:   pipeline,
		builder:    builder,
		brain:      decisionEngine,
		executor:   exec,
		iterations: iterations,
		modelUsed:  modelUsed,
		logger:     logger.Named("Engine"),
		lastEdits:  make(map[string]time.Time),
	}
}

// HandleRequest runs one request through the state machine: images are
// dispatched to the async pipeline first, the decision is made on whatever
// context is already available, and the decision is executed. Image facts
// arriving later only influence future requests.
func (s *Service) HandleRequest(ctx context.Context, projectID, requestText string, imageRefs []string) (*models.ExecutionResult, error) {
	startTime := time.Now()
	recordRequestStarted()

	var traceIDs []string
	if len(imageRefs) > 0 {
		traceIDs = s.pipeline.Launch(projectID, imageRefs)
	}

	packet, err := s.builder.Build(ctx, projectID, requestText, traceIDs)
	if err != nil {
		recordRequestFinished("context_error", time.Since(startTime))
		return nil, err
	}

	decision, err := s.brain.Decide(ctx, requestText, packet)
	if err != nil {
		if errors.Is(err, models.ErrTransientProvider) {
			s.logger.Warn("Decision failed transiently, returning terminal result",
				zap.String("projectId", projectID), zap.Error(err))
			recordRequestFinished("transient", time.Since(startTime))
			return &models.ExecutionResult{UserFacingMessage: transientFailureMessage}, nil
		}
		if errors.Is(err, models.ErrStaleReference) {
			recordRequestFinished("stale_reference", time.Since(startTime))
			return nil, err
		}
		recordRequestFinished("decision_error", time.Since(startTime))
		return nil, err
	}

	if decision.Tool == models.ToolClarify {
		recordRequestFinished("clarify", time.Since(startTime))
		return &models.ExecutionResult{UserFacingMessage: decision.Clarification}, nil
	}

	result, details := s.executor.Execute(ctx, projectID, requestText, decision, packet)
	s.audit(ctx, projectID, requestText, decision, details)

	status := "success"
	for _, step := range result.Steps {
		if !step.Success {
			status = "partial_failure"
			break
		}
	}
	recordRequestFinished(status, time.Since(startTime))
	return result, nil
}

// audit appends one iteration record per executed step. Audit failures are
// logged and swallowed; analytics never block or fail a user request.
func (s *Service) audit(ctx context.Context, projectID, requestText string, decision *models.ToolDecision, details []executor.StepDetail) {
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		decisionJSON = []byte("{}")
	}

	now := time.Now()
	for _, d := range details {
		sceneID := ""
		afterCode := ""
		if d.Result.Scene != nil {
			sceneID = d.Result.Scene.ID
			afterCode = d.Result.Scene.SourceCode
		}

		iteration := &models.SceneIteration{
			ProjectID:              projectID,
			SceneID:                sceneID,
			RequestText:            requestText,
			Decision:               string(decisionJSON),
			BeforeCode:             d.BeforeCode,
			AfterCode:              afterCode,
			ComplexityTier:         string(d.Tier),
			ModelUsed:              s.modelUsed,
			LatencyMs:              d.LatencyMs,
			WasImmediatelyReEdited: s.markEdit(sceneID, d.Result.Tool, now),
			CreatedAt:              now,
		}
		if err := s.iterations.Save(ctx, iteration); err != nil {
			s.logger.Warn("Failed to save scene iteration", zap.Error(err))
		}
	}
}

// markEdit updates the per-scene edit clock and reports whether this edit
// follows another mutation of the same scene closely enough to count as an
// immediate re-edit.
func (s *Service) markEdit(sceneID string, tool models.ToolName, now time.Time) bool {
	if sceneID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.lastEdits[sceneID]
	s.lastEdits[sceneID] = now

	return seen && tool == models.ToolEditScene && now.Sub(last) <= reEditWindow
}
