// Package executor runs what the decision engine decided: it resolves
// workflow step references, dispatches each step to the matching operation
// and reports per-step outcomes. It never second-guesses the decision.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyboard-engine/internal/classifier"
	"storyboard-engine/internal/contextbuilder"
	"storyboard-engine/internal/generation"
	"storyboard-engine/internal/models"
	"storyboard-engine/internal/storage"
)

var stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyboard_engine_executed_steps_total",
	Help: "Total executed workflow steps, by tool and status.",
}, []string{"tool", "status"})

const defaultDurationFrames = 150 // 5 seconds at 30fps

// StepDetail carries per-step audit data alongside the user-facing result.
type StepDetail struct {
	Result     models.StepResult
	Tier       models.EditTier
	Mode       string
	BeforeCode string
	LatencyMs  int64
}

// Executor dispatches tool decisions against the storyboard store.
type Executor struct {
	store      storage.StoryboardStore
	layout     *generation.LayoutGenerator
	code       *generation.CodeGenerator
	editor     *generation.Editor
	classifier *classifier.Classifier
	logger     *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(store storage.StoryboardStore, layout *generation.LayoutGenerator, code *generation.CodeGenerator, editor *generation.Editor, cls *classifier.Classifier, logger *zap.Logger) *Executor {
	return &Executor{
		store:      store,
		layout:     layout,
		code:       code,
		editor:     editor,
		classifier: cls,
		logger:     logger.Named("Executor"),
	}
}

// Execute runs the decision's steps strictly in order. On a step failure the
// remaining steps are abandoned; mutations already applied stay applied and
// the result reports exactly which steps succeeded.
func (e *Executor) Execute(ctx context.Context, projectID, requestText string, decision *models.ToolDecision, packet *contextbuilder.Packet) (*models.ExecutionResult, []StepDetail) {
	steps := decision.Workflow
	if len(steps) == 0 {
		steps = []models.WorkflowStep{{
			Tool:          decision.Tool,
			TargetSceneID: decision.TargetSceneID,
			Request:       requestText,
		}}
	}

	details := make([]StepDetail, 0, len(steps))
	for i, step := range steps {
		targetID, err := e.resolveStepTarget(step.TargetSceneID, details)
		if err != nil {
			detail := failedStep(step.Tool, err)
			details = append(details, detail)
			stepsTotal.With(prometheus.Labels{"tool": string(step.Tool), "status": "failed"}).Inc()
			e.logger.Warn("Workflow step reference unresolvable, abandoning remaining steps",
				zap.Int("step", i+1), zap.Error(err))
			break
		}

		startTime := time.Now()
		detail := e.dispatch(ctx, projectID, step, targetID, packet)
		detail.LatencyMs = time.Since(startTime).Milliseconds()
		details = append(details, detail)

		status := "success"
		if !detail.Result.Success {
			status = "failed"
		}
		stepsTotal.With(prometheus.Labels{"tool": string(step.Tool), "status": status}).Inc()

		if !detail.Result.Success {
			e.logger.Warn("Workflow step failed, abandoning remaining steps",
				zap.Int("step", i+1),
				zap.String("tool", string(step.Tool)),
				zap.String("error", detail.Result.Error))
			break
		}
	}

	result := &models.ExecutionResult{
		Steps:             make([]models.StepResult, 0, len(details)),
		UserFacingMessage: composeMessage(details, len(steps)),
	}
	for _, d := range details {
		result.Steps = append(result.Steps, d.Result)
	}
	return result, details
}

// resolveStepTarget substitutes a {{step-N.sceneId}} placeholder with the
// scene id the referenced step actually produced.
func (e *Executor) resolveStepTarget(target string, done []StepDetail) (string, error) {
	n, ok := models.ParseStepPlaceholder(target)
	if !ok {
		return target, nil
	}
	if n > len(done) {
		return "", fmt.Errorf("step reference '%s' points past executed steps: %w", target, models.ErrStaleReference)
	}
	ref := done[n-1]
	if !ref.Result.Success || ref.Result.Scene == nil {
		return "", fmt.Errorf("step reference '%s' points at a step that produced no scene: %w", target, models.ErrStaleReference)
	}
	return ref.Result.Scene.ID, nil
}

func (e *Executor) dispatch(ctx context.Context, projectID string, step models.WorkflowStep, targetID string, packet *contextbuilder.Packet) StepDetail {
	switch step.Tool {
	case models.ToolAddScene:
		return e.addScene(ctx, projectID, step.Request, packet)
	case models.ToolEditScene:
		return e.editScene(ctx, projectID, step.Request, targetID, packet)
	case models.ToolDeleteScene:
		return e.deleteScene(ctx, projectID, targetID)
	case models.ToolFixBrokenScene:
		return e.fixBrokenScene(ctx, projectID, step.Request, targetID)
	case models.ToolAnalyzeImage:
		// The async pipeline was launched when the request arrived; the step
		// only acknowledges it.
		return StepDetail{Result: models.StepResult{Tool: step.Tool, Success: true}}
	default:
		return failedStep(step.Tool, fmt.Errorf("unknown tool '%s'", step.Tool))
	}
}

func (e *Executor) addScene(ctx context.Context, projectID, request string, packet *contextbuilder.Packet) StepDetail {
	var previousSpec json.RawMessage
	if n := len(packet.Scenes); n > 0 {
		previousSpec = packet.Scenes[n-1].LayoutSpec
	}

	spec, mode, err := e.layout.Generate(ctx, request, packet.Facts, previousSpec)
	if err != nil {
		return failedStep(models.ToolAddScene, err)
	}

	name := sceneNameFromRequest(request)
	code, err := e.code.Generate(ctx, spec, request, generation.ComponentNameForScene(name))
	if err != nil {
		return failedStep(models.ToolAddScene, err)
	}

	scene, err := e.store.CreateScene(ctx, projectID, models.Scene{
		Name:           name,
		SourceCode:     code,
		DurationFrames: durationFromSpec(spec, packet.Preferences),
		LayoutSpec:     spec,
	})
	if err != nil {
		return failedStep(models.ToolAddScene, err)
	}

	return StepDetail{
		Result: models.StepResult{Tool: models.ToolAddScene, Success: true, Scene: scene},
		Mode:   mode,
	}
}

func (e *Executor) editScene(ctx context.Context, projectID, request, targetID string, packet *contextbuilder.Packet) StepDetail {
	scene, err := e.findScene(ctx, projectID, targetID)
	if err != nil {
		return failedStep(models.ToolEditScene, err)
	}

	tier := e.classifier.Classify(ctx, request)
	edit, err := e.editor.Apply(ctx, scene, request, tier, packet.Facts)
	if err != nil {
		return StepDetail{
			Result: models.StepResult{Tool: models.ToolEditScene, Success: false, Error: err.Error()},
			Tier:   tier, BeforeCode: scene.SourceCode,
		}
	}

	patch := storage.ScenePatch{SourceCode: &edit.SourceCode}
	if edit.LayoutSpec != nil {
		patch.LayoutSpec = edit.LayoutSpec
	}
	updated, err := e.store.UpdateScene(ctx, scene.ID, patch)
	if err != nil {
		return StepDetail{
			Result: models.StepResult{Tool: models.ToolEditScene, Success: false, Error: err.Error()},
			Tier:   tier, BeforeCode: scene.SourceCode,
		}
	}

	return StepDetail{
		Result:     models.StepResult{Tool: models.ToolEditScene, Success: true, Scene: updated},
		Tier:       tier,
		BeforeCode: scene.SourceCode,
	}
}

func (e *Executor) deleteScene(ctx context.Context, projectID, targetID string) StepDetail {
	scene, err := e.findScene(ctx, projectID, targetID)
	if err != nil {
		return failedStep(models.ToolDeleteScene, err)
	}
	if err := e.store.DeleteScene(ctx, targetID); err != nil {
		return failedStep(models.ToolDeleteScene, err)
	}
	return StepDetail{
		Result:     models.StepResult{Tool: models.ToolDeleteScene, Success: true, Scene: scene},
		BeforeCode: scene.SourceCode,
	}
}

func (e *Executor) fixBrokenScene(ctx context.Context, projectID, request, targetID string) StepDetail {
	scene, err := e.findScene(ctx, projectID, targetID)
	if err != nil {
		return failedStep(models.ToolFixBrokenScene, err)
	}

	repaired, err := e.editor.Repair(ctx, scene, request)
	if err != nil {
		return StepDetail{
			Result:     models.StepResult{Tool: models.ToolFixBrokenScene, Success: false, Error: err.Error()},
			BeforeCode: scene.SourceCode,
		}
	}

	updated, err := e.store.UpdateScene(ctx, scene.ID, storage.ScenePatch{SourceCode: &repaired.SourceCode})
	if err != nil {
		return StepDetail{
			Result:     models.StepResult{Tool: models.ToolFixBrokenScene, Success: false, Error: err.Error()},
			BeforeCode: scene.SourceCode,
		}
	}

	return StepDetail{
		Result:     models.StepResult{Tool: models.ToolFixBrokenScene, Success: true, Scene: updated},
		BeforeCode: scene.SourceCode,
	}
}

// findScene loads the current storyboard and locates the target. The fresh
// read matters for workflow steps acting on scenes created moments ago.
func (e *Executor) findScene(ctx context.Context, projectID, sceneID string) (*models.Scene, error) {
	scenes, err := e.store.GetStoryboard(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load storyboard: %w", err)
	}
	for i := range scenes {
		if scenes[i].ID == sceneID {
			return &scenes[i], nil
		}
	}
	return nil, fmt.Errorf("scene '%s' not found: %w", sceneID, models.ErrStaleReference)
}

func failedStep(tool models.ToolName, err error) StepDetail {
	return StepDetail{Result: models.StepResult{Tool: tool, Success: false, Error: err.Error()}}
}
