package models

import (
	"regexp"
	"strconv"
)

// ToolName identifies one storyboard operation the decision engine can pick.
type ToolName string

const (
	ToolAddScene       ToolName = "addScene"
	ToolEditScene      ToolName = "editScene"
	ToolDeleteScene    ToolName = "deleteScene"
	ToolFixBrokenScene ToolName = "fixBrokenScene"
	ToolAnalyzeImage   ToolName = "analyzeImage"
	// ToolClarify is a terminal non-mutation: the engine asks the user a
	// question instead of changing the storyboard.
	ToolClarify ToolName = "clarify"
)

// IsValidToolName reports whether the string is a known tool.
func IsValidToolName(t ToolName) bool {
	switch t {
	case ToolAddScene, ToolEditScene, ToolDeleteScene, ToolFixBrokenScene, ToolAnalyzeImage, ToolClarify:
		return true
	default:
		return false
	}
}

// WorkflowStep is one ordered sub-decision inside a multi-step workflow.
// TargetSceneID may hold a placeholder reference of the form
// "{{step-N.sceneId}}" pointing at the scene produced by an earlier step;
// the executor resolves it before dispatch.
type WorkflowStep struct {
	Tool          ToolName `json:"tool"`
	TargetSceneID string   `json:"targetSceneId,omitempty"`
	Request       string   `json:"request"`
}

var stepPlaceholderRe = regexp.MustCompile(`^\{\{step-(\d+)\.sceneId\}\}$`)

// ParseStepPlaceholder recognizes a "{{step-N.sceneId}}" reference and
// returns the one-based step number it points at.
func ParseStepPlaceholder(s string) (int, bool) {
	m := stepPlaceholderRe.FindStringSubmatch(s)
	if len(m) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// ToolDecision is the decision engine's single output for one request. It is
// transient: produced once, executed once, never stored as mutable state.
type ToolDecision struct {
	Tool              ToolName       `json:"tool"`
	TargetSceneID     string         `json:"targetSceneId,omitempty"`
	Workflow          []WorkflowStep `json:"workflow,omitempty"`
	Reasoning         string         `json:"reasoning,omitempty"`
	UserFacingMessage string         `json:"userFacingMessage"`
	Clarification     string         `json:"clarification,omitempty"`
}

// EditTier classifies how invasive an edit request is. The tier selects the
// prompt strategy: surgical edits get the most constrained prompt, structural
// edits may re-run the whole generation pipeline.
type EditTier string

const (
	TierSurgical   EditTier = "surgical"
	TierCreative   EditTier = "creative"
	TierStructural EditTier = "structural"
)

// StepResult is the outcome of executing one decision step.
type StepResult struct {
	Tool    ToolName `json:"tool"`
	Success bool     `json:"success"`
	Scene   *Scene   `json:"scene,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ExecutionResult is the envelope returned to the caller for one request.
type ExecutionResult struct {
	Steps             []StepResult `json:"steps"`
	UserFacingMessage string       `json:"userFacingMessage"`
}
