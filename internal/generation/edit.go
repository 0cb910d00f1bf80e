package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/models"
)

var editsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyboard_engine_edits_total",
	Help: "Total edit transforms, by tier and status.",
}, []string{"tier", "status"})

const surgicalEditPrompt = `You make one isolated change to the scene component below.
Change exactly what the request asks for (a property value, a text string, a timing constant) and nothing else. Preserve every other line byte for byte.
Respond with the complete modified source file only.`

const creativeEditPrompt = `You refine the style of the scene component below.
Apply the requested aesthetic change across the component where it fits (colors, easing, typography, spacing) without altering its structure: the same elements must remain, in the same arrangement.
Respond with the complete modified source file only.`

const repairPrompt = `The scene component below is broken and fails to render or compile.
Fix the defects while preserving the visual output as closely as possible: same elements, same colors, same animation intent. Do not redesign anything.
Respond with the complete repaired source file only.`

// Editor applies tier-routed modifications to existing scenes. Structural
// edits re-run the full two-stage pipeline; the lighter tiers are a single
// constrained transform.
type Editor struct {
	client  ai.Client
	layout  *LayoutGenerator
	code    *CodeGenerator
	retry   ai.RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// NewEditor creates an Editor.
func NewEditor(client ai.Client, layout *LayoutGenerator, code *CodeGenerator, retry ai.RetryPolicy, timeout time.Duration, logger *zap.Logger) *Editor {
	return &Editor{
		client:  client,
		layout:  layout,
		code:    code,
		retry:   retry,
		timeout: timeout,
		logger:  logger.Named("SceneEditor"),
	}
}

// EditResult is the outcome of one edit transform.
type EditResult struct {
	SourceCode string
	LayoutSpec []byte // non-nil only when the structural path re-derived it
}

// Apply runs the edit strategy for the tier. Like the code generator, it
// returns the transform output as produced; broken output is repaired
// downstream, never replaced with boilerplate here.
func (e *Editor) Apply(ctx context.Context, scene *models.Scene, requestText string, tier models.EditTier, facts []*models.ImageFacts) (*EditResult, error) {
	if tier == models.TierStructural {
		return e.applyStructural(ctx, scene, requestText, facts)
	}

	prompt := surgicalEditPrompt
	if tier == models.TierCreative {
		prompt = creativeEditPrompt
	}
	systemPrompt := fmt.Sprintf("%s\n\nScene component %q:\n%s", prompt, scene.Name, scene.SourceCode)

	code, err := e.transform(ctx, systemPrompt, requestText, string(tier))
	if err != nil {
		return nil, err
	}
	return &EditResult{SourceCode: code}, nil
}

// applyStructural re-derives the layout from the request with the current
// spec as the starting point, then regenerates the code.
func (e *Editor) applyStructural(ctx context.Context, scene *models.Scene, requestText string, facts []*models.ImageFacts) (*EditResult, error) {
	spec, _, err := e.layout.Generate(ctx, requestText, facts, scene.LayoutSpec)
	if err != nil {
		editsTotal.With(prometheus.Labels{"tier": string(models.TierStructural), "status": "error"}).Inc()
		return nil, err
	}

	code, err := e.code.Generate(ctx, spec, requestText, ComponentNameForScene(scene.Name))
	if err != nil {
		editsTotal.With(prometheus.Labels{"tier": string(models.TierStructural), "status": "error"}).Inc()
		return nil, err
	}

	editsTotal.With(prometheus.Labels{"tier": string(models.TierStructural), "status": "success"}).Inc()
	return &EditResult{SourceCode: code, LayoutSpec: spec}, nil
}

// Repair fixes a broken scene in place, preserving its visual intent.
func (e *Editor) Repair(ctx context.Context, scene *models.Scene, requestText string) (*EditResult, error) {
	systemPrompt := fmt.Sprintf("%s\n\nScene component %q:\n%s", repairPrompt, scene.Name, scene.SourceCode)
	if requestText == "" {
		requestText = "Fix the scene."
	}

	code, err := e.transform(ctx, systemPrompt, requestText, "repair")
	if err != nil {
		return nil, err
	}
	return &EditResult{SourceCode: code}, nil
}

func (e *Editor) transform(ctx context.Context, systemPrompt, requestText, label string) (string, error) {
	var raw string
	err := e.retry.Do(ctx, e.logger, "edit_"+label, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		var callErr error
		raw, _, callErr = e.client.Complete(callCtx, systemPrompt, requestText, ai.Params{
			Temperature: ai.Float64Ptr(0.2),
			MaxTokens:   ai.IntPtr(4096),
		})
		return callErr
	})
	if err != nil {
		editsTotal.With(prometheus.Labels{"tier": label, "status": "error"}).Inc()
		return "", fmt.Errorf("edit transform failed: %w: %v", models.ErrTransientProvider, err)
	}

	code := StripCodeFences(raw)
	if strings.TrimSpace(code) == "" {
		editsTotal.With(prometheus.Labels{"tier": label, "status": "empty"}).Inc()
		return "", fmt.Errorf("edit transform returned empty source: %w", models.ErrTransientProvider)
	}

	editsTotal.With(prometheus.Labels{"tier": label, "status": "success"}).Inc()
	return code, nil
}

// ComponentNameForScene derives a PascalCase component name from the scene
// name, falling back to "Scene".
func ComponentNameForScene(name string) string {
	var sb strings.Builder
	upperNext := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			if upperNext {
				sb.WriteRune(r - 32)
			} else {
				sb.WriteRune(r)
			}
			upperNext = false
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			upperNext = false
		default:
			upperNext = true
		}
	}
	if sb.Len() == 0 {
		return "Scene"
	}
	return sb.String() + "Scene"
}
