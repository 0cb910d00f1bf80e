// Package generation holds the two-stage content pipeline: layout synthesis
// producing a schema-free JSON specification, then code synthesis turning the
// specification into renderable component source.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/models"
)

var generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyboard_engine_generations_total",
	Help: "Total generation stage runs, by stage, mode and status.",
}, []string{"stage", "mode", "status"})

const textFirstLayoutPrompt = `You design the layout specification for one scene of a short video.
Produce a JSON object describing the scene: include an "elements" list (each element with a type, content where relevant, position, size, color) plus any top-level fields the scene needs (background, palette, typography, animation notes, durationFrames). Invent whatever structure serves the request best; there is no fixed schema.
Respond with the JSON object only.`

const visionFirstLayoutPrompt = `You design the layout specification for one scene of a short video from analyzed image facts.
The image facts below are the blueprint. Reproduce them exactly: every listed color, the typography, the mood and every inventoried element with its position and size must appear in the specification unchanged.
The user's text supplies only deltas layered on top of that reproduction. Apply each requested change to the specific element it names and nothing else. Never drop or replace facts the text does not mention.
Produce a JSON object with an "elements" list plus whatever top-level fields the scene needs.
Respond with the JSON object only.`

// Mode labels for metrics and iteration records.
const (
	ModeTextFirst   = "text_first"
	ModeVisionFirst = "vision_first"
)

// LayoutGenerator synthesizes scene specifications.
type LayoutGenerator struct {
	client  ai.Client
	retry   ai.RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// NewLayoutGenerator creates a LayoutGenerator.
func NewLayoutGenerator(client ai.Client, retry ai.RetryPolicy, timeout time.Duration, logger *zap.Logger) *LayoutGenerator {
	return &LayoutGenerator{
		client:  client,
		retry:   retry,
		timeout: timeout,
		logger:  logger.Named("LayoutGenerator"),
	}
}

// Generate produces a layout specification. Vision-first mode is selected
// whenever image facts are present; the previous scene's spec, when given,
// serves as a style template in text-first mode.
func (g *LayoutGenerator) Generate(ctx context.Context, requestText string, facts []*models.ImageFacts, previousSpec json.RawMessage) (json.RawMessage, string, error) {
	mode := ModeTextFirst
	if len(facts) > 0 {
		mode = ModeVisionFirst
	}

	systemPrompt := g.buildPrompt(mode, facts, previousSpec)

	var raw string
	err := g.retry.Do(ctx, g.logger, "layout", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var callErr error
		raw, _, callErr = g.client.Complete(callCtx, systemPrompt, requestText, ai.Params{
			Temperature: ai.Float64Ptr(0.4),
			MaxTokens:   ai.IntPtr(2048),
		})
		return callErr
	})
	if err != nil {
		generationsTotal.With(prometheus.Labels{"stage": "layout", "mode": mode, "status": "error"}).Inc()
		return nil, mode, fmt.Errorf("layout generation failed: %w: %v", models.ErrTransientProvider, err)
	}

	var spec any
	if _, err := ai.DecodeLenient(raw, &spec); err != nil {
		generationsTotal.With(prometheus.Labels{"stage": "layout", "mode": mode, "status": "unparseable"}).Inc()
		return nil, mode, fmt.Errorf("layout response unparseable: %w: %v", models.ErrTransientProvider, err)
	}

	normalized, err := json.Marshal(spec)
	if err != nil {
		return nil, mode, fmt.Errorf("failed to normalize layout spec: %w", err)
	}

	generationsTotal.With(prometheus.Labels{"stage": "layout", "mode": mode, "status": "success"}).Inc()
	g.logger.Debug("Layout spec generated", zap.String("mode", mode), zap.Int("specBytes", len(normalized)))
	return normalized, mode, nil
}

func (g *LayoutGenerator) buildPrompt(mode string, facts []*models.ImageFacts, previousSpec json.RawMessage) string {
	var sb strings.Builder
	if mode == ModeVisionFirst {
		sb.WriteString(visionFirstLayoutPrompt)
		sb.WriteString("\n\nImage facts:\n")
		for _, f := range facts {
			body, err := json.Marshal(f)
			if err != nil {
				continue
			}
			sb.Write(body)
			sb.WriteString("\n")
		}
		return sb.String()
	}

	sb.WriteString(textFirstLayoutPrompt)
	if len(previousSpec) > 0 {
		sb.WriteString("\n\nStyle template from the previous scene (match its general style, not its content):\n")
		sb.Write(previousSpec)
	}
	return sb.String()
}
