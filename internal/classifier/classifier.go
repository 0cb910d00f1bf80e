// Package classifier routes edit requests to a surgical, creative or
// structural strategy. Classification is heuristic-first: the keyword rules
// decide the clear cases, and the model is consulted only when the rules
// conflict or match nothing.
package classifier

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/models"
)

var classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyboard_engine_edit_classifications_total",
	Help: "Total edit classifications, by tier and method.",
}, []string{"tier", "method"})

var surgicalCues = []string{
	"color", "colour", "text", "label", "title", "word", "font", "size",
	"duration", "timing", "speed", "faster", "slower", "opacity", "shade",
	"rename", "typo", "spelling",
}

var creativeCues = []string{
	"style", "feel", "mood", "vibe", "polish", "prettier", "nicer",
	"modern", "elegant", "playful", "dramatic", "animated", "animation",
	"smooth", "dynamic", "energetic",
}

var structuralCues = []string{
	"layout", "rearrange", "reorder", "restructure", "redesign", "rebuild",
	"composition", "move", "position", "split", "merge", "grid", "column",
	"row", "section", "swap", "completely", "from scratch",
}

const classifyPrompt = `Classify the edit request into exactly one tier:
- surgical: isolated low-risk property change (a color, a word, a timing value)
- creative: stylistic or aesthetic enhancement without structural change
- structural: layout, composition or ordering change

Respond with a single JSON object: {"tier":"surgical"|"creative"|"structural"}`

type tierResponse struct {
	Tier string `json:"tier"`
}

// Classifier assigns an EditTier to modification requests.
type Classifier struct {
	client  ai.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(client ai.Client, timeout time.Duration, logger *zap.Logger) *Classifier {
	return &Classifier{
		client:  client,
		timeout: timeout,
		logger:  logger.Named("EditClassifier"),
	}
}

// Classify returns the tier for one edit request. It never fails: when both
// the heuristic and the model are inconclusive it settles on creative, the
// middle tier.
func (c *Classifier) Classify(ctx context.Context, requestText string) models.EditTier {
	if tier, ok := classifyByRules(requestText); ok {
		classificationsTotal.With(prometheus.Labels{"tier": string(tier), "method": "heuristic"}).Inc()
		return tier
	}

	tier, err := c.classifyByModel(ctx, requestText)
	if err != nil {
		c.logger.Warn("Model classification failed, defaulting to creative", zap.Error(err))
		classificationsTotal.With(prometheus.Labels{"tier": string(models.TierCreative), "method": "default"}).Inc()
		return models.TierCreative
	}
	classificationsTotal.With(prometheus.Labels{"tier": string(tier), "method": "model"}).Inc()
	return tier
}

// classifyByRules matches the cue vocabularies. It is decisive only when
// exactly one tier's cues matched; structural cues outrank the others
// because a layout change subsumes any property tweaks mentioned alongside.
func classifyByRules(requestText string) (models.EditTier, bool) {
	lower := strings.ToLower(requestText)

	structural := countMatches(lower, structuralCues)
	surgical := countMatches(lower, surgicalCues)
	creative := countMatches(lower, creativeCues)

	if structural > 0 {
		return models.TierStructural, true
	}
	switch {
	case surgical > 0 && creative == 0:
		return models.TierSurgical, true
	case creative > 0 && surgical == 0:
		return models.TierCreative, true
	}
	return "", false
}

func (c *Classifier) classifyByModel(ctx context.Context, requestText string) (models.EditTier, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, _, err := c.client.Complete(callCtx, classifyPrompt, requestText, ai.Params{
		Temperature: ai.Float64Ptr(0.0),
		MaxTokens:   ai.IntPtr(32),
	})
	if err != nil {
		return "", err
	}

	var resp tierResponse
	if _, err := ai.DecodeLenient(raw, &resp); err != nil {
		return "", err
	}

	switch models.EditTier(resp.Tier) {
	case models.TierSurgical, models.TierCreative, models.TierStructural:
		return models.EditTier(resp.Tier), nil
	default:
		return "", ai.ErrUnparseable
	}
}

func countMatches(text string, cues []string) int {
	count := 0
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			count++
		}
	}
	return count
}
