// Package vision turns uploaded reference images into structured ImageFacts.
// Extraction is precision-first: a fact is recorded only when the model (or a
// pattern scavenge of its broken output) actually stated it. Nothing is ever
// invented to fill a gap.
package vision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/models"
)

const extractionPrompt = `Analyze this image and report ONLY what you can actually see. Respond with a single JSON object:

{
  "colors": ["#RRGGBB", ...],
  "typography": "font family or style, if any text is visible",
  "mood": "one or two words",
  "layoutHints": { "structure": "...", "alignment": "..." },
  "elementInventory": [
    { "type": "heading|image|button|chart|...", "approximatePosition": "top-left|center|...", "approximateSize": "small|medium|large" }
  ]
}

Rules:
- Omit any field you cannot determine from the image. Do not guess.
- Colors must be the dominant palette as hex values, most prominent first.
- Respond with the JSON object only, no commentary.`

// Extractor runs the vision model against uploaded images and parses the
// response leniently.
type Extractor struct {
	client ai.Client
	retry  ai.RetryPolicy
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(client ai.Client, retry ai.RetryPolicy, logger *zap.Logger) *Extractor {
	return &Extractor{
		client: client,
		retry:  retry,
		logger: logger.Named("VisionExtractor"),
	}
}

// Extract analyzes one image reference and returns whatever facts were
// recoverable. A partial result is normal; models.ErrNoFacts is returned only
// when not a single field could be recovered.
func (e *Extractor) Extract(ctx context.Context, traceID, imageRef string, ttl time.Duration) (*models.ImageFacts, error) {
	var raw string
	err := e.retry.Do(ctx, e.logger, "vision_extract", func(ctx context.Context) error {
		var callErr error
		raw, _, callErr = e.client.CompleteWithImages(ctx, []string{imageRef}, extractionPrompt, ai.Params{
			Temperature: ai.Float64Ptr(0.1),
			MaxTokens:   ai.IntPtr(1024),
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("vision call failed for trace '%s': %w", traceID, err)
	}

	facts := e.parse(raw)
	facts.TraceID = traceID
	facts.CreatedAt = time.Now()
	facts.TTL = ttl

	if facts.IsEmpty() {
		facts.Strategy = models.StrategyNone
		return nil, fmt.Errorf("trace '%s': %w", traceID, models.ErrNoFacts)
	}

	e.logger.Info("Extracted image facts",
		zap.String("traceId", traceID),
		zap.String("strategy", string(facts.Strategy)),
		zap.Int("colors", len(facts.Colors)),
		zap.Int("elements", len(facts.ElementInventory)))
	return facts, nil
}

// parse decodes the model response, falling back to pattern scavenging when
// even brace repair cannot make the output valid JSON.
func (e *Extractor) parse(raw string) *models.ImageFacts {
	var facts models.ImageFacts
	strategy, err := ai.DecodeLenient(raw, &facts)
	if err == nil {
		facts.Strategy = models.ExtractionStrategy(strategy)
		return &facts
	}

	if !errors.Is(err, ai.ErrUnparseable) {
		e.logger.Warn("Unexpected decode error, scavenging response", zap.Error(err))
	}
	return scavenge(raw)
}

var (
	hexColorRe   = regexp.MustCompile(`#(?:[0-9a-fA-F]{6}|[0-9a-fA-F]{3})\b`)
	quotedFontRe = regexp.MustCompile(`"(?:typography|font|fontFamily)"\s*:\s*"([^"]+)"`)
)

// moodWords is the vocabulary the scavenger accepts as a mood. Kept small on
// purpose: a scavenged mood must be unambiguous.
var moodWords = []string{
	"calm", "energetic", "playful", "serious", "elegant", "minimal",
	"bold", "warm", "cold", "dark", "bright", "professional", "vibrant",
	"moody", "clean", "retro", "futuristic", "corporate",
}

// scavenge recovers individual facts from an unparseable response with
// pattern matching. Everything it finds was literally present in the model
// output, so the precision rule holds.
func scavenge(raw string) *models.ImageFacts {
	facts := &models.ImageFacts{Strategy: models.StrategyPattern}

	seen := make(map[string]bool)
	for _, match := range hexColorRe.FindAllString(raw, -1) {
		color := strings.ToUpper(match)
		if !seen[color] {
			seen[color] = true
			facts.Colors = append(facts.Colors, color)
		}
	}

	if m := quotedFontRe.FindStringSubmatch(raw); len(m) == 2 {
		facts.Typography = m[1]
	}

	lower := strings.ToLower(raw)
	for _, word := range moodWords {
		if containsWord(lower, word) {
			facts.Mood = word
			break
		}
	}

	return facts
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	for idx != -1 {
		beforeOK := idx == 0 || !isLetter(text[idx-1])
		after := idx + len(word)
		afterOK := after == len(text) || !isLetter(text[after])
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next == -1 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
