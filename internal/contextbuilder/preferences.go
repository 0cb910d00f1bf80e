package contextbuilder

import (
	"regexp"
	"strconv"
	"strings"

	"storyboard-engine/internal/models"
)

// Cue-based preference extraction. Keys are free-form and extend at runtime;
// the patterns below are the seed vocabulary, not a closed schema.

var durationRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:seconds?|secs?|s\b)`)

var namedColors = []string{
	"red", "orange", "yellow", "green", "teal", "cyan", "blue", "navy",
	"purple", "violet", "magenta", "pink", "brown", "black", "white", "gray", "grey",
}

var pacingCues = map[string]string{
	"fast":      "fast",
	"faster":    "fast",
	"quick":     "fast",
	"quicker":   "fast",
	"snappy":    "fast",
	"slow":      "slow",
	"slower":    "slow",
	"leisurely": "slow",
	"gentle":    "slow",
}

var styleCues = map[string]string{
	"minimal":      "minimal",
	"minimalist":   "minimal",
	"clean":        "minimal",
	"bold":         "bold",
	"dramatic":     "bold",
	"playful":      "playful",
	"fun":          "playful",
	"professional": "professional",
	"corporate":    "professional",
	"elegant":      "elegant",
	"retro":        "retro",
	"vintage":      "retro",
}

// minePreferences extracts cues from the request text and merges them into
// the project's preference set. A repeated cue raises confidence; a
// conflicting cue overwrites the value at base confidence.
func (b *Builder) minePreferences(projectID, requestText string) {
	mined := extractPreferences(requestText)
	if len(mined) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prefs := b.preferences[projectID]
	if prefs == nil {
		prefs = make(map[string]models.UserPreference)
		b.preferences[projectID] = prefs
	}

	for _, p := range mined {
		existing, ok := prefs[p.Key]
		if ok && existing.Value == p.Value {
			confidence := existing.Confidence + 0.15
			if confidence > 1.0 {
				confidence = 1.0
			}
			existing.Confidence = confidence
			prefs[p.Key] = existing
			continue
		}
		prefs[p.Key] = p
	}
}

// extractPreferences runs the cue patterns over one message.
func extractPreferences(text string) []models.UserPreference {
	var prefs []models.UserPreference
	lower := strings.ToLower(text)

	if m := durationRe.FindStringSubmatch(text); len(m) == 2 {
		if seconds, err := strconv.ParseFloat(m[1], 64); err == nil && seconds > 0 {
			prefs = append(prefs, models.UserPreference{
				Key:        "scene_duration_seconds",
				Value:      seconds,
				Confidence: 0.8,
			})
		}
	}

	for _, color := range namedColors {
		if containsToken(lower, color) {
			prefs = append(prefs, models.UserPreference{
				Key:        "color_preference",
				Value:      color,
				Confidence: 0.6,
			})
			break
		}
	}

	for cue, value := range pacingCues {
		if containsToken(lower, cue) {
			prefs = append(prefs, models.UserPreference{
				Key:        "animation_speed_preference",
				Value:      value,
				Confidence: 0.7,
			})
			break
		}
	}

	for cue, value := range styleCues {
		if containsToken(lower, cue) {
			prefs = append(prefs, models.UserPreference{
				Key:        "style_preference",
				Value:      value,
				Confidence: 0.6,
			})
			break
		}
	}

	return prefs
}

// containsToken reports whether word appears in text bounded by non-letters.
func containsToken(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos == -1 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isLetter(text[start-1])
		afterOK := end == len(text) || !isLetter(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
