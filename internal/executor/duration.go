package executor

import (
	"encoding/json"

	"storyboard-engine/internal/models"
)

const framesPerSecond = 30

// durationFromSpec picks the new scene's duration: the layout spec's own
// durationFrames wins, then a mined duration preference, then the default.
func durationFromSpec(spec json.RawMessage, preferences []models.UserPreference) int {
	var parsed struct {
		DurationFrames int `json:"durationFrames"`
	}
	if err := json.Unmarshal(spec, &parsed); err == nil && parsed.DurationFrames > 0 {
		return parsed.DurationFrames
	}

	for _, p := range preferences {
		if p.Key != "scene_duration_seconds" {
			continue
		}
		if seconds, ok := p.Value.(float64); ok && seconds > 0 {
			return int(seconds * framesPerSecond)
		}
	}

	return defaultDurationFrames
}
