package brain

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"storyboard-engine/internal/models"
)

var positionalRe = regexp.MustCompile(`(?i)\bscene\s+(\d+)\b`)

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

// resolveSceneReference maps a positional or descriptive scene reference in
// the request text to the matching storyboard entry. Returns nil when the
// text does not single out one scene.
func resolveSceneReference(requestText string, scenes []models.Scene) *models.Scene {
	if len(scenes) == 0 {
		return nil
	}

	ordered := append([]models.Scene(nil), scenes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	lower := strings.ToLower(requestText)

	// "scene 2" counts from one in user speech.
	if m := positionalRe.FindStringSubmatch(requestText); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= len(ordered) {
			return &ordered[n-1]
		}
	}

	for word, n := range ordinalWords {
		if strings.Contains(lower, word+" scene") || strings.Contains(lower, word+" one") {
			if n <= len(ordered) {
				return &ordered[n-1]
			}
		}
	}
	if strings.Contains(lower, "last scene") || strings.Contains(lower, "final scene") {
		return &ordered[len(ordered)-1]
	}

	// Name match, longest name first so "Intro Title" wins over "Intro".
	byNameLen := append([]models.Scene(nil), ordered...)
	sort.Slice(byNameLen, func(i, j int) bool { return len(byNameLen[i].Name) > len(byNameLen[j].Name) })
	for i := range byNameLen {
		name := strings.ToLower(strings.TrimSpace(byNameLen[i].Name))
		if name != "" && strings.Contains(lower, name) {
			return &byNameLen[i]
		}
	}

	return nil
}

// sceneExists reports whether the id is present in the snapshot.
func sceneExists(sceneID string, scenes []models.Scene) bool {
	for _, s := range scenes {
		if s.ID == sceneID {
			return true
		}
	}
	return false
}
