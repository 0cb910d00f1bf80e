package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"storyboard-engine/internal/models"
)

// composeMessage builds the user-facing acknowledgement from what actually
// happened. It only mentions scenes, names and durations taken from the
// executed step results, so it can never describe content that was not
// produced.
func composeMessage(details []StepDetail, plannedSteps int) string {
	if len(details) == 0 {
		return "Nothing was changed."
	}

	var parts []string
	failed := 0
	for _, d := range details {
		if !d.Result.Success {
			failed++
			continue
		}
		parts = append(parts, describeStep(d))
	}

	var sb strings.Builder
	if len(parts) > 0 {
		sb.WriteString(strings.Join(parts, " "))
	}

	if failed > 0 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		remaining := plannedSteps - len(details)
		if remaining > 0 {
			fmt.Fprintf(&sb, "A later step failed, so %d remaining step(s) were skipped; the changes above are kept.", remaining)
		} else if len(parts) > 0 {
			sb.WriteString("One step failed; the changes above are kept.")
		} else {
			sb.WriteString("That didn't work, so nothing was changed.")
		}
	}

	return sb.String()
}

func describeStep(d StepDetail) string {
	scene := d.Result.Scene
	switch d.Result.Tool {
	case models.ToolAddScene:
		if scene == nil {
			return "Added a scene."
		}
		desc := fmt.Sprintf("Added scene %q (%.1fs", scene.Name, float64(scene.DurationFrames)/30.0)
		if n := elementCount(scene.LayoutSpec); n > 0 {
			desc += fmt.Sprintf(", %d elements", n)
		}
		return desc + ")."
	case models.ToolEditScene:
		if scene == nil {
			return "Updated a scene."
		}
		if d.Tier != "" {
			return fmt.Sprintf("Updated scene %q (%s edit).", scene.Name, d.Tier)
		}
		return fmt.Sprintf("Updated scene %q.", scene.Name)
	case models.ToolDeleteScene:
		if scene == nil {
			return "Deleted a scene."
		}
		return fmt.Sprintf("Deleted scene %q.", scene.Name)
	case models.ToolFixBrokenScene:
		if scene == nil {
			return "Repaired a scene."
		}
		return fmt.Sprintf("Repaired scene %q.", scene.Name)
	case models.ToolAnalyzeImage:
		return "Analyzing your image; its colors and layout will inform upcoming scenes."
	default:
		return "Done."
	}
}

// elementCount reads the elements list length out of a schema-free layout
// spec, if one is present.
func elementCount(spec json.RawMessage) int {
	if len(spec) == 0 {
		return 0
	}
	var parsed struct {
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(spec, &parsed); err != nil {
		return 0
	}
	return len(parsed.Elements)
}

// sceneNameFromRequest derives a short scene name from the request text.
var nameStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "for": true,
	"with": true, "and": true, "please": true, "create": true, "add": true,
	"make": true, "new": true, "scene": true, "me": true, "us": true,
	"that": true, "this": true, "about": true, "showing": true, "shows": true,
}

func sceneNameFromRequest(request string) string {
	words := strings.Fields(request)
	var kept []string
	for _, w := range words {
		cleaned := strings.Trim(strings.ToLower(w), ".,!?:;\"'")
		if cleaned == "" || nameStopWords[cleaned] {
			continue
		}
		kept = append(kept, strings.ToUpper(cleaned[:1])+cleaned[1:])
		if len(kept) == 3 {
			break
		}
	}
	if len(kept) == 0 {
		return "New Scene"
	}
	return strings.Join(kept, " ")
}
