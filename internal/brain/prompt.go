package brain

import (
	"fmt"
	"strings"

	"storyboard-engine/internal/contextbuilder"
)

const decisionRules = `You decide which storyboard operation to run for the user's request. Respond with a single JSON object:

{
  "tool": "addScene" | "editScene" | "deleteScene" | "fixBrokenScene" | "analyzeImage" | "clarify",
  "targetSceneId": "id copied verbatim from the storyboard, when the tool targets an existing scene",
  "workflow": [ { "tool": "...", "targetSceneId": "...", "request": "sub-request text" }, ... ],
  "reasoning": "one sentence",
  "userFacingMessage": "short acknowledgement of what will be done",
  "clarification": "the question to ask, only when tool is clarify"
}

Rules:
- targetSceneId MUST be copied from an "id" field in the storyboard below. Never invent identifiers and never use positional labels like "scene 1" as an id.
- When the request implies several ordered actions, emit a workflow instead of a single tool. A later step that needs a scene created by step N writes its targetSceneId as {{step-N.sceneId}}.
- When the intent is ambiguous, set tool to "clarify" with a question. Do not guess.
- userFacingMessage must describe only what will actually be produced. Never mention elements, colors or durations that were not requested or derived from the supplied facts.
- Respond with the JSON object only.`

// buildSystemPrompt renders the decision prompt from the packet. Scene source
// code is elided except for the scene an edit-looking request appears to
// target, which bounds prompt size.
func buildSystemPrompt(requestText string, packet *contextbuilder.Packet) string {
	var sb strings.Builder
	sb.WriteString(packet.MemoryBank)
	sb.WriteString("\n\n")
	sb.WriteString(decisionRules)

	if len(packet.Preferences) > 0 {
		sb.WriteString("\n\nKnown user preferences:\n")
		for _, p := range packet.Preferences {
			fmt.Fprintf(&sb, "- %s: %v (confidence %.2f)\n", p.Key, p.Value, p.Confidence)
		}
	}

	if len(packet.Facts) > 0 {
		sb.WriteString("\nImage facts available for this project:\n")
		for _, f := range packet.Facts {
			fmt.Fprintf(&sb, "- trace %s: colors=%v typography=%q mood=%q elements=%d\n",
				f.TraceID, f.Colors, f.Typography, f.Mood, len(f.ElementInventory))
		}
	}

	sb.WriteString("\nCurrent storyboard")
	if len(packet.Scenes) == 0 {
		sb.WriteString(" (empty):\n")
	} else {
		sb.WriteString(":\n")
		editTarget := resolveSceneReference(requestText, packet.Scenes)
		for _, scene := range packet.Scenes {
			fmt.Fprintf(&sb, "- id=%s order=%d name=%q durationFrames=%d\n",
				scene.ID, scene.Order, scene.Name, scene.DurationFrames)
			if looksLikeEdit(requestText) && editTarget != nil && editTarget.ID == scene.ID {
				fmt.Fprintf(&sb, "  sourceCode:\n%s\n", scene.SourceCode)
			}
		}
	}

	return sb.String()
}

var editCues = []string{
	"edit", "change", "update", "modify", "adjust", "tweak", "fix",
	"make", "replace", "recolor", "resize", "faster", "slower", "remove",
}

// looksLikeEdit reports whether the request text reads like a modification of
// existing content. Used only to decide whether to include a scene's source
// in the prompt; the model still makes the actual tool choice.
func looksLikeEdit(requestText string) bool {
	lower := strings.ToLower(requestText)
	for _, cue := range editCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
