package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable is returned when a response cannot be decoded even after
// repair.
var ErrUnparseable = errors.New("response is not parseable JSON")

// ExtractJSON strips markdown code fences and any prose surrounding the
// first top-level JSON object or array in a model response.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "\n")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	start := objStart
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
	}
	if start > 0 {
		s = s[start:]
	}
	return s
}

// RepairJSON checks and fixes potentially malformed JSON, in particular the
// unclosed braces/brackets a truncated model response leaves behind. Braces
// inside string literals are ignored, and missing closers are appended in
// reverse nesting order.
func RepairJSON(jsonStr string) string {
	if jsonStr == "" {
		return jsonStr
	}

	var stack []rune
	inString := false
	escaped := false

	for _, char := range jsonStr {
		if char == '"' && !escaped {
			inString = !inString
		}

		if !inString {
			switch char {
			case '{', '[':
				stack = append(stack, char)
			case '}', ']':
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}

		if char == '\\' && !escaped {
			escaped = true
		} else {
			escaped = false
		}
	}

	fixedJSON := jsonStr

	// A response cut off mid-string leaves an unterminated literal; close it
	// before appending brackets.
	if inString {
		fixedJSON += `"`
	}

	// Strip a dangling comma or colon left right at the truncation point.
	trimmed := strings.TrimRight(fixedJSON, " \t\n\r")
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ":") {
		fixedJSON = strings.TrimRight(trimmed, ",:")
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			fixedJSON += "}"
		} else {
			fixedJSON += "]"
		}
	}

	return fixedJSON
}

// DecodeLenient decodes a model response into v, first as-is and then after
// brace repair. It returns which strategy succeeded so callers can annotate
// the result.
func DecodeLenient(raw string, v any) (string, error) {
	cleaned := ExtractJSON(raw)

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return "json", nil
	}

	repaired := RepairJSON(cleaned)
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return "brace_repair", nil
}
