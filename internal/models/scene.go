package models

import "encoding/json"

// Scene is a single entry of a project's storyboard. Scenes are always
// addressed by ID, never by position: the order field is presentation
// metadata, not an identifier.
type Scene struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"projectId"`
	Order          int             `json:"order"`
	Name           string          `json:"name"`
	SourceCode     string          `json:"sourceCode"`
	DurationFrames int             `json:"durationFrames"`
	LayoutSpec     json.RawMessage `json:"layoutSpec,omitempty"`
}

// ProjectFlags carries the per-project flags the engine needs from the
// persistence collaborator.
type ProjectFlags struct {
	IsBootstrap bool `json:"isBootstrap"`
}

// UserPreference is one dynamically discovered key/value preference mined
// from user messages. Keys are free-form and extend at runtime.
type UserPreference struct {
	Key        string  `json:"key"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}
