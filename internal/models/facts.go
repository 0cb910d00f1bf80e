package models

import (
	"encoding/json"
	"time"
)

// ExtractionStrategy records which parsing strategy produced an ImageFacts
// record. Downstream consumers can weigh pattern-scavenged facts lower than
// cleanly parsed ones.
type ExtractionStrategy string

const (
	StrategyJSON        ExtractionStrategy = "json"
	StrategyBraceRepair ExtractionStrategy = "brace_repair"
	StrategyPattern     ExtractionStrategy = "pattern"
	StrategyNone        ExtractionStrategy = "none"
)

// ElementFact describes one visual element recognized in an uploaded image.
type ElementFact struct {
	Type                string `json:"type"`
	ApproximatePosition string `json:"approximatePosition,omitempty"`
	ApproximateSize     string `json:"approximateSize,omitempty"`
}

// ImageFacts is the structured, possibly partial extraction of visual
// properties from one uploaded image. It is disposable working memory: it
// lives in the TTL cache for its TTL window and is never persisted.
type ImageFacts struct {
	TraceID          string             `json:"traceId"`
	Colors           []string           `json:"colors,omitempty"`
	Typography       string             `json:"typography,omitempty"`
	Mood             string             `json:"mood,omitempty"`
	LayoutHints      json.RawMessage    `json:"layoutHints,omitempty"`
	ElementInventory []ElementFact      `json:"elementInventory,omitempty"`
	Strategy         ExtractionStrategy `json:"strategy"`
	CreatedAt        time.Time          `json:"createdAt"`
	TTL              time.Duration      `json:"ttl"`
}

// IsEmpty reports whether no fields at all were recoverable from the image.
func (f *ImageFacts) IsEmpty() bool {
	return len(f.Colors) == 0 &&
		f.Typography == "" &&
		f.Mood == "" &&
		len(f.LayoutHints) == 0 &&
		len(f.ElementInventory) == 0
}
