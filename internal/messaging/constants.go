// Package messaging defines the facts-ready notification channel between the
// image analysis pipeline and the rest of the engine. Notifications are
// advisory: losing one never corrupts state, the fact cache remains the
// source of truth.
package messaging

// ExchangeFactsReady is the fanout exchange on which the analysis pipeline
// announces that image facts for a trace id are available (or failed).
const ExchangeFactsReady = "storyboard.facts.ready"

// Facts-ready notification statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
