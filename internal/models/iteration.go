package models

import "time"

// SceneIteration is a write-only audit record appended after every executed
// operation. It feeds quality analytics and is never read back by the
// decision path (that would create a feedback loop).
type SceneIteration struct {
	ID                     string    `json:"id" db:"id"`
	ProjectID              string    `json:"projectId" db:"project_id"`
	SceneID                string    `json:"sceneId" db:"scene_id"`
	RequestText            string    `json:"requestText" db:"request_text"`
	Decision               string    `json:"decision" db:"decision"`
	BeforeCode             string    `json:"beforeCode" db:"before_code"`
	AfterCode              string    `json:"afterCode" db:"after_code"`
	ComplexityTier         string    `json:"complexityTier" db:"complexity_tier"`
	ModelUsed              string    `json:"modelUsed" db:"model_used"`
	LatencyMs              int64     `json:"latencyMs" db:"latency_ms"`
	WasImmediatelyReEdited bool      `json:"wasImmediatelyReEdited" db:"was_immediately_re_edited"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at"`
}
