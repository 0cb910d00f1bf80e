// Package storage defines the persistence collaborator interfaces the engine
// mutates storyboards through, plus the iteration audit sink.
package storage

import (
	"context"
	"encoding/json"

	"storyboard-engine/internal/models"
)

// ScenePatch is a partial scene update. Nil fields are left untouched.
type ScenePatch struct {
	Name           *string
	SourceCode     *string
	DurationFrames *int
	LayoutSpec     json.RawMessage
}

// StoryboardStore is the engine's view of scene persistence. Scenes are
// addressed by id only.
type StoryboardStore interface {
	GetStoryboard(ctx context.Context, projectID string) ([]models.Scene, error)
	CreateScene(ctx context.Context, projectID string, scene models.Scene) (*models.Scene, error)
	UpdateScene(ctx context.Context, sceneID string, patch ScenePatch) (*models.Scene, error)
	DeleteScene(ctx context.Context, sceneID string) error
	GetProjectFlags(ctx context.Context, projectID string) (models.ProjectFlags, error)
}

// IterationRepository is the write-only audit sink for scene iterations. The
// decision path never reads from it; ListRecent exists for the analytics API
// only.
type IterationRepository interface {
	Save(ctx context.Context, iteration *models.SceneIteration) error
	ListRecent(ctx context.Context, projectID string, limit int) ([]models.SceneIteration, error)
}
