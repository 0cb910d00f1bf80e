package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"storyboard-engine/internal/models"
)

// MemoryStore is an in-process StoryboardStore. It backs tests and
// single-node deployments where the surrounding platform owns durable scene
// storage.
type MemoryStore struct {
	mu        sync.RWMutex
	scenes    map[string]models.Scene       // scene id -> scene
	projects  map[string]models.ProjectFlags // project id -> flags
	nextOrder map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scenes:    make(map[string]models.Scene),
		projects:  make(map[string]models.ProjectFlags),
		nextOrder: make(map[string]int),
	}
}

// SetProjectFlags seeds the flags for a project. Used by tests and by
// bootstrap provisioning.
func (s *MemoryStore) SetProjectFlags(projectID string, flags models.ProjectFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = flags
}

// GetStoryboard returns the project's scenes ordered by their order field.
func (s *MemoryStore) GetStoryboard(_ context.Context, projectID string) ([]models.Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scenes []models.Scene
	for _, scene := range s.scenes {
		if scene.ProjectID == projectID {
			scenes = append(scenes, scene)
		}
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Order < scenes[j].Order })
	return scenes, nil
}

// CreateScene stores the scene under a fresh id at the end of the storyboard.
// Adding real content clears the project's bootstrap flag.
func (s *MemoryStore) CreateScene(_ context.Context, projectID string, scene models.Scene) (*models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene.ID = uuid.NewString()
	scene.ProjectID = projectID
	scene.Order = s.nextOrder[projectID]
	s.nextOrder[projectID]++
	s.scenes[scene.ID] = scene
	s.projects[projectID] = models.ProjectFlags{IsBootstrap: false}

	return &scene, nil
}

// UpdateScene applies the non-nil patch fields to the scene.
func (s *MemoryStore) UpdateScene(_ context.Context, sceneID string, patch ScenePatch) (*models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, ok := s.scenes[sceneID]
	if !ok {
		return nil, fmt.Errorf("scene '%s': %w", sceneID, models.ErrStaleReference)
	}
	if patch.Name != nil {
		scene.Name = *patch.Name
	}
	if patch.SourceCode != nil {
		scene.SourceCode = *patch.SourceCode
	}
	if patch.DurationFrames != nil {
		scene.DurationFrames = *patch.DurationFrames
	}
	if patch.LayoutSpec != nil {
		scene.LayoutSpec = patch.LayoutSpec
	}
	s.scenes[sceneID] = scene
	return &scene, nil
}

// DeleteScene removes the scene.
func (s *MemoryStore) DeleteScene(_ context.Context, sceneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scenes[sceneID]; !ok {
		return fmt.Errorf("scene '%s': %w", sceneID, models.ErrStaleReference)
	}
	delete(s.scenes, sceneID)
	return nil
}

// GetProjectFlags returns the project's flags. Unknown projects read as
// non-bootstrap with no scenes, which the context builder treats the same
// as an empty bootstrap project.
func (s *MemoryStore) GetProjectFlags(_ context.Context, projectID string) (models.ProjectFlags, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[projectID], nil
}
