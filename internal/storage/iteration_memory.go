package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"storyboard-engine/internal/models"
)

// MemoryIterationRepository is an in-process audit sink for tests and
// database-less runs.
type MemoryIterationRepository struct {
	mu         sync.RWMutex
	iterations []models.SceneIteration
}

// NewMemoryIterationRepository creates an empty repository.
func NewMemoryIterationRepository() *MemoryIterationRepository {
	return &MemoryIterationRepository{}
}

// Save appends the iteration.
func (r *MemoryIterationRepository) Save(_ context.Context, iteration *models.SceneIteration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if iteration.ID == "" {
		iteration.ID = uuid.NewString()
	}
	r.iterations = append(r.iterations, *iteration)
	return nil
}

// ListRecent returns the project's iterations, newest first.
func (r *MemoryIterationRepository) ListRecent(_ context.Context, projectID string, limit int) ([]models.SceneIteration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.SceneIteration
	for i := len(r.iterations) - 1; i >= 0; i-- {
		if r.iterations[i].ProjectID == projectID {
			result = append(result, r.iterations[i])
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}
