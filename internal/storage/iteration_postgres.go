package storage

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyboard-engine/internal/models"
)

// postgresIterationRepository implements IterationRepository for PostgreSQL.
type postgresIterationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresIterationRepository creates the PostgreSQL-backed audit sink.
func NewPostgresIterationRepository(db *pgxpool.Pool, logger *zap.Logger) IterationRepository {
	return &postgresIterationRepository{
		db:     db,
		logger: logger.Named("IterationRepository"),
	}
}

// Save appends one iteration record. Records are immutable once written.
func (r *postgresIterationRepository) Save(ctx context.Context, iteration *models.SceneIteration) error {
	if iteration.ID == "" {
		iteration.ID = uuid.NewString()
	}

	query := `
        INSERT INTO scene_iterations
        (id, project_id, scene_id, request_text, decision, before_code, after_code,
         complexity_tier, model_used, latency_ms, was_immediately_re_edited, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
    `

	_, err := r.db.Exec(ctx, query,
		iteration.ID,
		iteration.ProjectID,
		iteration.SceneID,
		iteration.RequestText,
		iteration.Decision,
		iteration.BeforeCode,
		iteration.AfterCode,
		iteration.ComplexityTier,
		iteration.ModelUsed,
		iteration.LatencyMs,
		iteration.WasImmediatelyReEdited,
		iteration.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save scene iteration",
			zap.String("iterationId", iteration.ID),
			zap.String("projectId", iteration.ProjectID),
			zap.Error(err))
		return fmt.Errorf("failed to save scene iteration '%s': %w", iteration.ID, err)
	}

	return nil
}

// ListRecent returns the project's most recent iterations, newest first.
func (r *postgresIterationRepository) ListRecent(ctx context.Context, projectID string, limit int) ([]models.SceneIteration, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
        SELECT id, project_id, scene_id, request_text, decision, before_code, after_code,
               complexity_tier, model_used, latency_ms, was_immediately_re_edited, created_at
        FROM scene_iterations
        WHERE project_id = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `

	var iterations []models.SceneIteration
	if err := pgxscan.Select(ctx, r.db, &iterations, query, projectID, limit); err != nil {
		return nil, fmt.Errorf("failed to list scene iterations for project '%s': %w", projectID, err)
	}
	return iterations, nil
}
