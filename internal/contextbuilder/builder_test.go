package contextbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-engine/internal/factcache"
	"storyboard-engine/internal/messaging"
	"storyboard-engine/internal/models"
	"storyboard-engine/internal/storage"
)

func newTestBuilder(t *testing.T, events <-chan messaging.FactsReadyPayload) (*Builder, *storage.MemoryStore, factcache.Cache) {
	t.Helper()
	store := storage.NewMemoryStore()
	cache := factcache.NewMemoryCache(time.Minute, nil, zap.NewNop())
	t.Cleanup(cache.Close)
	return NewBuilder(store, cache, events, zap.NewNop()), store, cache
}

func TestBuild_EmptyProjectIsFirstRealScene(t *testing.T) {
	builder, _, _ := newTestBuilder(t, nil)

	packet, err := builder.Build(context.Background(), "project-1", "create a scene", nil)
	require.NoError(t, err)
	assert.True(t, packet.IsFirstRealScene)
	assert.Empty(t, packet.Scenes)
	assert.NotEmpty(t, packet.MemoryBank)
}

// A bootstrap project with only its placeholder scene must look identical to
// an empty project.
func TestBuild_BootstrapProjectReadsAsEmpty(t *testing.T) {
	builder, store, _ := newTestBuilder(t, nil)
	ctx := context.Background()

	store.SetProjectFlags("project-1", models.ProjectFlags{IsBootstrap: true})

	packet, err := builder.Build(ctx, "project-1", "create a scene", nil)
	require.NoError(t, err)
	assert.True(t, packet.IsFirstRealScene)
	assert.Empty(t, packet.Scenes)
}

func TestBuild_RealSceneClearsFirstRealScene(t *testing.T) {
	builder, store, _ := newTestBuilder(t, nil)
	ctx := context.Background()

	_, err := store.CreateScene(ctx, "project-1", models.Scene{Name: "Intro", SourceCode: "code"})
	require.NoError(t, err)

	packet, err := builder.Build(ctx, "project-1", "edit the intro", nil)
	require.NoError(t, err)
	assert.False(t, packet.IsFirstRealScene)
	require.Len(t, packet.Scenes, 1)
	assert.Equal(t, "Intro", packet.Scenes[0].Name)
}

func TestBuild_PicksUpCachedFacts(t *testing.T) {
	builder, _, cache := newTestBuilder(t, nil)
	ctx := context.Background()

	facts := &models.ImageFacts{TraceID: "trace-1", Mood: "calm", Strategy: models.StrategyJSON}
	require.NoError(t, cache.Set(ctx, "trace-1", facts, time.Minute))

	packet, err := builder.Build(ctx, "project-1", "use my reference image", []string{"trace-1"})
	require.NoError(t, err)
	require.Len(t, packet.Facts, 1)
	assert.Equal(t, "calm", packet.Facts[0].Mood)
}

// Facts announced between turns feed the next packet for that project.
func TestBuild_LateArrivingFactsFeedNextRequest(t *testing.T) {
	events := make(chan messaging.FactsReadyPayload, 4)
	builder, _, cache := newTestBuilder(t, events)
	ctx := context.Background()

	// First turn: analysis still running, nothing available.
	packet, err := builder.Build(ctx, "project-1", "add a scene", nil)
	require.NoError(t, err)
	assert.Empty(t, packet.Facts)

	facts := &models.ImageFacts{TraceID: "trace-late", Colors: []string{"#010203"}, Strategy: models.StrategyJSON}
	require.NoError(t, cache.Set(ctx, "trace-late", facts, time.Minute))
	events <- messaging.FactsReadyPayload{
		TraceID:   "trace-late",
		ProjectID: "project-1",
		Status:    messaging.StatusCompleted,
	}

	packet, err = builder.Build(ctx, "project-1", "another scene", nil)
	require.NoError(t, err)
	require.Len(t, packet.Facts, 1)
	assert.Equal(t, []string{"#010203"}, packet.Facts[0].Colors)
}

func TestBuild_FailedAnalysisYieldsNoFacts(t *testing.T) {
	events := make(chan messaging.FactsReadyPayload, 4)
	builder, _, _ := newTestBuilder(t, events)

	events <- messaging.FactsReadyPayload{
		TraceID:   "trace-failed",
		ProjectID: "project-1",
		Status:    messaging.StatusFailed,
		Error:     "no image facts recoverable",
	}

	packet, err := builder.Build(context.Background(), "project-1", "add a scene", nil)
	require.NoError(t, err)
	assert.Empty(t, packet.Facts)
}

func TestBuild_MinesAndAccumulatesPreferences(t *testing.T) {
	builder, _, _ := newTestBuilder(t, nil)
	ctx := context.Background()

	packet, err := builder.Build(ctx, "project-1", "make it a 5 seconds intro, something minimal", nil)
	require.NoError(t, err)

	byKey := make(map[string]models.UserPreference)
	for _, p := range packet.Preferences {
		byKey[p.Key] = p
	}
	require.Contains(t, byKey, "scene_duration_seconds")
	assert.Equal(t, 5.0, byKey["scene_duration_seconds"].Value)
	require.Contains(t, byKey, "style_preference")
	assert.Equal(t, "minimal", byKey["style_preference"].Value)

	// Preferences persist across turns within the project.
	packet, err = builder.Build(ctx, "project-1", "now add an outro", nil)
	require.NoError(t, err)
	assert.Len(t, packet.Preferences, 2)
}

func TestBuild_RepeatedCueRaisesConfidence(t *testing.T) {
	builder, _, _ := newTestBuilder(t, nil)
	ctx := context.Background()

	_, err := builder.Build(ctx, "project-1", "make it faster", nil)
	require.NoError(t, err)
	packet, err := builder.Build(ctx, "project-1", "faster please", nil)
	require.NoError(t, err)

	require.Len(t, packet.Preferences, 1)
	assert.Equal(t, "animation_speed_preference", packet.Preferences[0].Key)
	assert.Equal(t, "fast", packet.Preferences[0].Value)
	assert.Greater(t, packet.Preferences[0].Confidence, 0.7)
}

func TestExtractPreferences_NoCues(t *testing.T) {
	assert.Empty(t, extractPreferences("add an intro about our company launch"))
}
