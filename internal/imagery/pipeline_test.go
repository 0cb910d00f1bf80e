package imagery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/factcache"
	"storyboard-engine/internal/messaging"
	"storyboard-engine/internal/mocks"
	"storyboard-engine/internal/vision"
)

func newTestPipeline(client ai.Client) (*Pipeline, factcache.Cache, *messaging.ChannelPublisher) {
	logger := zap.NewNop()
	extractor := vision.NewExtractor(client, ai.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, logger)
	cache := factcache.NewMemoryCache(time.Minute, nil, logger)
	publisher := messaging.NewChannelPublisher(logger)
	return NewPipeline(extractor, cache, publisher, 10*time.Minute, 5*time.Second, logger), cache, publisher
}

// Launch must return before the vision call completes.
func TestLaunch_DoesNotBlockOnSlowVision(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("CompleteWithImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
		Return(`{"mood":"calm"}`, ai.Usage{}, nil)

	pipeline, cache, _ := newTestPipeline(client)
	defer cache.Close()

	start := time.Now()
	traceIDs := pipeline.Launch("project-1", []string{"ref-1"})
	elapsed := time.Since(start)

	require.Len(t, traceIDs, 1)
	assert.Less(t, elapsed, 100*time.Millisecond, "Launch must not wait for the analysis")
}

func TestLaunch_CachesFactsAndAnnouncesCompletion(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("CompleteWithImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"colors":["#112233"],"mood":"warm"}`, ai.Usage{}, nil)

	pipeline, cache, publisher := newTestPipeline(client)
	defer cache.Close()

	traceIDs := pipeline.Launch("project-1", []string{"ref-1"})
	require.Len(t, traceIDs, 1)

	select {
	case event := <-publisher.Events():
		assert.Equal(t, traceIDs[0], event.TraceID)
		assert.Equal(t, "project-1", event.ProjectID)
		assert.Equal(t, messaging.StatusCompleted, event.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for facts-ready event")
	}

	facts, ok, err := cache.Get(context.Background(), traceIDs[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "warm", facts.Mood)
}

func TestLaunch_AnnouncesFailureWithoutCaching(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("CompleteWithImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("nothing recognizable here", ai.Usage{}, nil)

	pipeline, cache, publisher := newTestPipeline(client)
	defer cache.Close()

	traceIDs := pipeline.Launch("project-1", []string{"ref-1"})

	select {
	case event := <-publisher.Events():
		assert.Equal(t, messaging.StatusFailed, event.Status)
		assert.NotEmpty(t, event.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for facts-ready event")
	}

	_, ok, err := cache.Get(context.Background(), traceIDs[0])
	require.NoError(t, err)
	assert.False(t, ok, "failed analysis must not leave a cache entry")
}

func TestLaunch_OneTracePerImage(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("CompleteWithImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"mood":"calm"}`, ai.Usage{}, nil)

	pipeline, cache, _ := newTestPipeline(client)
	defer cache.Close()

	traceIDs := pipeline.Launch("project-1", []string{"ref-1", "ref-2", "ref-3"})
	require.Len(t, traceIDs, 3)
	assert.NotEqual(t, traceIDs[0], traceIDs[1])
	assert.NotEqual(t, traceIDs[1], traceIDs[2])
}
