package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-engine/internal/ai"
	"storyboard-engine/internal/brain"
	"storyboard-engine/internal/classifier"
	"storyboard-engine/internal/contextbuilder"
	"storyboard-engine/internal/executor"
	"storyboard-engine/internal/factcache"
	"storyboard-engine/internal/generation"
	"storyboard-engine/internal/imagery"
	"storyboard-engine/internal/messaging"
	"storyboard-engine/internal/mocks"
	"storyboard-engine/internal/storage"
	"storyboard-engine/internal/vision"
)

type testRig struct {
	service    *Service
	store      *storage.MemoryStore
	iterations *storage.MemoryIterationRepository
	publisher  *messaging.ChannelPublisher
}

func newTestRig(t *testing.T, client ai.Client) *testRig {
	t.Helper()
	logger := zap.NewNop()
	retry := ai.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	store := storage.NewMemoryStore()
	cache := factcache.NewMemoryCache(time.Minute, nil, logger)
	t.Cleanup(cache.Close)
	publisher := messaging.NewChannelPublisher(logger)

	extractor := vision.NewExtractor(client, retry, logger)
	pipeline := imagery.NewPipeline(extractor, cache, publisher, 10*time.Minute, 5*time.Second, logger)
	builder := contextbuilder.NewBuilder(store, cache, publisher.Events(), logger)
	decisionEngine := brain.NewEngine(client, retry, time.Second, logger)

	layout := generation.NewLayoutGenerator(client, retry, time.Second, logger)
	code := generation.NewCodeGenerator(client, retry, time.Second, logger)
	editor := generation.NewEditor(client, layout, code, retry, time.Second, logger)
	cls := classifier.NewClassifier(client, time.Second, logger)
	exec := executor.NewExecutor(store, layout, code, editor, cls, logger)

	iterations := storage.NewMemoryIterationRepository()
	return &testRig{
		service:    NewService(pipeline, builder, decisionEngine, exec, iterations, "test-model", logger),
		store:      store,
		iterations: iterations,
		publisher:  publisher,
	}
}

// decisionPromptMatcher matches only the brain's decision call.
func decisionPrompt(p string) bool { return strings.Contains(p, "storyboard operation") }
func layoutPrompt(p string) bool   { return strings.HasPrefix(p, "You design") }
func codePrompt(p string) bool     { return strings.HasPrefix(p, "You implement") }

func TestHandleRequest_AddSceneOnEmptyProject(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"addScene","userFacingMessage":"Adding a scene."}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(layoutPrompt), mock.Anything, mock.Anything).
		Return(`{"elements":[{"type":"heading"}]}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(codePrompt), mock.Anything, mock.Anything).
		Return("export default function IntroScene() { return null; }", ai.Usage{}, nil)

	rig := newTestRig(t, client)
	result, err := rig.service.HandleRequest(context.Background(), "project-1", "create a scene", nil)
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Success)
	assert.NotEmpty(t, result.Steps[0].Scene.ID)

	scenes, err := rig.store.GetStoryboard(context.Background(), "project-1")
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
}

// Decision latency must be independent of vision latency.
func TestHandleRequest_NotDelayedBySlowVision(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("CompleteWithImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(500 * time.Millisecond) }).
		Return(`{"mood":"calm"}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"analyzeImage","userFacingMessage":"Analyzing your image."}`, ai.Usage{}, nil)

	rig := newTestRig(t, client)
	start := time.Now()
	result, err := rig.service.HandleRequest(context.Background(), "project-1", "", []string{"data:image/png;base64,aGk="})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Success)
	assert.Less(t, elapsed, 300*time.Millisecond, "decision must not wait for vision")
}

// Facts from an earlier image turn drive vision-first generation later.
func TestHandleRequest_LateFactsEnableVisionFirst(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("CompleteWithImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"colors":["#123456","#ABCDEF"],"mood":"bold"}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"analyzeImage","userFacingMessage":"Analyzing."}`, ai.Usage{}, nil).Once()

	var layoutSystemPrompt string
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"addScene","userFacingMessage":"Adding a scene."}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(layoutPrompt), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { layoutSystemPrompt = args.String(1) }).
		Return(`{"elements":[{"type":"shape","color":"#123456"}],"palette":["#123456","#ABCDEF"]}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(codePrompt), mock.Anything, mock.Anything).
		Return("export default function Scene() { return null; }", ai.Usage{}, nil)

	rig := newTestRig(t, client)
	ctx := context.Background()

	_, err := rig.service.HandleRequest(ctx, "project-1", "", []string{"data:image/png;base64,aGk="})
	require.NoError(t, err)

	// Let the detached analysis land in the cache and announce itself.
	require.Eventually(t, func() bool {
		return len(rig.publisher.Events()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	result, err := rig.service.HandleRequest(ctx, "project-1", "add a scene like my image", nil)
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Success)
	assert.Contains(t, layoutSystemPrompt, "#123456", "vision-first prompt carries the image colors")
	assert.Contains(t, layoutSystemPrompt, "blueprint")
}

func TestHandleRequest_TransientDecisionFailureIsTerminal(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.Usage{}, errors.New("upstream 503"))

	rig := newTestRig(t, client)
	result, err := rig.service.HandleRequest(context.Background(), "project-1", "create a scene", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Steps)
	assert.Contains(t, result.UserFacingMessage, "try again")
}

func TestHandleRequest_ClarifyEndsTurn(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"clarify","clarification":"Which scene do you mean?"}`, ai.Usage{}, nil)

	rig := newTestRig(t, client)
	result, err := rig.service.HandleRequest(context.Background(), "project-1", "change it", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Steps)
	assert.Equal(t, "Which scene do you mean?", result.UserFacingMessage)
	client.AssertNumberOfCalls(t, "Complete", 1)
}

func TestHandleRequest_AuditsIterations(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"addScene","userFacingMessage":"Adding."}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(layoutPrompt), mock.Anything, mock.Anything).
		Return(`{"elements":[]}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(codePrompt), mock.Anything, mock.Anything).
		Return("export default function Scene() { return null; }", ai.Usage{}, nil)

	rig := newTestRig(t, client)
	_, err := rig.service.HandleRequest(context.Background(), "project-1", "create a scene", nil)
	require.NoError(t, err)

	records, err := rig.iterations.ListRecent(context.Background(), "project-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "create a scene", records[0].RequestText)
	assert.Equal(t, "test-model", records[0].ModelUsed)
	assert.False(t, records[0].WasImmediatelyReEdited)
	assert.NotEmpty(t, records[0].AfterCode)
}

func TestHandleRequest_MarksImmediateReEdit(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(`{"tool":"addScene","userFacingMessage":"Adding."}`, ai.Usage{}, nil).Once()
	client.On("Complete", mock.Anything, mock.MatchedBy(layoutPrompt), mock.Anything, mock.Anything).
		Return(`{"elements":[]}`, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(codePrompt), mock.Anything, mock.Anything).
		Return("export default function Scene() { return null; }", ai.Usage{}, nil)

	rig := newTestRig(t, client)
	ctx := context.Background()
	result, err := rig.service.HandleRequest(ctx, "project-1", "create a scene", nil)
	require.NoError(t, err)
	sceneID := result.Steps[0].Scene.ID

	// Two quick successive edits of the same scene.
	editDecision := `{"tool":"editScene","targetSceneId":"` + sceneID + `","userFacingMessage":"Updating."}`
	client.On("Complete", mock.Anything, mock.MatchedBy(decisionPrompt), mock.Anything, mock.Anything).
		Return(editDecision, ai.Usage{}, nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "You make one isolated change")
	}), mock.Anything, mock.Anything).
		Return("export default function Scene() { return <New/>; }", ai.Usage{}, nil)

	_, err = rig.service.HandleRequest(ctx, "project-1", "change the title color", nil)
	require.NoError(t, err)
	_, err = rig.service.HandleRequest(ctx, "project-1", "change the title color again", nil)
	require.NoError(t, err)

	records, err := rig.iterations.ListRecent(ctx, "project-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first: the second edit followed the first within the window.
	assert.True(t, records[0].WasImmediatelyReEdited)
	assert.False(t, records[2].WasImmediatelyReEdited)
}
