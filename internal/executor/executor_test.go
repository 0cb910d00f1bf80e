package executor

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
	"storyboard-engine/internal/classifier"
	"storyboard-engine/internal/contextbuilder"
	"storyboard-engine/internal/generation"
	"storyboard-engine/internal/mocks"
	"storyboard-engine/internal/models"
	"storyboard-engine/internal/storage"
)

func newTestExecutor(client ai.Client) (*Executor, *storage.MemoryStore) {
	logger := zap.NewNop()
	retry := ai.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	store := storage.NewMemoryStore()
	layout := generation.NewLayoutGenerator(client, retry, time.Second, logger)
	code := generation.NewCodeGenerator(client, retry, time.Second, logger)
	editor := generation.NewEditor(client, layout, code, retry, time.Second, logger)
	cls := classifier.NewClassifier(client, time.Second, logger)
	return NewExecutor(store, layout, code, editor, cls, logger), store
}

func emptyPacket() *contextbuilder.Packet {
	return &contextbuilder.Packet{IsFirstRealScene: true}
}

// onLayout scripts the mock for layout prompts only (they open "You design").
func onLayout(client *mocks.MockAIClient, response string) *mock.Call {
	return client.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "You design")
	}), mock.Anything, mock.Anything).Return(response, ai.Usage{}, nil)
}

func onCode(client *mocks.MockAIClient, response string) *mock.Call {
	return client.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "You implement")
	}), mock.Anything, mock.Anything).Return(response, ai.Usage{}, nil)
}

func TestExecute_AddSceneOnEmptyProject(t *testing.T) {
	client := new(mocks.MockAIClient)
	onLayout(client, `{"elements":[{"type":"heading"}],"durationFrames":90}`)
	onCode(client, "export default function LaunchIntroScene() { return null; }")

	exec, store := newTestExecutor(client)
	decision := &models.ToolDecision{Tool: models.ToolAddScene}

	result, details := exec.Execute(context.Background(), "project-1", "create a launch intro", decision, emptyPacket())
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Success)
	require.NotNil(t, result.Steps[0].Scene)
	assert.NotEmpty(t, result.Steps[0].Scene.ID)
	assert.Equal(t, 90, result.Steps[0].Scene.DurationFrames)
	assert.Equal(t, generation.ModeTextFirst, details[0].Mode)

	scenes, err := store.GetStoryboard(context.Background(), "project-1")
	require.NoError(t, err)
	assert.Len(t, scenes, 1)

	// The acknowledgement mentions only produced content.
	assert.Contains(t, result.UserFacingMessage, scenes[0].Name)
	assert.Contains(t, result.UserFacingMessage, "3.0s")
}

// A two-step workflow where step 2 targets the scene step 1 creates.
func TestExecute_WorkflowResolvesPlaceholder(t *testing.T) {
	client := new(mocks.MockAIClient)
	onLayout(client, `{"elements":[{"type":"title"}]}`)
	onCode(client, "export default function TitleScene() { return null; }")
	// Surgical edit call (prompt opens "You make one isolated change").
	client.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "You make one isolated change")
	}), mock.Anything, mock.Anything).
		Return("export default function TitleScene() { return <Blue/>; }", ai.Usage{}, nil)

	exec, store := newTestExecutor(client)
	decision := &models.ToolDecision{
		Tool: models.ToolAddScene,
		Workflow: []models.WorkflowStep{
			{Tool: models.ToolAddScene, Request: "create a title scene"},
			{Tool: models.ToolEditScene, TargetSceneID: "{{step-1.sceneId}}", Request: "change the background color to blue"},
		},
	}

	result, details := exec.Execute(context.Background(), "project-1", "create a title scene then make it blue", decision, emptyPacket())
	require.Len(t, result.Steps, 2)
	assert.True(t, result.Steps[0].Success)
	assert.True(t, result.Steps[1].Success)
	assert.Equal(t, result.Steps[0].Scene.ID, result.Steps[1].Scene.ID)
	assert.Equal(t, models.TierSurgical, details[1].Tier)

	scenes, err := store.GetStoryboard(context.Background(), "project-1")
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Contains(t, scenes[0].SourceCode, "Blue")
}

// A failing middle step abandons the rest without rolling back prior steps.
func TestExecute_PartialFailureKeepsPriorMutations(t *testing.T) {
	client := new(mocks.MockAIClient)
	onLayout(client, `{"elements":[{"type":"title"}]}`)
	onCode(client, "export default function TitleScene() { return null; }")
	client.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "You make one isolated change")
	}), mock.Anything, mock.Anything).
		Return("", ai.Usage{}, errors.New("upstream 503"))

	exec, store := newTestExecutor(client)
	decision := &models.ToolDecision{
		Tool: models.ToolAddScene,
		Workflow: []models.WorkflowStep{
			{Tool: models.ToolAddScene, Request: "create a title scene"},
			{Tool: models.ToolEditScene, TargetSceneID: "{{step-1.sceneId}}", Request: "change the color to blue"},
			{Tool: models.ToolDeleteScene, TargetSceneID: "{{step-1.sceneId}}", Request: "delete it"},
		},
	}

	result, _ := exec.Execute(context.Background(), "project-1", "several things", decision, emptyPacket())
	require.Len(t, result.Steps, 2, "third step must be abandoned")
	assert.True(t, result.Steps[0].Success)
	assert.False(t, result.Steps[1].Success)
	assert.NotEmpty(t, result.Steps[1].Error)

	scenes, err := store.GetStoryboard(context.Background(), "project-1")
	require.NoError(t, err)
	assert.Len(t, scenes, 1, "step 1's scene stays; no rollback")
	assert.Contains(t, result.UserFacingMessage, "skipped")
}

func TestExecute_DeleteScene(t *testing.T) {
	client := new(mocks.MockAIClient)
	exec, store := newTestExecutor(client)
	ctx := context.Background()

	scene, err := store.CreateScene(ctx, "project-1", models.Scene{Name: "Outro", SourceCode: "code"})
	require.NoError(t, err)

	decision := &models.ToolDecision{Tool: models.ToolDeleteScene, TargetSceneID: scene.ID}
	result, _ := exec.Execute(ctx, "project-1", "delete the outro", decision, emptyPacket())
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Success)

	scenes, err := store.GetStoryboard(ctx, "project-1")
	require.NoError(t, err)
	assert.Empty(t, scenes)
}

func TestExecute_EditMissingSceneIsStale(t *testing.T) {
	client := new(mocks.MockAIClient)
	exec, _ := newTestExecutor(client)

	decision := &models.ToolDecision{Tool: models.ToolEditScene, TargetSceneID: "scn-missing"}
	result, _ := exec.Execute(context.Background(), "project-1", "change the color to blue", decision, emptyPacket())
	require.Len(t, result.Steps, 1)
	assert.False(t, result.Steps[0].Success)
	assert.Contains(t, result.Steps[0].Error, "stale")
}

func TestExecute_FixBrokenScene(t *testing.T) {
	client := new(mocks.MockAIClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "The scene component below is broken")
	}), mock.Anything, mock.Anything).
		Return("export default function IntroScene() { return null; }", ai.Usage{}, nil)

	exec, store := newTestExecutor(client)
	ctx := context.Background()

	scene, err := store.CreateScene(ctx, "project-1", models.Scene{Name: "Intro", SourceCode: "broken {"})
	require.NoError(t, err)

	decision := &models.ToolDecision{Tool: models.ToolFixBrokenScene, TargetSceneID: scene.ID}
	result, details := exec.Execute(ctx, "project-1", "", decision, emptyPacket())
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Success)
	assert.Equal(t, "broken {", details[0].BeforeCode)

	scenes, err := store.GetStoryboard(ctx, "project-1")
	require.NoError(t, err)
	assert.NotContains(t, scenes[0].SourceCode, "broken")
}

func TestSceneNameFromRequest(t *testing.T) {
	assert.Equal(t, "Launch Intro", sceneNameFromRequest("create a launch intro"))
	assert.Equal(t, "New Scene", sceneNameFromRequest("add a scene please"))
	assert.Equal(t, "Sunset Beach Timelapse", sceneNameFromRequest("make a sunset beach timelapse scene for the outro"))
}
