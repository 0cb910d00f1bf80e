// Package contextbuilder assembles the per-request context packet the
// decision engine reasons over: static capability knowledge, mined user
// preferences, the filtered scene history and any image facts already
// available in the cache.
package contextbuilder

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storyboard-engine/internal/factcache"
	"storyboard-engine/internal/messaging"
	"storyboard-engine/internal/models"
	"storyboard-engine/internal/storage"
)

// memoryBank is the static system knowledge included in every packet.
const memoryBank = `You are the decision engine of a storyboard editor for short videos.
Capabilities: add a scene, edit a scene, delete a scene, repair a broken scene, analyze an uploaded image.
Scenes are rendered as animated components; duration is measured in frames at 30fps.
Generated layouts favor clean composition, readable typography and restrained palettes unless the user asks otherwise.`

// Packet is the assembled context for one request.
type Packet struct {
	MemoryBank       string
	Preferences      []models.UserPreference
	Scenes           []models.Scene
	IsFirstRealScene bool
	Facts            []*models.ImageFacts
}

// Builder assembles packets. It keeps two pieces of cross-request state per
// project: the mined preference set and the trace ids of announced image
// analyses, so facts that arrived after an earlier decision feed later ones.
type Builder struct {
	store  storage.StoryboardStore
	cache  factcache.Cache
	events <-chan messaging.FactsReadyPayload
	logger *zap.Logger

	mu            sync.Mutex
	preferences   map[string]map[string]models.UserPreference // project id -> pref key -> pref
	projectTraces map[string][]string                         // project id -> known trace ids
}

// NewBuilder creates a Builder draining the given facts-ready channel.
func NewBuilder(store storage.StoryboardStore, cache factcache.Cache, events <-chan messaging.FactsReadyPayload, logger *zap.Logger) *Builder {
	return &Builder{
		store:         store,
		cache:         cache,
		events:        events,
		logger:        logger.Named("ContextBuilder"),
		preferences:   make(map[string]map[string]models.UserPreference),
		projectTraces: make(map[string][]string),
	}
}

// Build assembles the packet for one request. traceIDs are the analyses
// launched for this request; facts from earlier turns are picked up through
// the facts-ready channel.
func (b *Builder) Build(ctx context.Context, projectID, requestText string, traceIDs []string) (*Packet, error) {
	b.drainEvents()
	b.rememberTraces(projectID, traceIDs)
	b.minePreferences(projectID, requestText)

	flags, err := b.store.GetProjectFlags(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project flags for '%s': %w", projectID, err)
	}

	var scenes []models.Scene
	if !flags.IsBootstrap {
		scenes, err = b.store.GetStoryboard(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load storyboard for '%s': %w", projectID, err)
		}
	}

	packet := &Packet{
		MemoryBank:       memoryBank,
		Preferences:      b.snapshotPreferences(projectID),
		Scenes:           scenes,
		IsFirstRealScene: len(scenes) == 0,
		Facts:            b.collectFacts(ctx, projectID),
	}

	b.logger.Debug("Context packet assembled",
		zap.String("projectId", projectID),
		zap.Int("scenes", len(packet.Scenes)),
		zap.Int("preferences", len(packet.Preferences)),
		zap.Int("facts", len(packet.Facts)),
		zap.Bool("isFirstRealScene", packet.IsFirstRealScene))
	return packet, nil
}

// drainEvents consumes everything currently queued on the facts-ready
// channel without blocking. Late-arriving facts only influence packets built
// after this point, never a decision already in flight.
func (b *Builder) drainEvents() {
	if b.events == nil {
		return
	}
	for {
		select {
		case event := <-b.events:
			if event.Status == messaging.StatusCompleted {
				b.rememberTraces(event.ProjectID, []string{event.TraceID})
			}
		default:
			return
		}
	}
}

func (b *Builder) rememberTraces(projectID string, traceIDs []string) {
	if len(traceIDs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	known := b.projectTraces[projectID]
	for _, id := range traceIDs {
		if !containsString(known, id) {
			known = append(known, id)
		}
	}
	b.projectTraces[projectID] = known
}

// collectFacts reads every known trace id for the project from the cache.
// Traces the cache does not hold are forgotten; an analysis that completes
// later re-registers its trace through the facts-ready channel.
func (b *Builder) collectFacts(ctx context.Context, projectID string) []*models.ImageFacts {
	b.mu.Lock()
	traceIDs := append([]string(nil), b.projectTraces[projectID]...)
	b.mu.Unlock()

	var facts []*models.ImageFacts
	var live []string
	for _, traceID := range traceIDs {
		f, ok, err := b.cache.Get(ctx, traceID)
		if err != nil {
			b.logger.Warn("Failed to read image facts", zap.String("traceId", traceID), zap.Error(err))
			live = append(live, traceID)
			continue
		}
		if ok {
			facts = append(facts, f)
			live = append(live, traceID)
		}
	}

	b.mu.Lock()
	b.projectTraces[projectID] = live
	b.mu.Unlock()
	return facts
}

func (b *Builder) snapshotPreferences(projectID string) []models.UserPreference {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefs := b.preferences[projectID]
	if len(prefs) == 0 {
		return nil
	}
	out := make([]models.UserPreference, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, p)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
