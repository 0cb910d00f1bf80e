// Package imagery runs image analysis off the request path. Launch returns
// immediately; results land in the fact cache and are announced on the
// facts-ready channel. The decision path never waits on this package.
package imagery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyboard-engine/internal/factcache"
	"storyboard-engine/internal/messaging"
	"storyboard-engine/internal/vision"
)

var (
	analysesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyboard_engine_image_analyses_started_total",
		Help: "Total number of image analyses launched.",
	})
	analysesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_engine_image_analyses_finished_total",
		Help: "Total number of image analyses finished, by status.",
	}, []string{"status"})
	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyboard_engine_image_analysis_duration_seconds",
		Help:    "Histogram of end-to-end image analysis durations.",
		Buckets: prometheus.DefBuckets,
	})
)

// Pipeline launches detached image analyses.
type Pipeline struct {
	extractor *vision.Extractor
	cache     factcache.Cache
	publisher messaging.FactsPublisher
	factTTL   time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPipeline creates a Pipeline. timeout bounds one whole analysis (vision
// call plus cache write), independent of the caller's request context.
func NewPipeline(extractor *vision.Extractor, cache factcache.Cache, publisher messaging.FactsPublisher, factTTL, timeout time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		cache:     cache,
		publisher: publisher,
		factTTL:   factTTL,
		timeout:   timeout,
		logger:    logger.Named("ImagePipeline"),
	}
}

// Launch starts one detached analysis per image and returns the trace ids
// immediately. It never blocks on the analysis and never returns an error:
// failures are reported through the facts-ready channel only.
func (p *Pipeline) Launch(projectID string, imageRefs []string) []string {
	traceIDs := make([]string, 0, len(imageRefs))
	for _, ref := range imageRefs {
		traceID := uuid.NewString()
		traceIDs = append(traceIDs, traceID)
		analysesStarted.Inc()
		go p.analyze(projectID, traceID, ref)
	}
	return traceIDs
}

// analyze runs one analysis to completion under the pipeline's own timeout.
// The goroutine must never take the process down, hence the recover.
func (p *Pipeline) analyze(projectID, traceID, imageRef string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic recovered in image analysis",
				zap.String("traceId", traceID), zap.Any("panic", r))
			analysesFinished.With(prometheus.Labels{"status": "panic"}).Inc()
			p.announce(projectID, traceID, messaging.StatusFailed, "internal error during analysis")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	startTime := time.Now()
	facts, err := p.extractor.Extract(ctx, traceID, imageRef, p.factTTL)
	analysisDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		p.logger.Warn("Image analysis failed",
			zap.String("traceId", traceID),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		analysesFinished.With(prometheus.Labels{"status": "failed"}).Inc()
		p.announce(projectID, traceID, messaging.StatusFailed, err.Error())
		return
	}

	if err := p.cache.Set(ctx, traceID, facts, p.factTTL); err != nil {
		p.logger.Error("Failed to store image facts",
			zap.String("traceId", traceID), zap.Error(err))
		analysesFinished.With(prometheus.Labels{"status": "cache_error"}).Inc()
		p.announce(projectID, traceID, messaging.StatusFailed, "failed to store analysis result")
		return
	}

	analysesFinished.With(prometheus.Labels{"status": "completed"}).Inc()
	p.announce(projectID, traceID, messaging.StatusCompleted, "")
}

func (p *Pipeline) announce(projectID, traceID, status, errMsg string) {
	payload := messaging.FactsReadyPayload{
		TraceID:     traceID,
		ProjectID:   projectID,
		Status:      status,
		Error:       errMsg,
		CompletedAt: time.Now(),
	}
	// Announcement is best-effort; the cache entry already exists on success.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.publisher.Publish(ctx, payload); err != nil {
		p.logger.Warn("Failed to announce facts-ready event",
			zap.String("traceId", traceID), zap.Error(err))
	}
}
