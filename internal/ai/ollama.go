package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"storyboard-engine/internal/config"
)

// ollamaClient implements Client using the native ollama API.
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// newOllamaClient creates a client for a local Ollama instance. The base URL
// is the configured AI base URL with any /v1 suffix stripped, since the
// native API lives at the root.
func newOllamaClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.AIVisionTimeout}

	ollamaBaseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL '%s': %w", ollamaBaseURL, err)
	}

	client := api.NewClient(parsedURL, httpClient)
	logger.Info("Ollama client created",
		zap.String("baseURL", ollamaBaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout))

	return &ollamaClient{
		client:  client,
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

func (c *ollamaClient) Complete(ctx context.Context, systemPrompt string, userInput string, params Params) (string, Usage, error) {
	usage := Usage{} // local models have no billed cost

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: system prompt is empty", ErrGenerationFailed)
	}

	messages := []api.Message{
		{Role: "system", Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}

	return c.chat(ctx, messages, params, "text")
}

func (c *ollamaClient) CompleteWithImages(ctx context.Context, images []string, prompt string, params Params) (string, Usage, error) {
	usage := Usage{}

	if len(images) == 0 {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "vision", "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: no images supplied", ErrGenerationFailed)
	}

	// The native API takes raw image bytes; references must be base64
	// payloads (optionally as data URIs).
	imageData := make([]api.ImageData, 0, len(images))
	for _, img := range images {
		if idx := strings.Index(img, "base64,"); idx != -1 {
			img = img[idx+len("base64,"):]
		}
		decoded, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "vision", "status": "error"}).Inc()
			return "", usage, fmt.Errorf("%w: image reference is not base64 data: %v", ErrGenerationFailed, err)
		}
		imageData = append(imageData, api.ImageData(decoded))
	}

	messages := []api.Message{
		{Role: "user", Content: prompt, Images: imageData},
	}

	return c.chat(ctx, messages, params, "vision")
}

func (c *ollamaClient) chat(ctx context.Context, messages []api.Message, params Params, kind string) (string, Usage, error) {
	usage := Usage{}

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   func(b bool) *bool { return &b }(false),
		Options: map[string]interface{}{
			"temperature": params.Temperature,
			"top_p":       params.TopP,
			"num_predict": intVal(params.MaxTokens),
		},
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Ollama API error", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": kind, "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if resp.Message.Content == "" {
		c.logger.Warn("Ollama API returned an empty response", zap.Duration("duration", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": kind, "status": "error_empty_response"}).Inc()
		return "", usage, fmt.Errorf("%w: empty response received", ErrGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": kind, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "kind": kind}).Observe(duration.Seconds())

	usage.PromptTokens = resp.PromptEvalCount
	usage.CompletionTokens = resp.EvalCount
	usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount

	if usage.TotalTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(usage.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(usage.CompletionTokens))
	}

	return resp.Message.Content, usage, nil
}
