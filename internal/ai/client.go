package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyboard-engine/internal/config"
)

// Pricing per million tokens in USD, used for the estimated cost metric.
const (
	pricePerMillionInputTokensUSD  = 3.0
	pricePerMillionOutputTokensUSD = 15.0
)

// ErrGenerationFailed is returned when the AI provider call fails or
// produces an empty response.
var ErrGenerationFailed = errors.New("ai generation failed")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_engine_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "kind", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_engine_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "kind"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_engine_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_engine_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"model"},
	)
	aiEstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_engine_ai_estimated_cost_usd_total",
			Help: "Estimated total cost of AI requests in USD.",
		},
		[]string{"model"},
	)
)

// Params holds optional generation parameters. Pointers distinguish an
// explicit zero from an absent value.
type Params struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Usage contains token accounting and estimated cost for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Client is the interface to the AI provider. Complete runs a plain text
// completion; CompleteWithImages runs a vision completion over one or more
// image references (URLs or data URIs).
type Client interface {
	Complete(ctx context.Context, systemPrompt string, userInput string, params Params) (string, Usage, error)
	CompleteWithImages(ctx context.Context, images []string, prompt string, params Params) (string, Usage, error)
}

// calculateCost estimates the request cost in USD from token counts.
func calculateCost(promptTokens, completionTokens int) float64 {
	inputCost := float64(promptTokens) * pricePerMillionInputTokensUSD / 1_000_000.0
	outputCost := float64(completionTokens) * pricePerMillionOutputTokensUSD / 1_000_000.0
	return inputCost + outputCost
}

// --- OpenAI-compatible client implementation ---

type openAIClient struct {
	client      *openaigo.Client
	model       string
	visionModel string
	logger      *zap.Logger
}

func (c *openAIClient) Complete(ctx context.Context, systemPrompt string, userInput string, params Params) (string, Usage, error) {
	usage := Usage{}

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: system prompt is empty", ErrGenerationFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userInput,
		})
	}

	startTime := time.Now()
	c.logger.Debug("Sending AI request",
		zap.String("model", c.model),
		zap.Int("systemPromptBytes", len(systemPrompt)),
		zap.Int("userInputBytes", len(userInput)))

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("AI API error", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Warn("AI API returned an empty response", zap.Duration("duration", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error_empty_response"}).Inc()
		return "", usage, fmt.Errorf("%w: empty response received", ErrGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "kind": "text"}).Observe(duration.Seconds())

	generatedText := resp.Choices[0].Message.Content
	usage = c.recordUsage(resp.Usage, systemPrompt+userInput, generatedText)

	return generatedText, usage, nil
}

func (c *openAIClient) CompleteWithImages(ctx context.Context, images []string, prompt string, params Params) (string, Usage, error) {
	usage := Usage{}

	if len(images) == 0 {
		aiRequestsTotal.With(prometheus.Labels{"model": c.visionModel, "kind": "vision", "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: no images supplied", ErrGenerationFailed)
	}

	parts := []openaigo.ChatMessagePart{
		{Type: openaigo.ChatMessagePartTypeText, Text: prompt},
	}
	for _, img := range images {
		parts = append(parts, openaigo.ChatMessagePart{
			Type: openaigo.ChatMessagePartTypeImageURL,
			ImageURL: &openaigo.ChatMessageImageURL{
				URL:    img,
				Detail: openaigo.ImageURLDetailHigh,
			},
		})
	}

	startTime := time.Now()
	c.logger.Debug("Sending vision request",
		zap.String("model", c.visionModel),
		zap.Int("imageCount", len(images)),
		zap.Int("promptBytes", len(prompt)))

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
	})

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Vision API error", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": c.visionModel, "kind": "vision", "status": "error"}).Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.visionModel, "kind": "vision", "status": "error_empty_response"}).Inc()
		return "", usage, fmt.Errorf("%w: empty response received", ErrGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.visionModel, "kind": "vision", "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.visionModel, "kind": "vision"}).Observe(duration.Seconds())

	generatedText := resp.Choices[0].Message.Content
	usage = c.recordUsage(resp.Usage, prompt, generatedText)

	return generatedText, usage, nil
}

// recordUsage fills Usage from the provider response, estimating token
// counts with tiktoken when the provider omits them.
func (c *openAIClient) recordUsage(u openaigo.Usage, promptText, completionText string) Usage {
	usage := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.PromptTokens = estimateTokens(c.model, promptText)
		usage.CompletionTokens = estimateTokens(c.model, completionText)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	usage.EstimatedCostUSD = calculateCost(usage.PromptTokens, usage.CompletionTokens)

	if usage.TotalTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(usage.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(usage.CompletionTokens))
		if usage.EstimatedCostUSD > 0 {
			aiEstimatedCostUSD.With(prometheus.Labels{"model": c.model}).Add(usage.EstimatedCostUSD)
		}
	}
	return usage
}

// estimateTokens approximates token counts for models whose API does not
// report usage. Falls back to the cl100k_base encoding for non-OpenAI
// model names.
func estimateTokens(model, text string) int {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0
		}
	}
	return len(tke.Encode(text, nil, nil))
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(f float64) *float64 { return &f }

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int { return &i }

// --- Factory ---

// NewClient creates an AI client implementation based on the configuration.
func NewClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
		openaiConfig.BaseURL = cfg.AIBaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AIVisionTimeout}
		client := openaigo.NewClientWithConfig(openaiConfig)
		logger.Info("OpenAI client created",
			zap.String("baseURL", cfg.AIBaseURL),
			zap.String("model", cfg.AIModel),
			zap.String("visionModel", cfg.AIVisionModel))
		return &openAIClient{
			client:      client,
			model:       cfg.AIModel,
			visionModel: cfg.AIVisionModel,
			logger:      logger.Named("OpenAIClient"),
		}, nil
	case "ollama":
		logger.Info("Using Ollama AI client implementation")
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown AI client type: '%s'", cfg.AIClientType)
	}
}
