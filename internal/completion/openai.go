package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration // per call; zero means no extra bound beyond ctx
	RequestsPerSecond float64       // zero disables rate limiting
}

// OpenAIModel is a Model backed by an OpenAI-compatible chat API.
// Responses are requested in JSON object mode.
//
// Thread-safety: safe for concurrent use.
type OpenAIModel struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIModel creates an OpenAIModel. A nil logger means slog.Default().
func NewOpenAIModel(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	logger.Info("initializing completion model", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIModel{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Generate implements Model.
func (m *OpenAIModel) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessage
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	req := openai.ChatCompletionRequest{
		Model:       m.cfg.Model,
		Messages:    messages,
		Temperature: m.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if m.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = m.cfg.MaxTokens
	}

	m.logger.Debug("generating completion", "purpose", p.Purpose, "key", p.Key, "model", m.cfg.Model)
	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		m.logger.Warn("completion call failed", "purpose", p.Purpose, "key", p.Key, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	m.logger.Debug("received completion",
		"purpose", p.Purpose,
		"key", p.Key,
		"finish_reason", resp.Choices[0].FinishReason,
		"duration", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}
