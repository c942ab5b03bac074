// Package generation turns assembled product context into a structured
// answer through an OpenAI-compatible chat API.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/resilience"
)

// Request is one generation call.
type Request struct {
	Query   string
	Context string
}

// Generator produces a validated structured response.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config holds chat client settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Retry       resilience.RetryPolicy
}

// Client calls chat completions behind a rate limiter and circuit breaker.
type Client struct {
	client *openai.Client
	cfg    Config
	guard  *resilience.Guard
	logger *observability.Logger
}

// NewClient creates a generation client. A nil guard disables rate
// limiting and circuit breaking.
func NewClient(cfg Config, guard *resilience.Guard, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("generation API key is required", nil)
	}
	if cfg.Model == "" {
		return nil, domain.ConfigError("generation model is required", nil)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 900
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		guard:  guard,
		logger: logger.WithOperation("generation"),
	}, nil
}

// Generate asks the model for a structured answer. Output that fails the
// schema is retried once with a stricter prompt, then reported as
// GenerationSchemaError. Transport failures that outlast retries are
// reported as GenerationUnavailable.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	user := BuildUserPrompt(req.Query, req.Context)

	content, err := c.complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, err
	}
	resp, parseErr := ParseResponse(content)
	if parseErr == nil {
		return resp, nil
	}

	c.logger.Warn().Err(parseErr).Msg("Generated output failed schema, retrying with strict prompt")

	content, err = c.complete(ctx, strictSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	resp, parseErr = ParseResponse(content)
	if parseErr != nil {
		c.logger.Error().Err(parseErr).Msg("Generated output failed schema after strict retry")
		return nil, domain.GenerationSchemaError("generated output does not match schema", parseErr)
	}
	return resp, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	var content string
	call := func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return domain.Retryable(errors.New("empty choices in chat response"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	err := resilience.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		if c.guard == nil {
			return call(ctx)
		}
		return c.guard.Do(ctx, call)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("model", c.cfg.Model).Msg("Chat completion failed")
		return "", domain.GenerationUnavailable("chat completion failed", err)
	}
	return content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.ClassifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("chat API error: %w", err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.ClassifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("chat request error: %w", err))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Retryable(fmt.Errorf("chat transport error: %w", err))
}

var _ Generator = (*Client)(nil)
