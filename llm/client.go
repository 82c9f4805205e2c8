package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/middesurya/metalquery/types"
)

// Config holds the configuration for an OpenAI-compatible SQL generator.
type Config struct {
	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL is the provider base URL, e.g. "https://api.groq.com/openai".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model is the chat model used for SQL generation.
	Model string `yaml:"model" json:"model"`

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxOutputTokens bounds the completion size.
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens"`

	// RequestsPerSecond paces outbound calls. Defaults to 0.5 (one call
	// every two seconds) when zero.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// Client is an OpenAI-compatible chat client specialized to SQL generation.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a generator client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 256
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 0.5
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With(zap.String("component", "sql_generator")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateSQL drafts SQL for the question. The call waits on the pacing
// limiter first, so bursts from the pipeline spread out instead of tripping
// the provider's limits.
func (c *Client) GenerateSQL(ctx context.Context, question, schemaContext string) (GenerateResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return GenerateResult{}, types.NewError(types.ErrUpstreamTimeout, "rate pacing interrupted").WithCause(err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(question, schemaContext)},
		},
		Temperature: 0.0,
		MaxTokens:   c.cfg.MaxOutputTokens,
	})
	if err != nil {
		return GenerateResult{}, types.NewError(types.ErrInternalError, "encode chat request").WithCause(err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, types.NewError(types.ErrInternalError, "build chat request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return GenerateResult{}, types.NewError(types.ErrUpstreamError, "chat completion request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GenerateResult{}, types.NewError(types.ErrUpstreamError, "read chat response").WithCause(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return GenerateResult{}, types.NewError(types.ErrRateLimited, "provider rate limit hit").WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return GenerateResult{}, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("chat completion returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerateResult{}, types.NewError(types.ErrUpstreamError, "decode chat response").WithCause(err)
	}
	if parsed.Error != nil {
		return GenerateResult{}, types.NewError(types.ErrUpstreamError, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return GenerateResult{}, types.NewError(types.ErrUpstreamError, "chat completion returned no choices")
	}

	sql := ExtractSQL(parsed.Choices[0].Message.Content)
	c.logger.Debug("sql generated",
		zap.Duration("latency", time.Since(start)),
		zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int("completion_tokens", parsed.Usage.CompletionTokens))

	return GenerateResult{
		SQL:          sql,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
