package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 4096
	previewLength    = 160
)

// Client is a Generator backed by an OpenAI-compatible chat completions
// API. It never retries on its own; callers decide from the error kind.
type Client struct {
	api             openai.Client
	model           string
	limiter         *rate.Limiter
	tokens          *TokenCounter
	maxPromptTokens int
	logger          *slog.Logger

	baseURL string
	timeout time.Duration
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		if requestsPerMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), max(burst, 1))
		}
	}
}

// WithMaxPromptTokens rejects prompts above n tokens before sending them.
func WithMaxPromptTokens(n int) Option {
	return func(c *Client) {
		c.maxPromptTokens = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "generation_client")
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		model:   DefaultModel,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  slog.Default().With("component", "generation_client"),
		timeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(c.timeout),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	c.api = openai.NewClient(reqOpts...)
	c.tokens = NewTokenCounter(c.model, c.logger)

	c.logger.Debug("generation client initialized",
		"model", c.model,
		"base_url", c.baseURL,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()),
		"max_prompt_tokens", c.maxPromptTokens)
	return c
}

// Generate sends one chat completion request.
func (c *Client) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	requestID := uuid.New().String()
	start := time.Now()

	promptTokens := c.tokens.Count(params.System) + c.tokens.Count(prompt)
	if c.maxPromptTokens > 0 && promptTokens > c.maxPromptTokens {
		c.logger.Error("prompt over budget",
			"request_id", requestID,
			"operation", params.Operation,
			"prompt_tokens", promptTokens,
			"budget", c.maxPromptTokens)
		return "", permanent(fmt.Errorf("%w: %d > %d tokens", ErrPromptTooLarge, promptTokens, c.maxPromptTokens))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", transient(fmt.Errorf("rate limit wait failed: %w", err))
	}

	c.logger.Debug("generation request",
		"request_id", requestID,
		"operation", params.Operation,
		"model", c.model,
		"prompt_tokens", promptTokens,
		"json", params.JSON,
		"prompt_preview", preview(prompt))

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: c.messages(prompt, params),
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	req.MaxCompletionTokens = openai.Int(int64(maxTokens))
	if params.JSON {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.api.Chat.Completions.New(ctx, req)
	duration := time.Since(start)
	if err != nil {
		classified := classify(ctx, err)
		c.logger.Warn("generation request failed",
			"request_id", requestID,
			"operation", params.Operation,
			"duration_ms", duration.Milliseconds(),
			"error", classified)
		return "", classified
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", transient(errors.New("empty completion"))
	}

	c.logger.Info("generation completed",
		"request_id", requestID,
		"operation", params.Operation,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens,
		"finish_reason", completion.Choices[0].FinishReason)
	return completion.Choices[0].Message.Content, nil
}

func (c *Client) messages(prompt string, params Params) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	system := params.System
	if params.JSON {
		system += "\n\nRespond with a single valid JSON object and nothing else."
	}
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	return append(msgs, openai.UserMessage(prompt))
}

// classify maps transport and API failures onto GenerationError. Rate
// limits, timeouts, conflicts and server errors are transient.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return transient(err)
		}
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := Permanent
		switch code := apiErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests, code >= 500:
			kind = Transient
		}
		return &GenerationError{Kind: kind, StatusCode: apiErr.StatusCode, Err: err}
	}
	// Network failures before a response arrived.
	return transient(err)
}

func preview(s string) string {
	if len(s) <= previewLength {
		return s
	}
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
