// Package llm wraps an OpenAI-compatible chat completion API behind a
// one-method interface so pipeline stages can be tested with fakes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable wraps any provider failure so callers can classify it
// without knowing the SDK's error types.
var ErrUnavailable = errors.New("llm unavailable")

// Request is one completion call. When JSONOnly is set the provider is
// asked for a JSON object response.
type Request struct {
	System      string
	User        string
	JSONOnly    bool
	MaxTokens   int
	Temperature float32
}

// Client is the completion interface the pipeline depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Usage aggregates token spend across a process lifetime.
type Usage struct {
	Calls            uint64
	PromptTokens     uint64
	CompletionTokens uint64
}

// OpenAI is the production Client over go-openai. BaseURL may point at any
// compatible gateway.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *log.Logger

	calls     atomic.Uint64
	promptTok atomic.Uint64
	complTok  atomic.Uint64
}

func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration, logger *log.Logger) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, timeout: timeout, logger: logger}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choice list", ErrUnavailable)
	}

	o.calls.Add(1)
	o.promptTok.Add(uint64(resp.Usage.PromptTokens))
	o.complTok.Add(uint64(resp.Usage.CompletionTokens))
	o.logger.Printf("completion model=%s tokens=%d/%d took=%s",
		o.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start).Round(time.Millisecond))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAI) Usage() Usage {
	return Usage{
		Calls:            o.calls.Load(),
		PromptTokens:     o.promptTok.Load(),
		CompletionTokens: o.complTok.Load(),
	}
}

// StripFences removes a markdown code fence around a JSON payload; models
// add one even when asked not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
