package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts    = 7
	retryBaseDelay = 2 * time.Second
	rateLimitFloor = 5 * time.Second

	// requestTimeout is generous because local providers (Ollama,
	// LM Studio) may load a model on first request, but bounded so a
	// stalled connection cannot hang a worker.
	requestTimeout = 120 * time.Second
)

// restClient talks to any OpenAI-compatible HTTP API. It carries the
// retry policy shared by every provider: exponential backoff on
// transient failures, a higher floor plus Retry-After on rate limits,
// and an optional process-wide gate on chat calls.
type restClient struct {
	cfg  Config
	http *http.Client
}

func newRESTClient(cfg Config) restClient {
	return restClient{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// NewOpenAICompat creates a generic OpenAI-compatible provider for any
// base URL.
func NewOpenAICompat(cfg Config) Provider {
	return &openAICompatProvider{base: newRESTClient(cfg)}
}

type openAICompatProvider struct {
	base restClient
}

func (p *openAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *openAICompatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

// Wire shapes.

type chatPayload struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	Temperature    float64     `json:"temperature,omitempty"`
	MaxTokens      int         `json:"max_tokens,omitempty"`
	ResponseFormat *jsonFormat `json:"response_format,omitempty"`
}

type jsonFormat struct {
	Type string `json:"type"`
}

type chatReply struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embedPayload struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedReply struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c restClient) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.cfg.Gate != nil {
		if err := c.cfg.Gate.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.cfg.Gate.Release()
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	payload := chatPayload{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		payload.ResponseFormat = &jsonFormat{Type: "json_object"}
	}

	var reply chatReply
	if err := c.post(ctx, "/v1/chat/completions", payload, &reply); err != nil {
		return nil, err
	}
	if len(reply.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := reply.Choices[0]
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            reply.Model,
		FinishReason:     choice.FinishReason,
		PromptTokens:     reply.Usage.PromptTokens,
		CompletionTokens: reply.Usage.CompletionTokens,
		TotalTokens:      reply.Usage.TotalTokens,
	}, nil
}

func (c restClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var reply embedReply
	if err := c.post(ctx, "/v1/embeddings", embedPayload{Model: c.cfg.Model, Input: texts}, &reply); err != nil {
		return nil, err
	}

	// Index-ordered regardless of response order.
	out := make([][]float32, len(texts))
	for _, d := range reply.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// post runs the request/retry loop and decodes the successful body into
// reply. Transient failures back off and retry; permanent failures and
// context cancellation return immediately.
func (c restClient) post(ctx context.Context, path string, payload, reply any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, wait, err := c.send(ctx, url, body, attempt)
		if err == nil {
			if err := json.Unmarshal(data, reply); err != nil {
				return fmt.Errorf("decoding response from %s: %w", url, err)
			}
			return nil
		}
		if wait < 0 {
			return err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		slog.Warn("llm: request failed, backing off",
			"url", url,
			"attempt", attempt,
			"delay", wait,
			"error", err,
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

// send performs one POST. The returned duration is how long to wait
// before the next attempt; negative means the failure is permanent.
func (c restClient) send(ctx context.Context, url string, body []byte, attempt int) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	backoff := retryBaseDelay * time.Duration(1<<(attempt-1))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		return nil, backoff, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backoff, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return data, 0, nil
	}

	err = fmt.Errorf("LLM API error %d: %s", resp.StatusCode, data)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, c.rateLimitDelay(resp.Header.Get("Retry-After"), attempt), err
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, backoff, err
	}
	return nil, -1, err
}

// rateLimitDelay escalates from a higher floor than ordinary backoff
// and honors a larger server-provided Retry-After.
func (c restClient) rateLimitDelay(retryAfter string, attempt int) time.Duration {
	delay := rateLimitFloor * time.Duration(1<<(attempt-1))
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		if header := time.Duration(seconds) * time.Second; header > delay {
			delay = header
		}
	}
	return delay
}
