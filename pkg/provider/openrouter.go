package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adamd9/thelastquiz/pkg/config"
	"github.com/adamd9/thelastquiz/pkg/quiz"
	"github.com/sirupsen/logrus"
)

// retryBaseDelay is the initial backoff between transient-error attempts;
// it doubles per attempt.
const retryBaseDelay = 500 * time.Millisecond

// Client talks to an OpenRouter-compatible chat completions endpoint.
type Client struct {
	log        logrus.FieldLogger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
}

// Compile-time interface check.
var _ Dispatcher = (*Client)(nil)

// NewClient creates a provider client from configuration. The http.Client
// carries no timeout of its own; every call is bounded by a per-attempt
// context deadline instead.
func NewClient(log logrus.FieldLogger, cfg *config.ProviderConfig) *Client {
	return &Client{
		log:        log.WithField("component", "provider"),
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code,omitempty"`
	} `json:"error,omitempty"`
}

// Ask sends one question to one model, retrying transient failures within
// the attempt budget. Cancelling ctx aborts the in-flight request and any
// remaining backoff immediately.
func (c *Client) Ask(
	ctx context.Context,
	modelID string,
	question *quiz.Question,
	opts AskOptions,
) (*Answer, error) {
	body, err := json.Marshal(chatRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "user", Content: renderPrompt(question, opts)},
		},
		Temperature: opts.Settings.Temperature,
		MaxTokens:   opts.Settings.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	timeout := opts.Settings.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	started := time.Now()

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)

			c.log.WithFields(logrus.Fields{
				"model":   modelID,
				"attempt": attempt + 1,
				"delay":   delay,
			}).Debug("Retrying provider call")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, c.classifyCtx(ctx, modelID)
			}
		}

		answer, err := c.once(ctx, modelID, body, timeout)
		if err == nil {
			answer.Latency = time.Since(started)

			return answer, nil
		}

		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) || !perr.Transient() {
			return nil, err
		}
	}

	return nil, lastErr
}

// once performs a single bounded request/response cycle.
func (c *Client) once(
	ctx context.Context,
	modelID string,
	body []byte,
	timeout time.Duration,
) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, modelID, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Kind:      KindUnavailable,
			ModelID:   modelID,
			Message:   fmt.Sprintf("reading response: %v", err),
			transient: true,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(modelID, resp.StatusCode, payload)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, &Error{
			Kind:    KindMalformed,
			ModelID: modelID,
			Message: fmt.Sprintf("decoding response: %v", err),
		}
	}

	if parsed.Error != nil {
		return nil, &Error{
			Kind:    KindUnavailable,
			ModelID: modelID,
			Message: parsed.Error.Message,
		}
	}

	if len(parsed.Choices) == 0 {
		return nil, &Error{
			Kind:    KindMalformed,
			ModelID: modelID,
			Message: "response contains no choices",
		}
	}

	answer := parseAnswer(parsed.Choices[0].Message.Content)
	answer.Thoughts = firstNonEmpty(answer.Thoughts, parsed.Choices[0].Message.Reasoning)
	answer.PromptTokens = parsed.Usage.PromptTokens
	answer.CompletionTokens = parsed.Usage.CompletionTokens

	return answer, nil
}

// classifyTransport maps transport-level failures to provider errors.
func (c *Client) classifyTransport(ctx context.Context, modelID string, err error) error {
	if ctx.Err() != nil {
		return c.classifyCtx(ctx, modelID)
	}

	return &Error{
		Kind:      KindUnavailable,
		ModelID:   modelID,
		Message:   err.Error(),
		transient: true,
	}
}

// classifyCtx distinguishes a call that hit its deadline from one whose
// run was aborted by the caller.
func (c *Client) classifyCtx(ctx context.Context, modelID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Kind:    KindTimeout,
			ModelID: modelID,
			Message: "call exceeded timeout",
		}
	}

	return ctx.Err()
}

// classifyStatus maps a non-200 HTTP status to a provider error.
func classifyStatus(modelID string, status int, payload []byte) *Error {
	message := strings.TrimSpace(string(payload))
	if len(message) > 512 {
		message = message[:512]
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			ModelID:    modelID,
			StatusCode: status,
			Message:    message,
			transient:  true,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{
			Kind:       KindAuth,
			ModelID:    modelID,
			StatusCode: status,
			Message:    message,
		}
	case status == http.StatusNotFound:
		return &Error{
			Kind:       KindUnavailable,
			ModelID:    modelID,
			StatusCode: status,
			Message:    message,
		}
	case status >= 500:
		return &Error{
			Kind:       KindUnavailable,
			ModelID:    modelID,
			StatusCode: status,
			Message:    message,
			transient:  true,
		}
	default:
		return &Error{
			Kind:       KindMalformed,
			ModelID:    modelID,
			StatusCode: status,
			Message:    message,
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
