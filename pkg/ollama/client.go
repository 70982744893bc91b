// Package ollama is a client for an Ollama-compatible text generation backend.
//
// Transport failures are reported as ErrBackendUnavailable; non-success HTTP
// statuses as *GenerationError. Every call takes a context, so callers that
// hold a cancellable context can abort an in-flight request.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	// Upper bound on one NDJSON stream line. Model show output and pull
	// progress stay well under this.
	maxStreamLineSize = 1024 * 1024

	initialScanBufferSize = 64 * 1024

	maxErrorBodySize = 32 * 1024
)

// Client talks to one generation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the backend at baseURL. Request timeouts are
// governed by the passed context per call; the transport itself imposes none.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger.With("module", "ollama_client", "base_url", baseURL),
	}
}

// NewClientWithHTTP creates a client using the given HTTP client, letting the
// caller set transport-level timeouts.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With("module", "ollama_client", "base_url", baseURL),
	}
}

// ListModels returns the models installed on the backend.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var result []Model
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// HasModel reports whether the named model is installed. Backend errors are
// treated as "not installed" rather than surfaced.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}

	for _, model := range models {
		if model.Name == name {
			return true
		}
	}

	return false
}

// Generate issues a single non-streaming completion call.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*GenerateResponse, error) {
	req := generateRequest{
		Model:  opts.Model,
		Prompt: opts.Prompt,
		System: opts.System,
		Options: requestOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
		Stream: false,
		Format: opts.Format,
	}

	var result GenerateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// GenerateStream issues a streaming completion call, invoking fn once per
// backend-reported increment until the backend closes the stream. A non-nil
// error from fn abandons the stream. Not restartable; retry with a new call.
func (c *Client) GenerateStream(ctx context.Context, opts GenerateOptions, fn func(GenerateResponse) error) error {
	req := generateRequest{
		Model:  opts.Model,
		Prompt: opts.Prompt,
		System: opts.System,
		Options: requestOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
		Stream: true,
		Format: opts.Format,
	}

	return c.stream(ctx, "/api/generate", req, func(line []byte) error {
		var chunk GenerateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.WarnContext(ctx, "Failed to parse stream chunk", "error", err)

			return nil
		}

		return fn(chunk)
	})
}

// Chat issues a single non-streaming chat completion call.
func (c *Client) Chat(ctx context.Context, opts ChatOptions) (*ChatResponse, error) {
	req := chatRequest{
		Model:    opts.Model,
		Messages: opts.Messages,
		Options: requestOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
		Stream: false,
		Format: opts.Format,
	}

	var result ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ChatStream is the streaming variant of Chat, with GenerateStream semantics.
func (c *Client) ChatStream(ctx context.Context, opts ChatOptions, fn func(ChatResponse) error) error {
	req := chatRequest{
		Model:    opts.Model,
		Messages: opts.Messages,
		Options: requestOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
		Stream: true,
		Format: opts.Format,
	}

	return c.stream(ctx, "/api/chat", req, func(line []byte) error {
		var chunk ChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.WarnContext(ctx, "Failed to parse stream chunk", "error", err)

			return nil
		}

		return fn(chunk)
	})
}

// PullModel downloads a model, invoking onProgress (if non-nil) for each
// backend-reported progress record. Malformed progress lines are skipped; a
// bad line must not abort the pull.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	return c.stream(ctx, "/api/pull", nameRequest{Name: name}, func(line []byte) error {
		if onProgress == nil {
			return nil
		}

		var progress PullProgress
		if err := json.Unmarshal(line, &progress); err != nil {
			return nil
		}

		onProgress(progress)

		return nil
	})
}

// DeleteModel removes a model from the backend.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/delete", nameRequest{Name: name}, nil)
}

// ShowModel returns the backend-defined metadata for a model.
func (c *Client) ShowModel(ctx context.Context, name string) (*ShowResponse, error) {
	var result ShowResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/show", nameRequest{Name: name}, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}

func (c *Client) stream(ctx context.Context, path string, body any, fn func(line []byte) error) error {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, initialScanBufferSize), maxStreamLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading %s stream: %v", ErrBackendUnavailable, path, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", path, err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Backend request failed", "path", path, "error", err)

		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()

		return nil, &GenerationError{
			Status:  resp.StatusCode,
			Message: string(bytes.TrimSpace(message)),
		}
	}

	return resp, nil
}
