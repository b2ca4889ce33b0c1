// Package generation is the HTTP client for the external text-generation
// and embedding service.
//
// Every call site expects a specific JSON response shape; output that fails
// strict parsing fails the whole operation so partially parsed structures
// never propagate into the journal.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultResponsesURL  = "https://api.openai.com/v1/responses"
	defaultEmbeddingsURL = "https://api.openai.com/v1/embeddings"
)

// Message is one chat-style message in a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures the generation endpoints and HTTP behavior.
type Config struct {
	ResponsesURL   string
	EmbeddingsURL  string
	APIKey         string
	Model          string
	EmbeddingModel string
	HTTPClient     *http.Client
}

// Client calls the generation service over HTTP.
type Client struct {
	cfg Config
}

// NewClient builds a generation client with endpoint defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = defaultResponsesURL
	}
	if strings.TrimSpace(cfg.EmbeddingsURL) == "" {
		cfg.EmbeddingsURL = defaultEmbeddingsURL
	}
	return &Client{cfg: cfg}
}

// invoke posts messages to the responses endpoint and returns the raw output
// text of the completion.
func (c *Client) invoke(ctx context.Context, messages []Message) (string, error) {
	model := strings.TrimSpace(c.cfg.Model)
	if model == "" {
		return "", fmt.Errorf("model is required")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("messages are required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"model": model,
		"input": messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal invoke request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is
	// never echoed in errors or response payloads.
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return "", fmt.Errorf("read invoke error body: %w", readErr)
		}
		return "", fmt.Errorf("invoke request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode invoke response: %w", err)
	}
	outputText := strings.TrimSpace(payload.OutputText)
	if outputText == "" {
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" {
					outputText = strings.TrimSpace(content.Text)
					break
				}
			}
			if outputText != "" {
				break
			}
		}
	}
	if outputText == "" {
		return "", fmt.Errorf("invoke response missing output text")
	}
	return outputText, nil
}

// Embed posts text to the embeddings endpoint and returns the vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	model := strings.TrimSpace(c.cfg.EmbeddingModel)
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is required")
	}

	requestBody, err := json.Marshal(map[string]any{
		"model": model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.EmbeddingsURL, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return nil, fmt.Errorf("read embedding error body: %w", readErr)
		}
		return nil, fmt.Errorf("embedding request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(payload.Data) == 0 || len(payload.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response missing vector")
	}
	return payload.Data[0].Embedding, nil
}
