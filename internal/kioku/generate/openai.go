package generate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 800
)

// Config configures the OpenAI-compatible generator.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. a local Ollama or any other
	// OpenAI-compatible server. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 60 s.
	Timeout time.Duration

	// MaxTokens caps the reply length. Defaults to 800.
	MaxTokens int

	// Temperature is passed through when non-zero.
	Temperature float64
}

// OpenAI implements Generator on the chat completions API.
type OpenAI struct {
	cfg    Config
	client *http.Client
}

// NewOpenAI returns a Generator backed by the OpenAI (or compatible) chat
// API. The returned generator is safe for concurrent use.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (g *OpenAI) Model() string { return g.cfg.Model }

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Generate sends the prompt as a single user message and returns the first
// choice.
func (g *OpenAI) Generate(ctx context.Context, prompt string) (Reply, error) {
	body := oaiRequest{
		Model:       g.cfg.Model,
		Messages:    []oaiMessage{{Role: "user", Content: prompt}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("generate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return Reply{}, fmt.Errorf("generate: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("generate: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("generate: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return Reply{}, fmt.Errorf("generate: decode API response (HTTP %d): %w", resp.StatusCode, err)
	}
	if oaiResp.Error != nil {
		return Reply{}, fmt.Errorf("generate: API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if resp.StatusCode/100 != 2 {
		return Reply{}, fmt.Errorf("generate: unexpected HTTP status %d", resp.StatusCode)
	}
	if len(oaiResp.Choices) == 0 {
		return Reply{}, fmt.Errorf("generate: no choices returned (HTTP %d)", resp.StatusCode)
	}

	choice := oaiResp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return Reply{}, ErrEmptyReply
	}

	model := oaiResp.Model
	if model == "" {
		model = g.cfg.Model
	}
	return Reply{Text: text, Model: model, FinishReason: choice.FinishReason}, nil
}

var _ Generator = (*OpenAI)(nil)
