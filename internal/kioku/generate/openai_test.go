package generate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bdobrica/Kioku/internal/kioku/generate"
)

// buildOAIResponse builds a minimal OpenAI-style response body whose single
// choice message has the given content string.
func buildOAIResponse(content string) []byte {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type choice struct {
		Message      msg    `json:"message"`
		FinishReason string `json:"finish_reason"`
	}
	type resp struct {
		Model   string   `json:"model"`
		Choices []choice `json:"choices"`
	}
	data, _ := json.Marshal(resp{Model: "test-model", Choices: []choice{{
		Message:      msg{Role: "assistant", Content: content},
		FinishReason: "stop",
	}}})
	return data
}

func TestOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-test" || len(req.Messages) != 1 || req.Messages[0].Content != "the prompt" {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.MaxTokens != 800 {
			t.Errorf("max_tokens: got %d, want 800", req.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(buildOAIResponse("  안녕하세요!  "))
	}))
	defer srv.Close()

	g := generate.NewOpenAI(generate.Config{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "gpt-test"})
	reply, err := g.Generate(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Text != "안녕하세요!" {
		t.Errorf("text: got %q", reply.Text)
	}
	if reply.Model != "test-model" || reply.FinishReason != "stop" {
		t.Errorf("unexpected reply metadata: %+v", reply)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	_, err := generate.NewOpenAI(generate.Config{BaseURL: srv.URL}).Generate(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestOpenAI_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildOAIResponse("   "))
	}))
	defer srv.Close()

	_, err := generate.NewOpenAI(generate.Config{BaseURL: srv.URL}).Generate(context.Background(), "p")
	if !errors.Is(err, generate.ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := generate.NewOpenAI(generate.Config{BaseURL: srv.URL}).Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAI_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := generate.NewOpenAI(generate.Config{BaseURL: srv.URL}).Generate(ctx, "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	var g generate.Generator = generate.Unavailable{}
	if _, err := g.Generate(context.Background(), "p"); !errors.Is(err, generate.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
