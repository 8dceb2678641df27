package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"ragdex/internal/domain"
)

func sseChunk(t *testing.T, content string) string {
	t.Helper()
	chunk := map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion.chunk",
		"model":  "test-model",
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{"content": content}},
		},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

func streamingServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["stream"] != true {
			t.Error("expected stream=true in request")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frag := range fragments {
			fmt.Fprint(w, sseChunk(t, frag))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func collectStream(t *testing.T, stream domain.GenerationStream) string {
	t.Helper()
	defer stream.Close()

	var full string
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		full += frag
	}
}

func TestGenerator_Generate(t *testing.T) {
	server := streamingServer(t, []string{"Hello", ", ", "world"})
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	stream, err := gen.Generate(context.Background(), "greet me", "some context")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got := collectStream(t, stream); got != "Hello, world" {
		t.Errorf("expected %q, got %q", "Hello, world", got)
	}
}

func TestGenerator_PromptIncludesContext(t *testing.T) {
	var userContent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		for _, m := range req.Messages {
			if m.Role == "user" {
				userContent = m.Content
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(t, "ok"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	stream, err := gen.Generate(context.Background(), "what is X?", "X is a thing")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	collectStream(t, stream)

	expected := "Context:\nX is a thing\n\nQuestion: what is X?"
	if userContent != expected {
		t.Errorf("expected user content %q, got %q", expected, userContent)
	}
}

func TestGenerator_EmptyContextSendsBareQuery(t *testing.T) {
	var userContent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, m := range req.Messages {
			if m.Role == "user" {
				userContent = m.Content
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(t, "ok"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	stream, err := gen.Generate(context.Background(), "what is X?", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	collectStream(t, stream)

	if userContent != "what is X?" {
		t.Errorf("expected bare query, got %q", userContent)
	}
}

func TestGenerator_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "model overloaded",
				"type":    "server_error",
			},
		})
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	_, err := gen.Generate(context.Background(), "hello", "")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !errors.Is(err, domain.ErrGenerationProvider) {
		t.Errorf("expected ErrGenerationProvider, got %v", err)
	}
}
