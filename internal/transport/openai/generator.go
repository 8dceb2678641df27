package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"ragdex/internal/domain"
	"ragdex/internal/metrics"
)

const systemPrompt = `You are a documentation assistant. Answer the question using only the provided context. If the context does not contain the answer, say so plainly instead of guessing.`

// Generator produces answers via an OpenAI-compatible chat completion API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Logger      *zap.Logger
}

// NewGenerator creates an OpenAI-compatible chat completion provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Generate opens a streaming completion for the query grounded on contextText.
func (g *Generator) Generate(ctx context.Context, query, contextText string) (domain.GenerationStream, error) {
	userContent := query
	if contextText != "" {
		userContent = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query)
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	}

	start := time.Now()

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return nil, parseGenerationError(err)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()

	return &completionStream{
		inner:  stream,
		model:  g.model,
		start:  start,
		logger: g.logger,
	}, nil
}

// completionStream adapts the SDK stream to domain.GenerationStream.
type completionStream struct {
	inner  *openai.ChatCompletionStream
	model  string
	start  time.Time
	done   bool
	logger *zap.Logger
}

func (s *completionStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			if !s.done {
				s.done = true
				metrics.GenerationDuration.WithLabelValues(s.model).Observe(time.Since(s.start).Seconds())
			}
			return "", io.EOF
		}
		if err != nil {
			return "", parseGenerationError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *completionStream) Close() error {
	return s.inner.Close()
}

// parseGenerationError wraps API failures with domain.ErrGenerationProvider.
func parseGenerationError(err error) error {
	wrap := domain.ErrGenerationProvider

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("completion API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("completion API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("completion request failed: %w", wrap)
}
