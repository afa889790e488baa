package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/rolechat/rolechat-core/internal/providers"
)

// OpenAICompatibleProvider implements providers.Provider against servers
// that speak the OpenAI chat-completions protocol (LM Studio, llama.cpp,
// vLLM, ...). It lets the chat service target such a backend through the
// same registry as the native Ollama provider.
type OpenAICompatibleProvider struct {
	name   string
	client *openai.Client
}

// New creates a provider for an OpenAI-compatible base URL. The API key is
// optional; local servers usually ignore it.
func New(name, baseURL, apiKey string) (*OpenAICompatibleProvider, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required for OpenAI-compatible provider")
	}
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"

	return &OpenAICompatibleProvider{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
	}, nil
}

// Name returns the provider name.
func (p *OpenAICompatibleProvider) Name() string {
	return p.name
}

// StreamChat performs a streaming completion. The OpenAI stream protocol
// does not report token usage, so the terminal statistics only carry the
// wall-clock duration.
func (p *OpenAICompatibleProvider) StreamChat(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	chunks := make(chan providers.StreamChunk)

	go func() {
		defer close(chunks)
		start := time.Now()

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Options.Temperature,
			Stream:      true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.emit(ctx, chunks, providers.StreamChunk{Err: fmt.Errorf("open stream: %w", err)})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				p.emit(ctx, chunks, providers.StreamChunk{
					Done:  true,
					Stats: &providers.GenerationStats{Duration: time.Since(start)},
				})
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.emit(ctx, chunks, providers.StreamChunk{Err: fmt.Errorf("read stream: %w", err)})
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !p.emit(ctx, chunks, providers.StreamChunk{Delta: delta}) {
					return
				}
			}
		}
	}()

	return chunks, nil
}

func (p *OpenAICompatibleProvider) emit(ctx context.Context, ch chan<- providers.StreamChunk, chunk providers.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Models lists the models exposed by the /v1/models endpoint.
func (p *OpenAICompatibleProvider) Models(ctx context.Context) ([]providers.Model, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]providers.Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, providers.Model{Name: m.ID})
	}
	return models, nil
}

// Ping reports whether the backend answers the models endpoint.
func (p *OpenAICompatibleProvider) Ping(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}
