package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider defines the interface for chat inference backends.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// StreamChat issues a streaming chat completion. Deltas arrive on the
	// returned channel as they are read from the wire; the final chunk
	// carries either the generation statistics (Done) or an error. The
	// channel is closed without a Done chunk when ctx is cancelled.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// Models returns the models available on the backend.
	Models(ctx context.Context) ([]Model, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) bool
}

// Message is a single chat turn as sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the generation parameters shared by all providers.
type ChatOptions struct {
	Temperature   float32
	ContextLength int
	TopP          float32
}

// ChatRequest is a fully built streaming chat request: the system message
// comes first, followed by the windowed history in chronological order.
type ChatRequest struct {
	Model    string
	Messages []Message
	Options  ChatOptions
}

// StreamChunk is one increment of a streaming response. Exactly one of
// Delta, Done or Err is meaningful per chunk.
type StreamChunk struct {
	Delta string
	Done  bool
	Stats *GenerationStats
	Err   error
}

// GenerationStats describes the most recently completed stream. Never
// persisted.
type GenerationStats struct {
	PromptTokens   int
	ResponseTokens int
	Duration       time.Duration
}

// TokensPerSecond derives the generation throughput.
func (s GenerationStats) TokensPerSecond() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.ResponseTokens) / secs
}

// Model describes one model available on the inference backend.
type Model struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// DisplayName strips the tag suffix ("llama3:8b" -> "llama3").
func (m Model) DisplayName() string {
	name, _, _ := strings.Cut(m.Name, ":")
	return name
}

// SizeHuman formats the model size for display.
func (m Model) SizeHuman() string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(m.Size)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, units[i])
}
