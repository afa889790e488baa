package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rolechat/rolechat-core/internal/providers"
)

// DefaultBaseURL is where a locally installed Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

const maxLineSize = 1 << 20

// Provider implements providers.Provider against the native Ollama HTTP
// API: GET /api/tags for models and POST /api/chat for the NDJSON
// completion stream.
type Provider struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// New creates an Ollama provider. The HTTP client only bounds connection
// setup; the response body has no overall deadline because a generation can
// legitimately stream for minutes.
func New(baseURL string) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 120 * time.Second,
			},
		},
		log: logrus.WithField("provider", "ollama"),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "Ollama"
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []providers.Message `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  chatOptions         `json:"options"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
	TopP        float32 `json:"top_p,omitempty"`
	// -1 lets Ollama spread the model across all available GPUs.
	NumGPU int `json:"num_gpu"`
}

type chatResponse struct {
	Model           string            `json:"model"`
	CreatedAt       string            `json:"created_at"`
	Message         providers.Message `json:"message"`
	Done            bool              `json:"done"`
	TotalDuration   int64             `json:"total_duration,omitempty"`
	LoadDuration    int64             `json:"load_duration,omitempty"`
	PromptEvalCount int               `json:"prompt_eval_count,omitempty"`
	EvalCount       int               `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []providers.Model `json:"models"`
}

// StreamChat issues the streaming POST and yields one chunk per non-empty
// content fragment. Lines that fail to parse are skipped so a garbled line
// cannot kill the rest of the response. Cancellation is observed between
// line reads; the channel then closes without a Done chunk.
func (p *Provider) StreamChat(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Options: chatOptions{
			Temperature: req.Options.Temperature,
			NumCtx:      req.Options.ContextLength,
			TopP:        req.Options.TopP,
			NumGPU:      -1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	chunks := make(chan providers.StreamChunk)

	go func() {
		defer close(chunks)
		start := time.Now()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			p.emit(ctx, chunks, providers.StreamChunk{Err: fmt.Errorf("create request: %w", err)})
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.emit(ctx, chunks, providers.StreamChunk{Err: fmt.Errorf("send request: %w", err)})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			p.emit(ctx, chunks, providers.StreamChunk{Err: fmt.Errorf("ollama: %s: %s", resp.Status, strings.TrimSpace(string(msg)))})
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var chatResp chatResponse
			if err := json.Unmarshal(line, &chatResp); err != nil {
				p.log.WithError(err).Debug("skipping unparseable stream line")
				continue
			}

			if chatResp.Message.Content != "" {
				if !p.emit(ctx, chunks, providers.StreamChunk{Delta: chatResp.Message.Content}) {
					return
				}
			}

			if chatResp.Done {
				p.emit(ctx, chunks, providers.StreamChunk{
					Done: true,
					Stats: &providers.GenerationStats{
						PromptTokens:   chatResp.PromptEvalCount,
						ResponseTokens: chatResp.EvalCount,
						Duration:       time.Since(start),
					},
				})
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			p.emit(ctx, chunks, providers.StreamChunk{Err: fmt.Errorf("read stream: %w", err)})
		}
	}()

	return chunks, nil
}

// emit sends a chunk unless the consumer is gone.
func (p *Provider) emit(ctx context.Context, ch chan<- providers.StreamChunk, chunk providers.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Models lists the models installed on the backend via /api/tags.
func (p *Provider) Models(ctx context.Context) ([]providers.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: %s", resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return tags.Models, nil
}

// Ping reports whether the backend answers the tags endpoint. Used as the
// lightweight liveness probe.
func (p *Provider) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}
