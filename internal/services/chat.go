package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rolechat/rolechat-core/internal/config"
	"github.com/rolechat/rolechat-core/internal/providers"
	"github.com/rolechat/rolechat-core/internal/repository"
)

// internetRestriction is appended to the system prompt when the settings
// disable internet access for the character.
const internetRestriction = "\n\n=== INTERNET RESTRICTION ===\n" +
	"You do NOT have access to the internet. You cannot search online or access URLs.\n" +
	"Use ONLY your internal knowledge. If asked about recent events, say you don't have access to current information."

// Reply is one increment of an in-flight chat exchange as seen by the UI.
type Reply struct {
	Delta string
	Done  bool
	Stats *providers.GenerationStats
	Err   error
}

// ChatService ties the stores and the inference backend together: it
// windows the conversation history, streams the assistant reply and commits
// it to the session store once the stream completes. Partial replies are
// discarded on cancellation or mid-stream failure; persisting them is the
// UI's call to make explicitly.
type ChatService struct {
	characters repository.CharacterRepository
	sessions   repository.SessionRepository
	registry   *providers.Registry
	settings   *config.Settings

	mu        sync.Mutex
	lastStats *providers.GenerationStats

	log *logrus.Entry
}

// NewChatService creates the chat orchestrator.
func NewChatService(characters repository.CharacterRepository, sessions repository.SessionRepository, registry *providers.Registry, settings *config.Settings) *ChatService {
	return &ChatService{
		characters: characters,
		sessions:   sessions,
		registry:   registry,
		settings:   settings,
		log:        logrus.WithField("service", "chat"),
	}
}

// BuildMessages assembles the request message list: the character's system
// prompt first (with the internet-restriction clause when applicable),
// then the last MaxConversationHistory messages in chronological order.
// Older messages are dropped, not summarized.
func (s *ChatService) BuildMessages(c *repository.Character, history []repository.ChatMessage) []providers.Message {
	system := c.SystemPrompt()
	if !s.settings.AllowInternetAccess {
		system += internetRestriction
	}

	window := history
	if max := s.settings.MaxConversationHistory; max > 0 && len(window) > max {
		window = window[len(window)-max:]
	}

	messages := make([]providers.Message, 0, len(window)+1)
	messages = append(messages, providers.Message{Role: repository.RoleSystem, Content: system})
	for _, msg := range window {
		messages = append(messages, providers.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

// SendMessage appends the user's text to the character's session (starting
// or restoring the session as needed) and streams the assistant reply. The
// reply is committed to the session store only when the stream signals
// completion; on cancellation or error the accumulated draft is dropped.
func (s *ChatService) SendMessage(ctx context.Context, characterID, text string) (<-chan Reply, error) {
	character, ok := s.characters.Get(characterID)
	if !ok {
		return nil, fmt.Errorf("character not found: %s", characterID)
	}

	provider := s.registry.Default()
	if provider == nil {
		return nil, fmt.Errorf("no inference provider registered")
	}

	if current := s.sessions.Current(); current == nil || current.CharacterID != character.ID {
		s.sessions.StartSession(character, s.settings.SelectedModel)
	}

	if err := s.sessions.AddMessage(repository.NewChatMessage(repository.RoleUser, text)); err != nil {
		return nil, err
	}

	history := append([]repository.ChatMessage(nil), s.sessions.Current().Messages...)
	req := providers.ChatRequest{
		Model:    s.settings.SelectedModel,
		Messages: s.BuildMessages(character, history),
		Options: providers.ChatOptions{
			Temperature:   s.settings.Temperature,
			ContextLength: s.settings.ContextLength,
		},
	}

	chunks, err := provider.StreamChat(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Reply)
	go s.consume(ctx, chunks, out)
	return out, nil
}

// consume drains the provider stream, accumulating the draft reply and
// deciding its fate: committed on completion, discarded otherwise.
func (s *ChatService) consume(ctx context.Context, chunks <-chan providers.StreamChunk, out chan<- Reply) {
	defer close(out)

	var draft strings.Builder
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			s.log.WithError(chunk.Err).Warn("chat stream failed")
			s.forward(ctx, out, Reply{Err: chunk.Err})
			return

		case chunk.Done:
			if draft.Len() > 0 {
				if err := s.sessions.AddMessage(repository.NewChatMessage(repository.RoleAssistant, draft.String())); err != nil {
					s.log.WithError(err).Warn("failed to commit assistant reply")
				}
			}
			s.setLastStats(chunk.Stats)
			s.forward(ctx, out, Reply{Done: true, Stats: chunk.Stats})
			return

		case chunk.Delta != "":
			draft.WriteString(chunk.Delta)
			if !s.forward(ctx, out, Reply{Delta: chunk.Delta}) {
				return
			}
		}
	}
	// Provider channel closed without a terminal chunk: the stream was
	// cancelled. The draft is intentionally dropped.
	if ctx.Err() != nil && draft.Len() > 0 {
		s.log.WithField("discarded", draft.Len()).Debug("stream cancelled, partial reply dropped")
	}
}

func (s *ChatService) forward(ctx context.Context, out chan<- Reply, r Reply) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ChatService) setLastStats(stats *providers.GenerationStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStats = stats
}

// LastStats returns the statistics of the most recently completed stream,
// or nil when none has completed yet.
func (s *ChatService) LastStats() *providers.GenerationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

// DeleteCharacter removes a character together with its conversation
// session; sessions never outlive their owning character.
func (s *ChatService) DeleteCharacter(id string) {
	s.characters.Delete(id)
	s.sessions.DeleteCharacterSession(id)
}

// Models lists the models available on the default backend.
func (s *ChatService) Models(ctx context.Context) ([]providers.Model, error) {
	provider := s.registry.Default()
	if provider == nil {
		return nil, fmt.Errorf("no inference provider registered")
	}
	return provider.Models(ctx)
}

// Ping reports whether the default backend is reachable.
func (s *ChatService) Ping(ctx context.Context) bool {
	provider := s.registry.Default()
	return provider != nil && provider.Ping(ctx)
}
