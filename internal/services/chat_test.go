package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolechat/rolechat-core/internal/config"
	"github.com/rolechat/rolechat-core/internal/crypto"
	"github.com/rolechat/rolechat-core/internal/providers"
	"github.com/rolechat/rolechat-core/internal/providers/ollama"
	"github.com/rolechat/rolechat-core/internal/repository"
	"github.com/rolechat/rolechat-core/internal/repository/encfile"
)

type fixture struct {
	dir        string
	characters *encfile.CharacterStore
	sessions   *encfile.SessionStore
	settings   *config.Settings
	registry   *providers.Registry
	service    *ChatService
}

func newFixture(t *testing.T, backendURL string) *fixture {
	t.Helper()
	dir := t.TempDir()
	codec := crypto.NewCodecFromIdentity("chat-test-machine", "chat-test-iv")

	characters, err := encfile.NewCharacterStore(dir, codec)
	require.NoError(t, err)
	sessions, err := encfile.NewSessionStore(dir, codec)
	require.NoError(t, err)
	settings, err := config.Load(dir)
	require.NoError(t, err)
	settings.SelectedModel = "llama3"

	registry := providers.NewRegistry()
	registry.Register("ollama", ollama.New(backendURL))

	return &fixture{
		dir:        dir,
		characters: characters,
		sessions:   sessions,
		settings:   settings,
		registry:   registry,
		service:    NewChatService(characters, sessions, registry, settings),
	}
}

func collect(t *testing.T, replies <-chan Reply) (deltas []string, done *Reply, errs []error) {
	t.Helper()
	for r := range replies {
		switch {
		case r.Err != nil:
			errs = append(errs, r.Err)
		case r.Done:
			c := r
			done = &c
		case r.Delta != "":
			deltas = append(deltas, r.Delta)
		}
	}
	return deltas, done, errs
}

func TestBuildMessages_WindowsHistory(t *testing.T) {
	f := newFixture(t, "http://localhost:1")
	f.settings.MaxConversationHistory = 10

	luna := repository.NewCharacter("Luna")
	history := make([]repository.ChatMessage, 100)
	for i := range history {
		history[i] = repository.NewChatMessage(repository.RoleUser, fmt.Sprintf("msg-%d", i))
	}

	messages := f.service.BuildMessages(luna, history)

	require.Len(t, messages, 11)
	assert.Equal(t, repository.RoleSystem, messages[0].Role)
	// The most recent 10 messages, still in chronological order.
	assert.Equal(t, "msg-90", messages[1].Content)
	assert.Equal(t, "msg-99", messages[10].Content)
}

func TestBuildMessages_ShortHistoryKeptWhole(t *testing.T) {
	f := newFixture(t, "http://localhost:1")
	f.settings.MaxConversationHistory = 50

	history := []repository.ChatMessage{
		repository.NewChatMessage(repository.RoleUser, "hi"),
		repository.NewChatMessage(repository.RoleAssistant, "hello"),
	}
	messages := f.service.BuildMessages(repository.NewCharacter("Luna"), history)
	require.Len(t, messages, 3)
	assert.Equal(t, "hi", messages[1].Content)
	assert.Equal(t, "hello", messages[2].Content)
}

func TestBuildMessages_InternetRestriction(t *testing.T) {
	f := newFixture(t, "http://localhost:1")
	luna := repository.NewCharacter("Luna")

	f.settings.AllowInternetAccess = false
	system := f.service.BuildMessages(luna, nil)[0].Content
	assert.Contains(t, system, "INTERNET RESTRICTION")
	assert.Contains(t, system, "CHARACTER SHEET")

	f.settings.AllowInternetAccess = true
	system = f.service.BuildMessages(luna, nil)[0].Content
	assert.NotContains(t, system, "INTERNET RESTRICTION")
}

func TestSendMessage_AutoCreatesSessionAndCommitsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"He"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"llo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":false}`)
		fmt.Fprintln(w, `{"done":true,"prompt_eval_count":7,"eval_count":12}`)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	luna := repository.NewCharacter("Luna")
	f.characters.Add(luna)

	// No session has been started: sending must create one implicitly.
	replies, err := f.service.SendMessage(context.Background(), luna.ID, "Hello")
	require.NoError(t, err)

	deltas, done, errs := collect(t, replies)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"He", "llo"}, deltas)
	require.NotNil(t, done)
	assert.Equal(t, 12, done.Stats.ResponseTokens)

	stats := f.service.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 7, stats.PromptTokens)
	assert.Equal(t, 12, stats.ResponseTokens)

	session := f.sessions.Current()
	require.NotNil(t, session)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, repository.RoleUser, session.Messages[0].Role)
	assert.Equal(t, "Hello", session.Messages[0].Content)
	assert.Equal(t, repository.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, "Hello", session.Messages[1].Content)

	// The session file exists and decrypts to JSON carrying the user turn.
	raw, err := os.ReadFile(filepath.Join(f.dir, "conversations", "chat_"+luna.ID+".dat"))
	require.NoError(t, err)
	plain, ok := crypto.NewCodecFromIdentity("chat-test-machine", "chat-test-iv").Decrypt(string(raw))
	require.True(t, ok)
	assert.Contains(t, plain, `"role": "user"`)
	assert.Contains(t, plain, `"content": "Hello"`)
}

func TestSendMessage_CancellationDiscardsPartialReply(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(release)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	luna := repository.NewCharacter("Luna")
	f.characters.Add(luna)

	ctx, cancel := context.WithCancel(context.Background())
	replies, err := f.service.SendMessage(ctx, luna.ID, "Hello")
	require.NoError(t, err)

	first := <-replies
	assert.Equal(t, "partial", first.Delta)
	cancel()
	for range replies {
	}
	<-release

	// Only the user message was committed; the partial assistant text is
	// gone unless the caller re-adds it explicitly.
	session := f.sessions.Current()
	require.NotNil(t, session)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, repository.RoleUser, session.Messages[0].Role)
}

func TestSendMessage_HTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	luna := repository.NewCharacter("Luna")
	f.characters.Add(luna)

	replies, err := f.service.SendMessage(context.Background(), luna.ID, "Hello")
	require.NoError(t, err)

	deltas, done, errs := collect(t, replies)
	assert.Empty(t, deltas)
	assert.Nil(t, done)
	require.Len(t, errs, 1)

	// No assistant message was committed.
	require.Len(t, f.sessions.Current().Messages, 1)
}

func TestSendMessage_UnknownCharacter(t *testing.T) {
	f := newFixture(t, "http://localhost:1")
	_, err := f.service.SendMessage(context.Background(), "nope", "Hello")
	assert.Error(t, err)
}

func TestDeleteCharacter_RemovesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"hi"},"done":false}`)
		fmt.Fprintln(w, `{"done":true,"eval_count":1}`)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	luna := repository.NewCharacter("Luna")
	f.characters.Add(luna)

	replies, err := f.service.SendMessage(context.Background(), luna.ID, "Hello")
	require.NoError(t, err)
	collect(t, replies)

	f.service.DeleteCharacter(luna.ID)

	_, ok := f.characters.Get(luna.ID)
	assert.False(t, ok)
	assert.Empty(t, f.sessions.ListSessions())
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	}))
	f := newFixture(t, srv.URL)
	assert.True(t, f.service.Ping(context.Background()))

	srv.Close()
	assert.False(t, f.service.Ping(context.Background()))
}
