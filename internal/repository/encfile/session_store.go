package encfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rolechat/rolechat-core/internal/crypto"
	"github.com/rolechat/rolechat-core/internal/repository"
)

const (
	sessionPrefix = "chat_"
	sessionExt    = ".dat"
)

// SessionStore implements repository.SessionRepository with one encrypted
// JSON file per character (chat_<characterId>.dat). A single session is
// active at a time; every mutation rewrites the whole session file. An
// in-memory session-id index, maintained alongside each write and decode,
// lets DeleteSession avoid the full directory scan in the common case.
type SessionStore struct {
	dir   string
	codec *crypto.Codec

	mu      sync.Mutex
	current *repository.ConversationSession
	index   map[string]string // session id -> file path

	log *logrus.Entry
}

// NewSessionStore creates the store rooted at dataDir/conversations.
func NewSessionStore(dataDir string, codec *crypto.Codec) (*SessionStore, error) {
	dir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SessionStore{
		dir:   dir,
		codec: codec,
		index: make(map[string]string),
		log:   logrus.WithField("store", "sessions"),
	}, nil
}

// StartSession saves the current session, then loads the persisted session
// for the character or seeds an empty one. The returned session is the new
// active session.
func (s *SessionStore) StartSession(c *repository.Character, model string) *repository.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveCurrentLocked()

	if existing := s.readSession(s.sessionPath(c.ID)); existing != nil {
		existing.ModelUsed = model
		s.current = existing
	} else {
		s.current = repository.NewConversationSession(c.ID, c.Name, model)
	}
	return s.current
}

// Current returns the active session, or nil.
func (s *SessionStore) Current() *repository.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AddMessage appends to the active session and persists.
func (s *SessionStore) AddMessage(msg repository.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return repository.ErrNoActiveSession
	}
	msg.CharacterID = s.current.CharacterID
	s.current.Messages = append(s.current.Messages, msg)
	s.current.LastActivity = time.Now()
	s.saveCurrentLocked()
	return nil
}

// EditMessage updates a message's content in the active session; unknown
// ids are a silent no-op.
func (s *SessionStore) EditMessage(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return repository.ErrNoActiveSession
	}
	for i := range s.current.Messages {
		if s.current.Messages[i].ID == id {
			s.current.Messages[i].Content = content
			s.saveCurrentLocked()
			return nil
		}
	}
	return nil
}

// DeleteMessage removes a message from the active session by id.
func (s *SessionStore) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return repository.ErrNoActiveSession
	}
	kept := s.current.Messages[:0]
	for _, m := range s.current.Messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.current.Messages = kept
	s.saveCurrentLocked()
	return nil
}

// ClearSession empties the active session's message log in place.
func (s *SessionStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return repository.ErrNoActiveSession
	}
	s.current.Messages = s.current.Messages[:0]
	s.saveCurrentLocked()
	return nil
}

// SaveCurrent flushes the active session to disk explicitly.
func (s *SessionStore) SaveCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCurrentLocked()
}

// LoadSession adopts an already-decoded session as the active one.
func (s *SessionStore) LoadSession(sess *repository.ConversationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCurrentLocked()
	s.current = sess
}

// ListSessions decodes every persisted session file, skipping any that fail
// to decrypt or decode, newest activity first.
func (s *SessionStore) ListSessions() []*repository.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []*repository.ConversationSession
	for _, path := range s.sessionFiles() {
		if sess := s.readSession(path); sess != nil {
			sessions = append(sessions, sess)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions
}

// DeleteCharacterSession removes the session file owned by a character.
// Used when the character itself is deleted.
func (s *SessionStore) DeleteCharacterSession(characterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(characterID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to delete character session")
		return
	}
	for id, p := range s.index {
		if p == path {
			delete(s.index, id)
		}
	}
	if s.current != nil && s.current.CharacterID == characterID {
		s.current = nil
	}
}

// DeleteSession removes the persisted session whose content matches the
// given session id. The index resolves the filename directly when it can;
// otherwise the directory is decoded file by file until a match is found,
// since filenames are keyed by character id rather than session id.
func (s *SessionStore) DeleteSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path, ok := s.index[sessionID]; ok {
		if sess := s.readSession(path); sess != nil && sess.ID == sessionID {
			s.removeLocked(sessionID, path)
			return
		}
		delete(s.index, sessionID) // stale entry
	}

	for _, path := range s.sessionFiles() {
		sess := s.readSession(path)
		if sess != nil && sess.ID == sessionID {
			s.removeLocked(sessionID, path)
			return
		}
	}
}

func (s *SessionStore) removeLocked(sessionID, path string) {
	if err := os.Remove(path); err != nil {
		s.log.WithError(err).Warn("failed to delete session file")
		return
	}
	delete(s.index, sessionID)
	if s.current != nil && s.current.ID == sessionID {
		s.current = nil
	}
}

func (s *SessionStore) sessionPath(characterID string) string {
	return filepath.Join(s.dir, sessionPrefix+characterID+sessionExt)
}

func (s *SessionStore) sessionFiles() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.WithError(err).Warn("failed to scan conversation directory")
		return nil
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, sessionPrefix) && strings.HasSuffix(name, sessionExt) {
			paths = append(paths, filepath.Join(s.dir, name))
		}
	}
	return paths
}

// readSession decodes one session file, returning nil on any read, decrypt
// or decode failure. Successful decodes refresh the session-id index.
func (s *SessionStore) readSession(path string) *repository.ConversationSession {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	plain, _ := s.codec.Decrypt(string(raw))

	var sess repository.ConversationSession
	if err := json.Unmarshal([]byte(plain), &sess); err != nil {
		s.log.WithField("file", filepath.Base(path)).Debug("skipping undecodable session file")
		return nil
	}
	if sess.ID != "" {
		s.index[sess.ID] = path
	}
	return &sess
}

// saveCurrentLocked rewrites the active session's file in full. I/O and
// encryption failures are logged and swallowed.
func (s *SessionStore) saveCurrentLocked() {
	if s.current == nil || s.current.CharacterID == "" {
		return
	}

	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		s.log.WithError(err).Error("failed to encode session")
		return
	}

	out, err := s.codec.Encrypt(string(data))
	if err != nil {
		s.log.WithError(err).Error("encryption failed, writing plaintext")
		out = string(data)
	}

	path := s.sessionPath(s.current.CharacterID)
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		s.log.WithError(err).Error("failed to save session")
		return
	}
	s.index[s.current.ID] = path
}
