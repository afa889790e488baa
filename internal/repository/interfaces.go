package repository

import "errors"

// ErrNoActiveSession is returned by session mutations issued before any
// session has been started. The mutation is a no-op.
var ErrNoActiveSession = errors.New("no active session")

// CharacterRepository defines character profile storage operations.
// Mutations persist the full collection; persistence failures are logged
// and swallowed, never surfaced to the caller.
type CharacterRepository interface {
	// List returns all stored characters.
	List() []Character

	// Get looks a character up by id with no side effects.
	Get(id string) (*Character, bool)

	// Add stamps creation/modification timestamps, enforces the age
	// invariant, appends and persists.
	Add(c *Character)

	// Update replaces the entry with a matching id (no-op if absent),
	// refreshing the modification timestamp.
	Update(c *Character)

	// Delete removes all entries matching id.
	Delete(id string)

	// Subscribe registers a listener invoked synchronously after every
	// successful persist.
	Subscribe(fn func())
}

// SessionRepository defines conversation session storage operations. A
// single session is active at a time; every successful mutation rewrites
// the whole active session to disk.
type SessionRepository interface {
	// StartSession saves the current session (if any), then loads the
	// persisted session for the character or creates an empty one. The
	// model-used field is refreshed either way.
	StartSession(c *Character, model string) *ConversationSession

	// Current returns the active session, or nil.
	Current() *ConversationSession

	// AddMessage stamps the message with the active session's character
	// id, appends it, bumps last-activity and persists.
	AddMessage(msg ChatMessage) error

	// EditMessage updates the content of a message in the active session;
	// unknown ids are a silent no-op.
	EditMessage(id, content string) error

	// DeleteMessage removes a message from the active session by id.
	DeleteMessage(id string) error

	// ClearSession empties the active session's message log in place.
	ClearSession() error

	// SaveCurrent flushes the active session to disk explicitly.
	SaveCurrent()

	// LoadSession adopts an already-decoded session as the active one,
	// saving the previous session first.
	LoadSession(s *ConversationSession)

	// ListSessions decodes every persisted session file, skipping any
	// that fail to decrypt or decode, sorted by last activity descending.
	ListSessions() []*ConversationSession

	// DeleteCharacterSession removes the session file owned by a
	// character, if present.
	DeleteCharacterSession(characterID string)

	// DeleteSession removes the persisted session whose content matches
	// the given session id.
	DeleteSession(sessionID string)
}
