package encfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rolechat/rolechat-core/internal/crypto"
	"github.com/rolechat/rolechat-core/internal/repository"
)

const (
	charactersFile  = "characters.dat"
	legacyCharsFile = "characters.json"
)

// CharacterStore implements repository.CharacterRepository on top of a
// single encrypted JSON file. A plaintext legacy file found at the sibling
// path is migrated (re-encrypted and deleted) exactly once, on first load.
type CharacterStore struct {
	path       string
	legacyPath string
	codec      *crypto.Codec

	mu         sync.Mutex
	characters []repository.Character
	listeners  []func()

	log *logrus.Entry
}

// NewCharacterStore creates the store, loading (and migrating if needed)
// whatever is on disk. Decode failures yield an empty collection, never an
// error.
func NewCharacterStore(dataDir string, codec *crypto.Codec) (*CharacterStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	s := &CharacterStore{
		path:       filepath.Join(dataDir, charactersFile),
		legacyPath: filepath.Join(dataDir, legacyCharsFile),
		codec:      codec,
		log:        logrus.WithField("store", "characters"),
	}
	s.load()
	return s, nil
}

// Subscribe registers a listener invoked synchronously after every
// successful persist.
func (s *CharacterStore) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// List returns a copy of all stored characters.
func (s *CharacterStore) List() []repository.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.Character(nil), s.characters...)
}

// Get looks a character up by id.
func (s *CharacterStore) Get(id string) (*repository.Character, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.characters {
		if s.characters[i].ID == id {
			c := s.characters[i]
			return &c, true
		}
	}
	return nil, false
}

// Add stamps timestamps, enforces the age invariant, appends and persists.
func (s *CharacterStore) Add(c *repository.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c.CreatedAt = now
	c.LastModified = now
	c.ClampAge()
	s.characters = append(s.characters, *c)
	s.saveLocked()
}

// Update replaces the entry matching the character's id; absent ids are a
// no-op.
func (s *CharacterStore) Update(c *repository.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.characters {
		if s.characters[i].ID == c.ID {
			c.LastModified = time.Now()
			c.ClampAge()
			s.characters[i] = *c
			s.saveLocked()
			return
		}
	}
}

// Delete removes all entries matching id and persists.
func (s *CharacterStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.characters[:0]
	for _, c := range s.characters {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.characters = kept
	s.saveLocked()
}

func (s *CharacterStore) load() {
	if raw, err := os.ReadFile(s.path); err == nil {
		plain, _ := s.codec.Decrypt(string(raw))
		var chars []repository.Character
		if err := json.Unmarshal([]byte(plain), &chars); err != nil {
			s.log.WithError(err).Warn("character store unreadable, starting empty")
			s.characters = nil
			return
		}
		for i := range chars {
			chars[i].ClampAge()
		}
		s.characters = chars
		return
	}

	// One-time migration of the pre-encryption plaintext file.
	raw, err := os.ReadFile(s.legacyPath)
	if err != nil {
		return
	}
	var chars []repository.Character
	if err := json.Unmarshal(raw, &chars); err != nil {
		s.log.WithError(err).Warn("legacy character file unreadable, ignoring")
		return
	}
	for i := range chars {
		chars[i].ClampAge()
	}
	s.characters = chars
	s.saveLocked()
	if err := os.Remove(s.legacyPath); err != nil {
		s.log.WithError(err).Warn("failed to remove legacy character file")
	} else {
		s.log.WithField("count", len(chars)).Info("migrated legacy character file")
	}
}

// saveLocked persists the full collection and notifies listeners on
// success. I/O failures are logged and swallowed: the in-memory state stays
// authoritative until the next successful write.
func (s *CharacterStore) saveLocked() {
	data, err := json.MarshalIndent(s.characters, "", "  ")
	if err != nil {
		s.log.WithError(err).Error("failed to encode characters")
		return
	}

	out, err := s.codec.Encrypt(string(data))
	if err != nil {
		// Fail open: an unencrypted store is still a working store.
		s.log.WithError(err).Error("encryption failed, writing plaintext")
		out = string(data)
	}

	if err := os.WriteFile(s.path, []byte(out), 0o600); err != nil {
		s.log.WithError(err).Error("failed to save characters")
		return
	}

	for _, fn := range s.listeners {
		fn()
	}
}
