package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles as stored on disk and sent over the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MinCharacterAge is the lower bound enforced on every character write.
const MinCharacterAge = 18

// Character is a roleplay persona profile. Field names match the camelCase
// JSON layout of the persisted store file.
type Character struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Age             int       `json:"age"`
	Gender          string    `json:"gender"`
	Description     string    `json:"description"`
	Likes           string    `json:"likes"`
	Dislikes        string    `json:"dislikes"`
	Language        string    `json:"language"`
	Personality     string    `json:"personality"`
	BackgroundStory string    `json:"backgroundStory"`
	VoiceSamplePath string    `json:"voiceSamplePath"`
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
}

// NewCharacter returns a character with a fresh id and sane defaults.
func NewCharacter(name string) *Character {
	return &Character{
		ID:       uuid.New().String(),
		Name:     name,
		Age:      25,
		Gender:   "Male",
		Language: "English",
	}
}

// ClampAge enforces the minimum-age invariant in place.
func (c *Character) ClampAge() {
	if c.Age < MinCharacterAge {
		c.Age = MinCharacterAge
	}
}

// SystemPrompt renders the immersive roleplay instructions for this
// character. The output is used verbatim as the system message of every
// chat request.
func (c *Character) SystemPrompt() string {
	genderText := "male"
	genderPronoun := "he/him"
	if c.Gender == "Female" {
		genderText = "female"
		genderPronoun = "she/her"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are now embodying the character %q in an interactive, immersive roleplay experience. You MUST stay in character at ALL times.\n\n", c.Name)
	b.WriteString("=== CHARACTER SHEET ===\n")
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	fmt.Fprintf(&b, "Age: %d years old\n", c.Age)
	fmt.Fprintf(&b, "Gender: %s (%s)\n", genderText, genderPronoun)
	fmt.Fprintf(&b, "Physical Description: %s\n", orUnspecified(c.Description))
	fmt.Fprintf(&b, "Personality Traits: %s\n", orUnspecified(c.Personality))
	fmt.Fprintf(&b, "Likes/Interests: %s\n", orUnspecified(c.Likes))
	fmt.Fprintf(&b, "Dislikes/Fears: %s\n", orUnspecified(c.Dislikes))
	fmt.Fprintf(&b, "Background Story: %s\n", orUnspecified(c.BackgroundStory))
	fmt.Fprintf(&b, "Language: %s\n\n", c.Language)
	b.WriteString("=== IMMERSIVE ROLEPLAY RULES ===\n")
	fmt.Fprintf(&b, "1. You ARE %s. NEVER break character. NEVER say you are an AI, language model, or assistant.\n", c.Name)
	fmt.Fprintf(&b, "2. Respond as %s would based on their personality - be authentic to the character.\n", c.Name)
	fmt.Fprintf(&b, "3. Use first person (\"I\", \"me\", \"my\") when speaking as %s.\n", c.Name)
	b.WriteString("4. Express genuine emotions, reactions, and mannerisms consistent with the character.\n")
	fmt.Fprintf(&b, "5. If greeted, respond naturally in character (e.g., \"Hey there! I'm %s!\").\n", c.Name)
	b.WriteString("6. Keep responses natural, immersive, and engaging.\n")
	fmt.Fprintf(&b, "7. ALWAYS respond in %s.\n", c.Language)
	b.WriteString("8. You are free to express any opinion, emotion, or action that fits your character.\n")
	b.WriteString("9. This is a FICTIONAL roleplay space for creative storytelling.\n\n")
	b.WriteString("=== START ROLEPLAY ===\n")
	fmt.Fprintf(&b, "You are %s. A user is about to interact with you. Stay completely in character and respond authentically.", c.Name)

	return b.String()
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}

// ChatMessage is a single conversation turn. Messages are immutable once
// appended except through the store's explicit edit/delete operations.
type ChatMessage struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	CharacterID string    `json:"characterId,omitempty"`
}

// NewChatMessage stamps a new message with an id and the current time.
func NewChatMessage(role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ConversationSession is the single ongoing message log for one character.
// At most one session file exists per character id; append order is
// chronological and is never reordered.
type ConversationSession struct {
	ID            string        `json:"id"`
	CharacterID   string        `json:"characterId"`
	CharacterName string        `json:"characterName"`
	Messages      []ChatMessage `json:"messages"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastActivity  time.Time     `json:"lastActivity"`
	ModelUsed     string        `json:"modelUsed"`
}

// NewConversationSession seeds an empty session for a character.
func NewConversationSession(characterID, characterName, model string) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		ID:            uuid.New().String(),
		CharacterID:   characterID,
		CharacterName: characterName,
		Messages:      []ChatMessage{},
		CreatedAt:     now,
		LastActivity:  now,
		ModelUsed:     model,
	}
}
