package conversation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role tells who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultTitle is shown until the first user message names the conversation.
	DefaultTitle = "New Conversation"

	titleMaxRunes = 30
	titleEllipsis = "..."
)

// Message is one turn of a conversation. Messages are never edited.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered list of messages with a title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewID() string {
	return uuid.NewString()
}

// New returns an empty conversation titled DefaultTitle.
func New(now time.Time) *Conversation {
	return &Conversation{
		ID:        NewID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMessage stamps content with a fresh id and now.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        NewID(),
		Content:   content,
		Role:      role,
		Timestamp: now,
	}
}

// DeriveTitle keeps the first 30 characters of content and marks the cut with an ellipsis.
func DeriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

// Append adds msg to the end of the conversation. The title is taken from the
// first user message and never changes afterwards.
func (c *Conversation) Append(msg Message) {
	if msg.Role == RoleUser && !c.hasUserMessage() {
		c.Title = DeriveTitle(msg.Content)
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.Timestamp
}

func (c *Conversation) hasUserMessage() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out to readers.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// IsBlank reports whether content is empty or whitespace only. Blank messages are never sent.
func IsBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}
