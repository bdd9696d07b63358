// Package session models conversation history. A session is a titled,
// ordered message log; prompts only ever see the trailing window.
package session

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("session not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// HistoryWindow is how many trailing messages prompt builders see.
	HistoryWindow = 4

	titleMaxRunes = 80
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Title derives a session title from its first question.
func Title(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	return title
}

func (s *Session) Append(messages ...Message) {
	for _, msg := range messages {
		s.Messages = append(s.Messages, msg)
		if msg.CreatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = msg.CreatedAt
		}
	}
}

func (s Session) Summarize() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

// Window returns the trailing n messages.
func Window(messages []Message, n int) []Message {
	if n <= 0 || len(messages) == 0 {
		return nil
	}
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
