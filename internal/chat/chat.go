// Package chat carries messages between the group chat and the round engine.
package chat

import (
	"context"
	"strings"
	"time"
)

type Format int

const (
	Plain Format = iota
	Markdown
)

// Message is one inbound chat message.
type Message struct {
	ChatID int64
	// Sender is the stable identity of the author: @username when set,
	// otherwise the numeric user id.
	Sender string
	Text   string
	At     time.Time
}

// IsCommand reports whether the message is a bot command such as /skip.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}

// Command returns the command name without the leading slash or @bot suffix.
func (m Message) Command() string {
	if !m.IsCommand() {
		return ""
	}
	word := strings.Fields(strings.TrimSpace(m.Text))[0]
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}

// Transport is the chat service.
type Transport interface {
	Messages() <-chan Message
	Send(ctx context.Context, chatID int64, text string, format Format) error
}
