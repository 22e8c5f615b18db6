// Package history maintains the per-room chat history: an ordered,
// deduplicated, size-bounded sequence of messages with durable persistence.
// Identity is the message id; a second arrival of a known id merges into the
// existing entry instead of appending, which is how the server echo of a
// locally sent message reconciles with its optimistic local copy.
package history

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessages is the history length cap per room. Oldest entries are dropped
// once the cap is exceeded.
const MaxMessages = 200

const (
	MaxMessageBytes = 4096 // max encoded text size
	MaxTextChars    = 2000 // max character count
)

// Message is one chat message. CreatedAt is epoch milliseconds.
type Message struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	CreatedAt int64  `json:"createdAt"`
	Text      string `json:"text"`
}

// ValidateText checks that outgoing message text meets content requirements.
// The text should already be trimmed.
func ValidateText(text string) error {
	if text == "" {
		return fmt.Errorf("history: message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("history: message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("history: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("history: message contains invalid UTF-8")
	}
	return nil
}

// blank reports whether text is empty after trimming.
func blank(text string) bool {
	return strings.TrimSpace(text) == ""
}
