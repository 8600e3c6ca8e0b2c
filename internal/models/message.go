package models

import (
	"fmt"
	"unicode/utf8"
)

// Message author bounds, in characters.
const (
	MinAuthorLength = 2
	MaxAuthorLength = 32
)

// Message is the unit relayed to every connected gateway session.
type Message struct {
	ID      uint64 `json:"id"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// CreateMessageRequest is the body of POST /messages.
type CreateMessageRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Validate checks the request against the author bounds and the configured
// content limit. The returned map is keyed by field name and is nil when the
// request is valid.
func (r *CreateMessageRequest) Validate(messageLimit int) map[string]string {
	var problems map[string]string
	add := func(field, msg string) {
		if problems == nil {
			problems = make(map[string]string)
		}
		problems[field] = msg
	}

	if n := utf8.RuneCountInString(r.Author); n < MinAuthorLength || n > MaxAuthorLength {
		add("author", fmt.Sprintf("Message author has to be between %d and %d characters long", MinAuthorLength, MaxAuthorLength))
	}

	if n := utf8.RuneCountInString(r.Content); n < 1 || n > messageLimit {
		add("content", fmt.Sprintf("Message content has to be between 1 and %d characters long", messageLimit))
	}

	return problems
}
