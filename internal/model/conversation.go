// Package model defines data structures for the chat assistant.
package model

import (
	"time"
)

// Language is a supported conversation language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageGreek   Language = "el"
)

// ParseLanguage maps an optional request value to a Language. Empty input
// means English.
func ParseLanguage(s string) (Language, bool) {
	switch Language(s) {
	case "", LanguageEnglish:
		return LanguageEnglish, true
	case LanguageGreek:
		return LanguageGreek, true
	default:
		return "", false
	}
}

// Conversation is the durable record of one visitor session. Language, page
// URL and user agent are fixed by the first request of the session.
type Conversation struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID    string    `json:"session_id" gorm:"size:128;not null;index:idx_conversations_session_created,priority:1"`
	Language     Language  `json:"language" gorm:"size:2;not null"`
	PageURL      *string   `json:"page_url,omitempty" gorm:"size:2048"`
	UserAgent    *string   `json:"user_agent,omitempty" gorm:"size:512"`
	MessageCount int       `json:"message_count" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_conversations_session_created,priority:2"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	HasMore       bool           `json:"has_more"`
}
