package model

import "strings"

// ChatPart is one part of a client chat turn. Only text parts carry content
// the pipeline reads.
type ChatPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatTurn is one turn of the client-side message batch.
type ChatTurn struct {
	ID      string     `json:"id,omitempty"`
	Role    Role       `json:"role"`
	Parts   []ChatPart `json:"parts,omitempty"`
	Content string     `json:"content,omitempty"`
}

// Text joins the turn's text parts. Older clients send a plain content
// string instead of parts.
func (t ChatTurn) Text() string {
	if len(t.Parts) == 0 {
		return strings.TrimSpace(t.Content)
	}
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

// ChatRequest is the body of POST /chat. Messages must be present (it may be
// empty) and SessionID must be non-empty.
type ChatRequest struct {
	Messages  []ChatTurn `json:"messages" validate:"required"`
	SessionID string     `json:"sessionId" validate:"required,max=128"`
	Language  string     `json:"language,omitempty" validate:"omitempty,oneof=en el"`
	PageURL   string     `json:"pageUrl,omitempty" validate:"omitempty,max=2048"`
}

// LatestUserText returns the text of the most recent user turn, or "" when
// the batch has no user turn.
func (r *ChatRequest) LatestUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Text()
		}
	}
	return ""
}
