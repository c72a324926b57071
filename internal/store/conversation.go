package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/framestudio/agency-assistant/internal/model"
)

// FindOrCreateConversation returns the most recently created conversation for
// conv.SessionID, or inserts conv when the session has none. The second
// return value reports whether conv was inserted. An existing conversation is
// returned untouched.
//
// On PostgreSQL the lookup and insert run under a transaction-scoped advisory
// lock on the session id, so concurrent first messages of one session
// cannot create two conversations.
func (s *Store) FindOrCreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	var (
		found   model.Conversation
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.IsPostgres() {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", conv.SessionID).Error; err != nil {
				return fmt.Errorf("failed to lock session: %w", err)
			}
		}

		res := tx.Where("session_id = ?", conv.SessionID).
			Order("created_at DESC").
			Order("id DESC").
			Limit(1).
			Find(&found)
		if res.Error != nil {
			return fmt.Errorf("failed to query conversation: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		if err := tx.Create(conv).Error; err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		found = *conv
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &found, created, nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	res := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&conv)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &conv, nil
}

// ListConversations returns conversations newest first with the total count.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&model.Conversation{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	convs := []model.Conversation{}
	if err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&convs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	return convs, total, nil
}

// IncrementMessageCount adds delta to the conversation's message_count in a
// single UPDATE, so concurrent exchanges cannot lose increments.
func (s *Store) IncrementMessageCount(ctx context.Context, id string, delta int, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"message_count": gorm.Expr("message_count + ?", delta),
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment message count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Conversation{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage inserts a message.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	msgs := []model.Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
