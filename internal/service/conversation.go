// Package service implements the chat pipeline and its supporting business
// logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/pkg/logger"
	"github.com/framestudio/agency-assistant/pkg/metrics"
)

// ErrConversationNotFound is returned when a conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository is the durable conversation and message store.
type ConversationRepository interface {
	FindOrCreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, int64, error)
	IncrementMessageCount(ctx context.Context, id string, delta int, now time.Time) error
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// EventPublisher receives every persisted message.
type EventPublisher interface {
	PublishMessage(ctx context.Context, event *model.MessageEvent) (uint64, error)
}

// ConversationService handles conversation operations.
type ConversationService struct {
	repo      ConversationRepository
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewConversationService creates a new conversation service. publisher may
// be nil when the event feed is disabled.
func NewConversationService(repo ConversationRepository, publisher EventPublisher, log *logger.Logger) *ConversationService {
	return &ConversationService{
		repo:      repo,
		publisher: publisher,
		logger:    log.Named("conversations"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FindOrCreate returns the most recent conversation for sessionID, creating
// one when the session has none. An existing conversation is returned as is;
// language, page URL and user agent are only recorded on creation.
func (s *ConversationService) FindOrCreate(ctx context.Context, sessionID string, lang model.Language, pageURL, userAgent string) (*model.Conversation, error) {
	now := s.now()

	candidate := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Language:  lang,
		PageURL:   optional(pageURL),
		UserAgent: optional(userAgent),
		CreatedAt: now,
		UpdatedAt: now,
	}

	conv, created, err := s.repo.FindOrCreateConversation(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	if created {
		metrics.ConversationsTotal.WithLabelValues(string(conv.Language)).Inc()
		logger.FromContext(ctx, s.logger).Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("language", string(conv.Language)),
		)
	}

	return conv, nil
}

// AppendMessage persists one message and publishes it to the event feed.
// Publishing is best-effort.
func (s *ConversationService) AppendMessage(ctx context.Context, conv *model.Conversation, role model.Role, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}

	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append %s message: %w", role, err)
	}
	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()

	s.publish(ctx, conv, msg)

	return msg, nil
}

func (s *ConversationService) publish(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	if s.publisher == nil {
		return
	}

	_, err := s.publisher.PublishMessage(ctx, &model.MessageEvent{
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
		MessageID:      msg.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		Language:       conv.Language,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		metrics.EventsPublishFailures.Inc()
		logger.FromContext(ctx, s.logger).Warn("failed to publish message event",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// IncrementMessageCount atomically adds delta to the conversation's counter.
func (s *ConversationService) IncrementMessageCount(ctx context.Context, conversationID string, delta int) error {
	if delta <= 0 {
		return nil
	}
	if err := s.repo.IncrementMessageCount(ctx, conversationID, delta, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("failed to increment message count: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// List retrieves conversations, newest first.
func (s *ConversationService) List(ctx context.Context, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.repo.ListConversations(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       int64(offset+len(convs)) < total,
	}, nil
}

// Messages retrieves a conversation with its messages in chronological order.
func (s *ConversationService) Messages(ctx context.Context, conversationID string, limit int) (*model.ListMessagesResponse, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 500 {
		limit = 500
	}

	msgs, err := s.repo.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return &model.ListMessagesResponse{
		Conversation: conv,
		Messages:     msgs,
	}, nil
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, conversationID string) error {
	err := s.repo.DeleteConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	logger.FromContext(ctx, s.logger).Info("conversation deleted", zap.String("conversation_id", conversationID))
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
