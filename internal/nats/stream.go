package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/framestudio/agency-assistant/internal/model"
)

const (
	// StreamName is the name of the chat event stream.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// ErrNotConnected is returned by Ping while the connection is down.
var ErrNotConnected = errors.New("nats connection is down")

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	js     jetstream.JetStream
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client, js: client.JetStream()}
}

// EnsureStream creates the chat stream when it does not exist yet.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Persisted website chat messages",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a persisted message.
func MessageSubject(conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, role)
}

// ConversationSubject matches every message of one conversation.
func ConversationSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, conversationID)
}

// PublishMessage publishes a message event and returns its stream sequence.
// The message ID doubles as the JetStream dedup ID.
func (m *StreamManager) PublishMessage(ctx context.Context, event *model.MessageEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message event: %w", err)
	}

	ack, err := m.js.Publish(ctx, MessageSubject(event.ConversationID, event.Role), data,
		jetstream.WithMsgID(event.MessageID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish message event: %w", err)
	}

	return ack.Sequence, nil
}

// Ping verifies the connection is up and the stream is reachable.
func (m *StreamManager) Ping(ctx context.Context) error {
	if m.client != nil && !m.client.IsConnected() {
		return ErrNotConnected
	}
	_, err := m.js.Stream(ctx, StreamName)
	return err
}

// Replay is one batch of stored message events.
type Replay struct {
	Events       []model.MessageEvent
	LastSequence uint64
	HasMore      bool
}

// ReplayMessages returns up to limit stored events of a conversation with a
// stream sequence greater than afterSequence. It does not wait for new
// messages.
func (m *StreamManager) ReplayMessages(ctx context.Context, conversationID string, afterSequence uint64, limit int) (*Replay, error) {
	consumer, err := m.js.OrderedConsumer(ctx, StreamName, orderedConfig(conversationID, afterSequence))
	if err != nil {
		return nil, fmt.Errorf("failed to create replay consumer: %w", err)
	}

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	replay := &Replay{LastSequence: afterSequence}
	received := 0
	for msg := range batch.Messages() {
		received++
		event, seq, err := decodeEvent(msg)
		if seq > 0 {
			replay.LastSequence = seq
		}
		if err != nil {
			continue
		}
		replay.Events = append(replay.Events, *event)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	replay.HasMore = received == limit
	return replay, nil
}

// WatchMessages calls fn for every event of a conversation published after
// afterSequence, until the returned stop function is called. fn runs on the
// consumer's goroutine.
func (m *StreamManager) WatchMessages(ctx context.Context, conversationID string, afterSequence uint64, fn func(model.MessageEvent)) (func(), error) {
	consumer, err := m.js.OrderedConsumer(ctx, StreamName, orderedConfig(conversationID, afterSequence))
	if err != nil {
		return nil, fmt.Errorf("failed to create watch consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, _, err := decodeEvent(msg)
		if err != nil {
			return
		}
		fn(*event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}
	return cc.Stop, nil
}

func orderedConfig(conversationID string, afterSequence uint64) jetstream.OrderedConsumerConfig {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationSubject(conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}
	return cfg
}

func decodeEvent(msg jetstream.Msg) (*model.MessageEvent, uint64, error) {
	var seq uint64
	if meta, err := msg.Metadata(); err == nil {
		seq = meta.Sequence.Stream
	}

	var event model.MessageEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		return nil, seq, fmt.Errorf("failed to decode message event: %w", err)
	}
	event.Sequence = seq
	return &event, seq, nil
}
