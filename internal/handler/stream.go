package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/model"
	natsclient "github.com/framestudio/agency-assistant/internal/nats"
	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/pkg/logger"
	"github.com/framestudio/agency-assistant/pkg/metrics"
)

const (
	replayBatchSize   = 50
	heartbeatInterval = 30 * time.Second
	liveBuffer        = 64
)

// MessageFeed reads persisted message events back from the event feed.
type MessageFeed interface {
	ReplayMessages(ctx context.Context, conversationID string, afterSequence uint64, limit int) (*natsclient.Replay, error)
	WatchMessages(ctx context.Context, conversationID string, afterSequence uint64, fn func(model.MessageEvent)) (func(), error)
}

// StreamHandler serves the admin message feed of one conversation.
type StreamHandler struct {
	conversations *service.ConversationService
	feed          MessageFeed
	heartbeat     time.Duration
	logger        *logger.Logger
}

// NewStreamHandler creates a new stream handler. feed is nil when the event
// feed is disabled.
func NewStreamHandler(conversations *service.ConversationService, feed MessageFeed, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		conversations: conversations,
		feed:          feed,
		heartbeat:     heartbeatInterval,
		logger:        log.Named("stream_handler"),
	}
}

// Stream handles GET /api/v1/admin/conversations/{id}/stream. Stored
// messages are replayed first, then new ones follow live. ?after_sequence=N
// resumes after stream sequence N.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger).With(zap.String("conversation_id", conversationID))

	if h.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed is disabled")
		return
	}

	if _, err := h.conversations.Get(ctx, conversationID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Error("failed to load conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var afterSequence uint64
	if raw := r.URL.Query().Get("after_sequence"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		afterSequence = seq
	}

	// The feed outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	metrics.FeedConnections.Inc()
	defer metrics.FeedConnections.Dec()

	stream := newEventStream(w)
	stream.send(string(model.EventTypeConnected), &model.ConnectedEvent{ConversationID: conversationID})

	lastSequence := afterSequence
	replayed := 0
	for {
		batch, err := h.feed.ReplayMessages(ctx, conversationID, lastSequence, replayBatchSize)
		if err != nil {
			log.Error("failed to replay messages", zap.Error(err))
			stream.send(string(model.EventTypeError), &model.ErrorEvent{Error: "failed to replay messages"})
			return
		}
		for i := range batch.Events {
			if ctx.Err() != nil {
				return
			}
			stream.send(string(model.EventTypeMessage), &batch.Events[i])
			replayed++
		}
		lastSequence = batch.LastSequence
		if !batch.HasMore {
			break
		}
	}

	stream.send(string(model.EventTypeReplayComplete), &model.ReplayCompleteEvent{
		LastSequence: lastSequence,
		MessageCount: replayed,
	})
	log.Info("message replay complete", zap.Int("replayed", replayed), zap.Uint64("last_sequence", lastSequence))

	live := make(chan model.MessageEvent, liveBuffer)
	stop, err := h.feed.WatchMessages(ctx, conversationID, lastSequence, func(e model.MessageEvent) {
		select {
		case live <- e:
		case <-ctx.Done():
		}
	})
	if err != nil {
		log.Error("failed to watch messages", zap.Error(err))
		stream.send(string(model.EventTypeError), &model.ErrorEvent{Error: "failed to follow messages"})
		return
	}
	defer stop()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("feed client disconnected")
			return
		case e := <-live:
			if err := stream.send(string(model.EventTypeMessage), &e); err != nil {
				return
			}
		case now := <-ticker.C:
			if err := stream.send(string(model.EventTypeHeartbeat), &model.HeartbeatEvent{Timestamp: now.UTC()}); err != nil {
				return
			}
		}
	}
}
