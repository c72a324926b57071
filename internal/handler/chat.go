package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

const maxChatBodyBytes = 1 << 20

type chatMessages struct {
	invalid     string
	rateLimited string
	generic     string
}

var localizedErrors = map[model.Language]chatMessages{
	model.LanguageEnglish: {
		invalid:     "Invalid request.",
		rateLimited: "You've sent too many messages. Please try again later.",
		generic:     "Something went wrong. Please try again.",
	},
	model.LanguageGreek: {
		invalid:     "Μη έγκυρο αίτημα.",
		rateLimited: "Έχετε στείλει πολλά μηνύματα. Παρακαλώ δοκιμάστε ξανά αργότερα.",
		generic:     "Κάτι πήγε στραβά. Παρακαλώ δοκιμάστε ξανά.",
	},
}

func messagesFor(lang model.Language) chatMessages {
	if m, ok := localizedErrors[lang]; ok {
		return m
	}
	return localizedErrors[model.LanguageEnglish]
}

// ChatHandler serves the public chat endpoint.
type ChatHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: log.Named("chat_handler"),
	}
}

// Chat handles POST /chat. The reply is streamed as server-sent events; the
// response only switches to text/event-stream once the first token arrives,
// so failures before that get a plain JSON status.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger)

	var req model.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, messagesFor(model.LanguageEnglish).invalid)
		return
	}

	stream := newEventStream(w)
	res, err := h.chat.Chat(ctx, &req, r.UserAgent(), func(token string, index int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return stream.send(string(model.EventTypeToken), &model.TokenEvent{Token: token, Index: index})
	})
	if err != nil {
		h.fail(w, stream, res, err, log)
		return
	}

	stream.send(string(model.EventTypeDone), &model.DoneEvent{
		ConversationID: res.ConversationID,
		Suggestions:    res.Suggestions,
	})
}

func (h *ChatHandler) fail(w http.ResponseWriter, stream *eventStream, res *service.ChatResult, err error, log *logger.Logger) {
	lang := model.LanguageEnglish
	if res != nil {
		lang = res.Language
	}
	msgs := messagesFor(lang)

	var rlErr *service.RateLimitError
	switch {
	case errors.Is(err, service.ErrMalformedRequest):
		writeError(w, http.StatusBadRequest, msgs.invalid)

	case errors.As(err, &rlErr):
		seconds := retryAfterSeconds(rlErr)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, &model.ErrorEvent{
			Error:      msgs.rateLimited,
			RetryAfter: seconds,
		})

	case stream.started:
		log.Warn("chat stream aborted", zap.Error(err))
		stream.send(string(model.EventTypeError), &model.ErrorEvent{Error: msgs.generic})

	default:
		log.Error("chat failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgs.generic)
	}
}

func retryAfterSeconds(err *service.RateLimitError) int {
	s := int(math.Ceil(err.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// eventStream writes server-sent events, sending the stream headers with
// the first event.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: flusher}
}

func (s *eventStream) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if !s.started {
		s.start()
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
