package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/llm"
	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/prompt"
	"github.com/framestudio/agency-assistant/internal/ratelimit"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/internal/validation"
	"github.com/framestudio/agency-assistant/pkg/logger"
	"github.com/framestudio/agency-assistant/pkg/metrics"
	"github.com/framestudio/agency-assistant/pkg/tracing"
)

// Stage is a step of the chat pipeline.
type Stage string

const (
	StageReceived             Stage = "RECEIVED"
	StageRateChecked          Stage = "RATE_CHECKED"
	StageConversationResolved Stage = "CONVERSATION_RESOLVED"
	StageUserMessagePersisted Stage = "USER_MESSAGE_PERSISTED"
	StageRetrievalAttempted   Stage = "RETRIEVAL_ATTEMPTED"
	StagePromptBuilt          Stage = "PROMPT_BUILT"
	StageStreaming            Stage = "STREAMING"
	StageCompleted            Stage = "COMPLETED"

	StageRejectedMalformed Stage = "REJECTED_MALFORMED"
	StageRejectedRateLimit Stage = "REJECTED_RATE_LIMIT"
	StageFailed            Stage = "FAILED"
)

var (
	// ErrMalformedRequest is returned when the request lacks a message list
	// or session ID, or names an unsupported language.
	ErrMalformedRequest = errors.New("malformed chat request")

	// ErrUpstreamCompletion is returned when the completion call fails, times
	// out or produces nothing.
	ErrUpstreamCompletion = errors.New("upstream completion failed")
)

// RateLimitError is returned when the session has used up its window.
type RateLimitError struct {
	RetryAfter time.Duration
	Language   model.Language
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// RateLimiter admits or rejects one chat message for a session.
type RateLimiter interface {
	Check(ctx context.Context, sessionID string) (ratelimit.Decision, error)
}

// ChatConfig tunes the pipeline.
type ChatConfig struct {
	Model              string
	MaxTokens          int
	Temperature        float64
	Timeout            time.Duration
	ContextTurns       int
	RetrievalThreshold float64
	RetrievalLimit     int
	PersistTimeout     time.Duration
}

// ChatResult describes one pipeline run. It is returned on failure too, so
// callers can see how far the request got.
type ChatResult struct {
	ConversationID string
	Language       model.Language
	Reply          string
	Answer         string
	Suggestions    []string
	Retrieved      int
	Stages         []Stage
}

func (r *ChatResult) enter(s Stage) {
	r.Stages = append(r.Stages, s)
}

// Reached reports whether the run passed through stage s.
func (r *ChatResult) Reached(s Stage) bool {
	for _, st := range r.Stages {
		if st == s {
			return true
		}
	}
	return false
}

// ChatService runs the retrieval-augmented chat pipeline.
type ChatService struct {
	limiter       RateLimiter
	conversations *ConversationService
	embedder      llm.Embedder
	index         store.KnowledgeIndex
	completer     llm.Client
	prompts       *prompt.Builder
	validator     *validation.Validator
	cfg           ChatConfig
	tracer        trace.Tracer
	logger        *logger.Logger
}

// NewChatService creates the chat pipeline. embedder and index may be nil,
// in which case every request runs without retrieved context.
func NewChatService(
	limiter RateLimiter,
	conversations *ConversationService,
	embedder llm.Embedder,
	index store.KnowledgeIndex,
	completer llm.Client,
	prompts *prompt.Builder,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = 10
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	return &ChatService{
		limiter:       limiter,
		conversations: conversations,
		embedder:      embedder,
		index:         index,
		completer:     completer,
		prompts:       prompts,
		validator:     validation.New(),
		cfg:           cfg,
		tracer:        tracing.Tracer("chat"),
		logger:        log.Named("chat"),
	}
}

// Chat runs one exchange. Tokens are passed to onToken as the model produces
// them; the full reply is buffered and persisted only after the completion
// finished successfully.
func (s *ChatService) Chat(ctx context.Context, req *model.ChatRequest, userAgent string, onToken llm.StreamCallback) (*ChatResult, error) {
	res := &ChatResult{Language: model.LanguageEnglish}
	res.enter(StageReceived)

	ctx, span := s.tracer.Start(ctx, "chat.pipeline")
	defer span.End()

	lang, err := s.checkRequest(req)
	res.Language = lang
	if err != nil {
		res.enter(StageRejectedMalformed)
		metrics.RecordChatOutcome("malformed", string(res.Language))
		span.SetStatus(codes.Error, "malformed request")
		return res, err
	}
	span.SetAttributes(attribute.String("chat.language", string(lang)))

	log := logger.FromContext(ctx, s.logger).With(zap.String("session_id", req.SessionID))

	decision, err := s.limiter.Check(ctx, req.SessionID)
	if err != nil {
		res.enter(StageFailed)
		metrics.RecordChatOutcome("failed", string(lang))
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit check failed")
		log.Error("rate limit check failed", zap.Error(err))
		return res, err
	}
	if !decision.Allowed {
		res.enter(StageRejectedRateLimit)
		metrics.RateLimitRejections.Inc()
		metrics.RecordChatOutcome("rate_limited", string(lang))
		log.Info("chat rate limited", zap.Duration("retry_after", decision.RetryAfter))
		return res, &RateLimitError{RetryAfter: decision.RetryAfter, Language: lang}
	}
	res.enter(StageRateChecked)

	conv, err := s.conversations.FindOrCreate(ctx, req.SessionID, lang, req.PageURL, userAgent)
	if err != nil {
		s.persistenceFailed(log, "resolve_conversation", err)
	} else {
		res.ConversationID = conv.ID
		res.enter(StageConversationResolved)
		log = log.With(zap.String("conversation_id", conv.ID))
	}

	written := 0
	var contextText string

	userText := req.LatestUserText()
	if userText != "" {
		if conv != nil {
			if _, err := s.conversations.AppendMessage(ctx, conv, model.RoleUser, userText); err != nil {
				s.persistenceFailed(log, "user_message", err)
			} else {
				written++
				res.enter(StageUserMessagePersisted)
			}
		}

		entries := s.retrieve(ctx, log, userText)
		res.Retrieved = len(entries)
		contextText = prompt.FormatContext(entries, lang)
		res.enter(StageRetrievalAttempted)
	}

	system := s.prompts.Build(lang, contextText)
	res.enter(StagePromptBuilt)

	reply, err := s.complete(ctx, log, system, req.Messages, onToken, res)
	if err != nil {
		res.enter(StageFailed)
		metrics.RecordChatOutcome("upstream_failed", string(lang))
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		// A persisted user message still counts towards the conversation.
		if conv != nil && written > 0 {
			s.finish(ctx, log, conv, "", written)
		}
		return res, err
	}

	res.Reply = reply
	res.Answer, res.Suggestions = prompt.SplitSuggestions(reply)
	if res.Answer == "" {
		res.Answer = strings.TrimSpace(reply)
	}

	if conv != nil {
		s.finish(ctx, log, conv, res.Answer, written)
	}

	res.enter(StageCompleted)
	metrics.RecordChatOutcome("completed", string(lang))
	return res, nil
}

// checkRequest resolves the request language before anything else so that
// a malformed request naming a known language is still answered in it.
func (s *ChatService) checkRequest(req *model.ChatRequest) (model.Language, error) {
	if req == nil {
		return model.LanguageEnglish, ErrMalformedRequest
	}
	lang, ok := model.ParseLanguage(req.Language)
	if !ok {
		return model.LanguageEnglish, fmt.Errorf("%w: unsupported language %q", ErrMalformedRequest, req.Language)
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		return lang, fmt.Errorf("%w: %v", ErrMalformedRequest, validation.FormatValidationErrors(err))
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return lang, fmt.Errorf("%w: sessionId is blank", ErrMalformedRequest)
	}
	return lang, nil
}

// retrieve embeds text and searches the knowledge index. Any failure is
// absorbed and yields no entries.
func (s *ChatService) retrieve(ctx context.Context, log *logger.Logger, text string) []model.ScoredEntry {
	ctx, span := s.tracer.Start(ctx, "chat.retrieve")
	defer span.End()

	if s.embedder == nil || s.index == nil {
		metrics.RetrievalDegraded.WithLabelValues("unavailable").Inc()
		log.Warn("retrieval degraded", zap.String("step", "unavailable"))
		return nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		metrics.RetrievalDegraded.WithLabelValues("embed").Inc()
		span.RecordError(err)
		log.Warn("retrieval degraded", zap.String("step", "embed"), zap.Error(err))
		return nil
	}

	entries, err := s.index.Search(ctx, vec, float32(s.cfg.RetrievalThreshold), s.cfg.RetrievalLimit)
	if err != nil {
		metrics.RetrievalDegraded.WithLabelValues("search").Inc()
		span.RecordError(err)
		log.Warn("retrieval degraded", zap.String("step", "search"), zap.Error(err))
		return nil
	}

	metrics.RetrievedEntries.Observe(float64(len(entries)))
	span.SetAttributes(attribute.Int("chat.retrieved", len(entries)))
	log.Debug("knowledge retrieved", zap.Int("entries", len(entries)))
	return entries
}

func (s *ChatService) complete(ctx context.Context, log *logger.Logger, system string, turns []model.ChatTurn, onToken llm.StreamCallback, res *ChatResult) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "chat.complete")
	defer span.End()

	res.enter(StageStreaming)
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	if onToken == nil {
		onToken = func(string, int) error { return nil }
	}

	start := time.Now()
	resp, err := s.completer.CompleteStream(ctx, &llm.CompletionRequest{
		Model:       s.cfg.Model,
		System:      system,
		Messages:    recentTurns(turns, s.cfg.ContextTurns),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}, onToken)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordLLMStream(s.cfg.Model, "error", elapsed, 0, 0)
		log.Error("completion failed", zap.String("provider", s.completer.Name()), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstreamCompletion, err)
	}

	metrics.RecordLLMStream(resp.Model, "success", elapsed, resp.TokensIn, resp.TokensOut)

	if strings.TrimSpace(resp.Content) == "" {
		log.Error("completion returned no content", zap.String("provider", s.completer.Name()))
		return "", fmt.Errorf("%w: empty reply", ErrUpstreamCompletion)
	}

	return resp.Content, nil
}

// finish persists the assistant reply, when there is one, and adds every row
// written in this exchange to the conversation's message count. It runs on a
// context detached from the client so a disconnect after the reply does not
// lose it.
func (s *ChatService) finish(ctx context.Context, log *logger.Logger, conv *model.Conversation, answer string, written int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	if answer != "" {
		if _, err := s.conversations.AppendMessage(ctx, conv, model.RoleAssistant, answer); err != nil {
			s.persistenceFailed(log, "assistant_message", err)
		} else {
			written++
		}
	}

	if err := s.conversations.IncrementMessageCount(ctx, conv.ID, written); err != nil {
		s.persistenceFailed(log, "message_count", err)
	}
}

func (s *ChatService) persistenceFailed(log *logger.Logger, operation string, err error) {
	metrics.PersistenceFailures.WithLabelValues(operation).Inc()
	log.Error("persistence failure", zap.String("operation", operation), zap.Error(err))
}

// recentTurns keeps the last n non-empty user and assistant turns, starting
// at a user turn.
func recentTurns(turns []model.ChatTurn, n int) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(turns))
	for _, t := range turns {
		if t.Role != model.RoleUser && t.Role != model.RoleAssistant {
			continue
		}
		text := t.Text()
		if text == "" {
			continue
		}
		out = append(out, llm.ChatMessage{Role: string(t.Role), Content: text})
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	for len(out) > 0 && out[0].Role != string(model.RoleUser) {
		out = out[1:]
	}
	return out
}
