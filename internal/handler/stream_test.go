package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestudio/agency-assistant/internal/model"
	natsclient "github.com/framestudio/agency-assistant/internal/nats"
	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

type fakeFeed struct {
	stored     []model.MessageEvent
	live       []model.MessageEvent
	replayErr  error
	replayFrom []uint64
	watchFrom  uint64
	stopped    bool
}

func (f *fakeFeed) ReplayMessages(_ context.Context, _ string, after uint64, limit int) (*natsclient.Replay, error) {
	f.replayFrom = append(f.replayFrom, after)
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	r := &natsclient.Replay{LastSequence: after}
	for _, e := range f.stored {
		if e.Sequence <= after || len(r.Events) == limit {
			continue
		}
		r.Events = append(r.Events, e)
		r.LastSequence = e.Sequence
	}
	r.HasMore = len(r.Events) == limit
	return r, nil
}

func (f *fakeFeed) WatchMessages(_ context.Context, _ string, after uint64, fn func(model.MessageEvent)) (func(), error) {
	f.watchFrom = after
	for _, e := range f.live {
		fn(e)
	}
	return func() { f.stopped = true }, nil
}

// cancelOnWrite ends the request once a chunk containing marker is written.
type cancelOnWrite struct {
	*httptest.ResponseRecorder
	marker string
	cancel context.CancelFunc
}

func (c *cancelOnWrite) Write(b []byte) (int, error) {
	n, err := c.ResponseRecorder.Write(b)
	if bytes.Contains(b, []byte(c.marker)) {
		c.cancel()
	}
	return n, err
}

func newStreamRouter(t *testing.T, feed MessageFeed) (http.Handler, string) {
	t.Helper()

	st, err := store.Open(":memory:", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	convs := service.NewConversationService(st, nil, logger.NewNop())
	conv, err := convs.FindOrCreate(context.Background(), "s1", model.LanguageEnglish, "", "")
	require.NoError(t, err)

	h := NewStreamHandler(convs, feed, logger.NewNop())
	r := chi.NewRouter()
	r.Get("/conversations/{id}/stream", h.Stream)
	return r, conv.ID
}

func feedEvent(seq uint64, content string) model.MessageEvent {
	return model.MessageEvent{Sequence: seq, ConversationID: "c1", Role: model.RoleUser, Content: content}
}

func TestStreamHandler_ReplaysThenFollows(t *testing.T) {
	feed := &fakeFeed{
		stored: []model.MessageEvent{feedEvent(2, "first"), feedEvent(5, "second")},
		live:   []model.MessageEvent{feedEvent(8, "live-one")},
	}
	h, id := newStreamRouter(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelOnWrite{ResponseRecorder: httptest.NewRecorder(), marker: "live-one", cancel: cancel}
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+id+"/stream?after_sequence=1", nil).WithContext(ctx)

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	order := []string{
		"event: connected\ndata: {\"conversation_id\":\"" + id + "\"}",
		`"content":"first"`,
		`"content":"second"`,
		"event: replay_complete\ndata: {\"last_sequence\":5,\"message_count\":2}",
		`"content":"live-one"`,
	}
	pos := 0
	for _, part := range order {
		i := strings.Index(body[pos:], part)
		require.GreaterOrEqual(t, i, 0, "missing %q after offset %d", part, pos)
		pos += i + len(part)
	}

	assert.Equal(t, []uint64{1}, feed.replayFrom)
	assert.Equal(t, uint64(5), feed.watchFrom)
	assert.True(t, feed.stopped)
}

func TestStreamHandler_ReplaysInBatches(t *testing.T) {
	var stored []model.MessageEvent
	for i := 1; i <= replayBatchSize+3; i++ {
		stored = append(stored, feedEvent(uint64(i), "m"))
	}
	feed := &fakeFeed{stored: stored, live: []model.MessageEvent{feedEvent(999, "live-end")}}
	h, id := newStreamRouter(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelOnWrite{ResponseRecorder: httptest.NewRecorder(), marker: "live-end", cancel: cancel}
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/"+id+"/stream", nil).WithContext(ctx))

	assert.Equal(t, []uint64{0, replayBatchSize}, feed.replayFrom)
	assert.Contains(t, w.Body.String(), `"message_count":53`)
	assert.Equal(t, uint64(replayBatchSize+3), feed.watchFrom)
}

func TestStreamHandler_ReplayFailure(t *testing.T) {
	h, id := newStreamRouter(t, &fakeFeed{replayErr: errors.New("stream not found")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+id+"/stream", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "event: connected\n")
	assert.Contains(t, body, "event: error\ndata: {\"error\":\"failed to replay messages\"}")
	assert.NotContains(t, body, "replay_complete")
}

func TestStreamHandler_Rejections(t *testing.T) {
	h, id := newStreamRouter(t, &fakeFeed{})

	get := func(h http.Handler, target string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, get(h, "/conversations/nope/stream"))
	assert.Equal(t, http.StatusBadRequest, get(h, "/conversations/"+id+"/stream?after_sequence=-1"))
	assert.Equal(t, http.StatusNotFound, get(h, "/conversations/0190f6f4-0000-7000-8000-000000000000/stream"))

	disabled, id2 := newStreamRouter(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(disabled, "/conversations/"+id2+"/stream"))
}

func TestStreamHandler_Heartbeat(t *testing.T) {
	feed := &fakeFeed{}
	st, err := store.Open(":memory:", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	convs := service.NewConversationService(st, nil, logger.NewNop())
	conv, err := convs.FindOrCreate(context.Background(), "s1", model.LanguageGreek, "", "")
	require.NoError(t, err)

	sh := NewStreamHandler(convs, feed, logger.NewNop())
	sh.heartbeat = 5 * time.Millisecond
	r := chi.NewRouter()
	r.Get("/conversations/{id}/stream", sh.Stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelOnWrite{ResponseRecorder: httptest.NewRecorder(), marker: "event: heartbeat", cancel: cancel}
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/stream", nil).WithContext(ctx))

	assert.Contains(t, w.Body.String(), "event: heartbeat\ndata: {\"timestamp\":")
}
