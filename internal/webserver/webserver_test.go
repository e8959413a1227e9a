package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demo-chatter/internal/analytics"
	"demo-chatter/internal/conversation"
	"demo-chatter/internal/storage"
	"demo-chatter/internal/store"
)

func newTestServer(t *testing.T, delay time.Duration, limit float64, burst int) (*WebServer, *store.Store) {
	t.Helper()
	logger := log.New(io.Discard)
	st, err := store.Open(context.Background(), store.Options{
		Storage: storage.NewMemoryKV(),
		Delay:   store.FixedDelay(delay),
		Logger:  logger,
	})
	require.NoError(t, err)
	ws := New(st, Options{RateLimit: limit, RateBurst: burst, Logger: logger})
	t.Cleanup(func() {
		_ = ws.Stop()
		_ = st.Close()
	})
	return ws, st
}

func do(t *testing.T, ws *WebServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHandleStatus(t *testing.T) {
	ws, _ := newTestServer(t, time.Millisecond, 0, 0)
	rr := do(t, ws, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["conversations"])

	rr = do(t, ws, http.MethodPost, "/api/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type fixedReports bool

func (f fixedReports) IsRunning() bool { return bool(f) }

func TestHandleStatusReports(t *testing.T) {
	logger := log.New(io.Discard)
	st, err := store.Open(context.Background(), store.Options{Storage: storage.NewMemoryKV(), Logger: logger})
	require.NoError(t, err)
	defer st.Close()

	for _, running := range []bool{true, false} {
		ws := New(st, Options{Reports: fixedReports(running), Logger: logger})
		rr := do(t, ws, http.MethodGet, "/api/status", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, running, resp["reports"])
		require.NoError(t, ws.Stop())
	}
}

func TestHandleStats(t *testing.T) {
	ws, st := newTestServer(t, time.Millisecond, 0, 0)
	_, err := st.SendMessage("hello")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.WaitIdle(ctx))

	rr := do(t, ws, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats analytics.DailyStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, time.Now().UTC().Format(time.DateOnly), stats.Date)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.UserMessages)
	assert.Equal(t, 1, stats.ActiveConversations)

	rr = do(t, ws, http.MethodGet, "/api/stats?date=2001-02-03", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, "2001-02-03", stats.Date)
	assert.Zero(t, stats.TotalMessages)

	rr = do(t, ws, http.MethodGet, "/api/stats?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendMessageFlow(t *testing.T) {
	ws, st := newTestServer(t, 10*time.Millisecond, 0, 0)

	rr := do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "hello"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var msg conversation.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, conversation.RoleUser, msg.Role)

	rr = do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "again"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, ws, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var state store.State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.True(t, state.IsTyping)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.WaitIdle(ctx))

	rr = do(t, ws, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []conversation.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
}

func TestSendMessageBlankAndInvalid(t *testing.T) {
	ws, st := newTestServer(t, time.Millisecond, 0, 0)

	rr := do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "   "})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, st.Messages())

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationsEndpoints(t *testing.T) {
	ws, st := newTestServer(t, time.Millisecond, 0, 0)
	first := st.ActiveConversationID()

	rr := do(t, ws, http.MethodPost, "/api/conversations", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created conversation.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, created.ID, st.ActiveConversationID())

	rr = do(t, ws, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []conversation.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, created.ID, list[0].ID)

	rr = do(t, ws, http.MethodGet, "/api/conversations/"+first, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, ws, http.MethodGet, "/api/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, ws, http.MethodGet, "/api/conversations/", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, ws, http.MethodDelete, "/api/conversations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, first, st.ActiveConversationID())
	rr = do(t, ws, http.MethodDelete, "/api/conversations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestActiveEndpoint(t *testing.T) {
	ws, st := newTestServer(t, time.Millisecond, 0, 0)
	first := st.ActiveConversationID()
	_, err := st.StartNewConversation()
	require.NoError(t, err)

	rr := do(t, ws, http.MethodPut, "/api/active", activeRequest{ID: first})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, first, st.ActiveConversationID())

	rr = do(t, ws, http.MethodPut, "/api/active", activeRequest{ID: "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, first, st.ActiveConversationID())

	rr = do(t, ws, http.MethodGet, "/api/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var c conversation.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	assert.Equal(t, first, c.ID)
}

func TestClosedStoreReturnsUnavailable(t *testing.T) {
	ws, st := newTestServer(t, time.Millisecond, 0, 0)
	require.NoError(t, st.Close())
	rr := do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRateLimit(t *testing.T) {
	ws, _ := newTestServer(t, time.Hour, 0.001, 2)

	// burst of two passes the limiter; the second one conflicts with the pending reply
	rr := do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "one"})
	assert.Equal(t, http.StatusAccepted, rr.Code)
	rr = do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "two"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: "three"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// reads are not throttled
	rr = do(t, ws, http.MethodGet, "/api/messages", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitConcurrentSameClient(t *testing.T) {
	ws, _ := newTestServer(t, time.Hour, 0.001, 3)

	const requests = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// blank sends are accepted as no-ops, so only the limiter can refuse them
			rr := do(t, ws, http.MethodPost, "/api/messages", sendRequest{Content: " "})
			if rr.Code != http.StatusTooManyRequests {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, allowed)
}

func TestRoot(t *testing.T) {
	ws, _ := newTestServer(t, time.Millisecond, 0, 0)
	assert.Equal(t, http.StatusOK, do(t, ws, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, ws, http.MethodGet, "/elsewhere", nil).Code)
}

func TestEventsStream(t *testing.T) {
	ws, st := newTestServer(t, 200*time.Millisecond, 0, 0)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readState := func() store.State {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var s store.State
		require.NoError(t, json.Unmarshal(data, &s))
		return s
	}

	initial := readState()
	require.Len(t, initial.Conversations, 1)
	assert.False(t, initial.IsTyping)

	_, err = st.SendMessage("hello")
	require.NoError(t, err)

	typing := readState()
	assert.True(t, typing.IsTyping)
	replied := readState()
	assert.False(t, replied.IsTyping)
	active, ok := replied.Active()
	require.True(t, ok)
	assert.Len(t, active.Messages, 2)
}

func TestEventsStreamEndsOnLatestState(t *testing.T) {
	ws, st := newTestServer(t, time.Hour, 0, 0)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conns := make([]*websocket.Conn, 0, 5)
	for i := 0; i < 5; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}

	for i := 0; i < 100; i++ {
		_, err := st.StartNewConversation()
		require.NoError(t, err)
	}
	want := st.State()

	for _, conn := range conns {
		var last store.State
		for len(last.Conversations) != len(want.Conversations) {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err, "stream stopped before reaching the latest state")
			var s store.State
			require.NoError(t, json.Unmarshal(data, &s))
			require.GreaterOrEqual(t, len(s.Conversations), len(last.Conversations), "snapshot went backwards")
			last = s
		}
		assert.Equal(t, want.ActiveConversationID, last.ActiveConversationID)
		assert.Equal(t, want.Conversations[0].ID, last.Conversations[0].ID)

		// nothing newer exists, so the stream goes quiet
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
}

func TestNewPanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() { New(nil, Options{}) })
}
