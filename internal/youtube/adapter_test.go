package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatspeaker/internal/handler"
	"github.com/john/chatspeaker/internal/message"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chatServer fakes the live chat page and the get_live_chat endpoint.
type chatServer struct {
	t *testing.T

	mu          sync.Mutex
	handshakes  int
	fetches     []fetchCall
	responses   []string // JSON bodies served in order; last one repeats
	liveChatOK  bool
	pageAPIKey  string
	initialTok  string
	fetchStatus int
}

type fetchCall struct {
	Continuation string
	Key          string
}

func newChatServer(t *testing.T) (*chatServer, *httptest.Server) {
	cs := &chatServer{
		t:           t,
		liveChatOK:  true,
		pageAPIKey:  "test-api-key",
		initialTok:  "token-0",
		fetchStatus: http.StatusOK,
	}
	srv := httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(srv.Close)
	return cs, srv
}

func (cs *chatServer) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/live_chat":
		cs.mu.Lock()
		cs.handshakes++
		ok := cs.liveChatOK
		key := cs.pageAPIKey
		tok := cs.initialTok
		cs.mu.Unlock()

		if !ok {
			fmt.Fprint(w, "<html><body>This video is not currently live.</body></html>")
			return
		}
		initial := fmt.Sprintf(`{"contents":{"liveChatRenderer":{"continuations":[{"invalidationContinuationData":{"continuation":%q}}]}}}`, tok)
		fmt.Fprintf(w, `<html><script>"INNERTUBE_API_KEY": %q</script><script>var ytInitialData = %s;</script></html>`, key, initial)

	case "/youtubei/v1/live_chat/get_live_chat":
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Continuation string `json:"continuation"`
		}
		json.Unmarshal(body, &req)

		cs.mu.Lock()
		cs.fetches = append(cs.fetches, fetchCall{Continuation: req.Continuation, Key: r.URL.Query().Get("key")})
		idx := len(cs.fetches) - 1
		if idx >= len(cs.responses) {
			idx = len(cs.responses) - 1
		}
		status := cs.fetchStatus
		var resp string
		if idx >= 0 {
			resp = cs.responses[idx]
		}
		cs.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		if resp == "" {
			resp = emptyBatch("token-next")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, resp)

	default:
		http.NotFound(w, r)
	}
}

func (cs *chatServer) fetchCalls() []fetchCall {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]fetchCall, len(cs.fetches))
	copy(out, cs.fetches)
	return out
}

func (cs *chatServer) handshakeCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.handshakes
}

func emptyBatch(nextToken string) string {
	return fmt.Sprintf(`{"continuationContents":{"liveChatContinuation":{"continuations":[{"invalidationContinuationData":{"continuation":%q}}],"actions":[]}}}`, nextToken)
}

func newTestAdapter(srvURL string) *Adapter {
	a := New("dQw4w9WgXcQ", testLogger())
	a.baseURL = srvURL
	a.pollInterval = time.Millisecond
	return a
}

func TestConnectExtractsContinuationAndKey(t *testing.T) {
	_, srv := newChatServer(t)
	a := newTestAdapter(srv.URL)

	require.NoError(t, a.connect(context.Background()))
	assert.Equal(t, "token-0", a.continuation)
	assert.Equal(t, "test-api-key", a.apiKey)
}

func TestConnectFailsWhenStreamNotLive(t *testing.T) {
	cs, srv := newChatServer(t)
	cs.liveChatOK = false
	a := newTestAdapter(srv.URL)

	err := a.connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not live")
}

func TestFetchUsesReplacementToken(t *testing.T) {
	cs, srv := newChatServer(t)
	cs.responses = []string{emptyBatch("token-1"), emptyBatch("token-2")}
	a := newTestAdapter(srv.URL)
	require.NoError(t, a.connect(context.Background()))

	_, err := a.fetchMessages(context.Background())
	require.NoError(t, err)
	_, err = a.fetchMessages(context.Background())
	require.NoError(t, err)

	calls := cs.fetchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "token-0", calls[0].Continuation)
	assert.Equal(t, "token-1", calls[1].Continuation, "second fetch must carry the replacement token")
	assert.Equal(t, "test-api-key", calls[0].Key)
}

func TestEmptyFetchesTriggerRehandshake(t *testing.T) {
	cs, srv := newChatServer(t)
	a := newTestAdapter(srv.URL)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	// 30 consecutive empty batches force the adapter back to the page for a
	// fresh handshake.
	require.Eventually(t, func() bool {
		return cs.handshakeCount() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	calls := cs.fetchCalls()
	require.GreaterOrEqual(t, len(calls), a.emptyThreshold)
}

func TestRunEndsWhenRehandshakeFails(t *testing.T) {
	cs, srv := newChatServer(t)
	a := newTestAdapter(srv.URL)
	require.NoError(t, a.Start(context.Background()))

	// Stream "ends": the page stops yielding a continuation token.
	cs.mu.Lock()
	cs.liveChatOK = false
	cs.mu.Unlock()

	assert.Eventually(t, func() bool {
		return a.State() == handler.StateIdle
	}, 5*time.Second, 5*time.Millisecond)
	a.Stop()
}

func TestParseBatchSkipsMalformedEvents(t *testing.T) {
	cs, srv := newChatServer(t)
	batch := `{"continuationContents":{"liveChatContinuation":{
		"continuations":[{"invalidationContinuationData":{"continuation":"token-1"}}],
		"actions":[
			{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{
				"authorName":{"simpleText":"alice"},
				"authorExternalChannelId":"UCalice",
				"message":{"runs":[{"text":"hello "},{"text":"world"}]},
				"authorBadges":[{"liveChatAuthorBadgeRenderer":{"icon":{"iconType":"MODERATOR"}}}]
			}}}},
			{"addChatItemAction":{"item":{"liveChatViewerEngagementMessageRenderer":{}}}},
			{"markChatItemAsDeletedAction":{}},
			{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{
				"authorName":{"simpleText":"bob"},
				"message":{"runs":[{"text":"hi"}]},
				"authorBadges":[{"liveChatAuthorBadgeRenderer":{"icon":{"iconType":"MEMBER"}}}]
			}}}}
		]}}}`
	cs.responses = []string{batch}
	a := newTestAdapter(srv.URL)
	require.NoError(t, a.connect(context.Background()))

	msgs, err := a.fetchMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2, "unrecognized events are skipped, not fatal")

	assert.Equal(t, message.PlatformYouTube, msgs[0].Platform)
	assert.Equal(t, "alice", msgs[0].Username)
	assert.Equal(t, "hello world", msgs[0].Text)
	assert.Equal(t, "UCalice", msgs[0].UserID)
	assert.True(t, msgs[0].IsModerator)
	assert.False(t, msgs[0].IsSubscriber)
	assert.Equal(t, []string{"MODERATOR"}, msgs[0].Badges)

	assert.Equal(t, "bob", msgs[1].Username)
	assert.True(t, msgs[1].IsSubscriber)
	assert.False(t, msgs[1].IsModerator)
}

func TestFetchErrorIsTransient(t *testing.T) {
	cs, srv := newChatServer(t)
	a := newTestAdapter(srv.URL)
	require.NoError(t, a.connect(context.Background()))

	cs.mu.Lock()
	cs.fetchStatus = http.StatusServiceUnavailable
	cs.mu.Unlock()

	_, err := a.fetchMessages(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	// The session token survives a transient failure.
	assert.Equal(t, "token-0", a.continuation)
}
