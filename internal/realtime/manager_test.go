package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/activity-sync/internal/domain"
)

// fakeHub is an in-process chat hub speaking the frame protocol.
type fakeHub struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	live        map[*hubConn]bool
	calls       []string
	tokens      []string
	rejectJoin  bool
	rejectLeave bool
}

type hubConn struct {
	ws    *websocket.Conn
	wmu   sync.Mutex
	group string
}

func (c *hubConn) write(f Frame) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.WriteJSON(f)
}

func newFakeHub(t *testing.T) (*fakeHub, string) {
	h := &fakeHub{live: make(map[*hubConn]bool)}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &hubConn{ws: ws}

	h.mu.Lock()
	h.tokens = append(h.tokens, strings.TrimPrefix(auth, "Bearer "))
	h.live[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.live, c)
		h.mu.Unlock()
		ws.Close()
	}()

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		h.handle(c, f)
	}
}

func (h *fakeHub) handle(c *hubConn, f Frame) {
	h.mu.Lock()
	h.calls = append(h.calls, f.Target)
	reject, rejectLeave := h.rejectJoin, h.rejectLeave
	h.mu.Unlock()

	reply := Frame{Type: FrameCompletion, InvocationID: f.InvocationID}
	switch f.Target {
	case MethodAddToGroup:
		if reject {
			reply.Error = "group does not exist"
			break
		}
		var id string
		json.Unmarshal(f.Arguments[0], &id)
		h.mu.Lock()
		c.group = id
		h.mu.Unlock()
	case MethodRemoveFromGroup:
		if rejectLeave {
			reply.Error = "leave rejected"
			break
		}
		h.mu.Lock()
		c.group = ""
		h.mu.Unlock()
	case MethodSendComment:
		var in CommentInput
		json.Unmarshal(f.Arguments[0], &in)
		h.push(in.ActivityID, EventReceiveComment, domain.Comment{
			ID:        "c-" + in.Body,
			Body:      in.Body,
			Username:  "bob",
			CreatedAt: time.Now().UTC(),
		})
	}
	c.write(reply)
}

// push sends an event to every connection in group.
func (h *fakeHub) push(group, target string, arg any) {
	raw, _ := json.Marshal(arg)
	h.mu.Lock()
	var members []*hubConn
	for c := range h.live {
		if c.group == group {
			members = append(members, c)
		}
	}
	h.mu.Unlock()

	for _, c := range members {
		c.write(Frame{Type: FrameEvent, Target: target, Arguments: []json.RawMessage{raw}})
	}
}

func (h *fakeHub) groups() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for c := range h.live {
		out = append(out, c.group)
	}
	return out
}

func (h *fakeHub) liveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

func (h *fakeHub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.live {
		c.ws.Close()
	}
}

func (h *fakeHub) callLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", domain.NewError(domain.KindUnauthorized, "token", "signed out")
	}
	return string(s), nil
}

type sink struct {
	mu       sync.Mutex
	comments map[string][]domain.Comment
	notices  []string
}

func newSink() *sink { return &sink{comments: make(map[string][]domain.Comment)} }

func (s *sink) ReceiveComment(activityID string, c domain.Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[activityID] = append(s.comments[activityID], c)
	return true
}

func (s *sink) Broadcast(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, message)
}

func (s *sink) commentsFor(id string) []domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Comment(nil), s.comments[id]...)
}

func newTestManager(t *testing.T, url string, s *sink) *Manager {
	m := NewManager(Config{URL: url, InvokeTimeout: 2 * time.Second}, staticToken("tok-1"), s, s)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestManager_OpenJoinsGroup(t *testing.T) {
	hub, url := newFakeHub(t)
	m := newTestManager(t, url, newSink())

	require.NoError(t, m.Open(context.Background(), "a1"))
	assert.Equal(t, StateJoined, m.State())
	assert.Equal(t, "a1", m.ActivityID())
	assert.Equal(t, []string{"a1"}, hub.groups())
	hub.mu.Lock()
	assert.Equal(t, []string{"tok-1"}, hub.tokens)
	hub.mu.Unlock()
}

func TestManager_OpenSecondReplacesFirst(t *testing.T) {
	hub, url := newFakeHub(t)
	m := newTestManager(t, url, newSink())
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "a1"))
	require.NoError(t, m.Open(ctx, "b1"))

	assert.Equal(t, "b1", m.ActivityID())
	assert.Eventually(t, func() bool { return hub.liveCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b1"}, hub.groups())
	assert.Equal(t, []string{MethodAddToGroup, MethodRemoveFromGroup, MethodAddToGroup}, hub.callLog())
}

func TestManager_JoinFailureCollapses(t *testing.T) {
	hub, url := newFakeHub(t)
	hub.rejectJoin = true
	m := newTestManager(t, url, newSink())

	err := m.Open(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrChannelFailure)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, m.ActivityID())
	assert.Eventually(t, func() bool { return hub.liveCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ConnectFailures(t *testing.T) {
	_, url := newFakeHub(t)

	m := NewManager(Config{URL: url}, staticToken(""), nil, nil)
	assert.ErrorIs(t, m.Open(context.Background(), "a1"), domain.ErrChannelFailure)
	assert.Equal(t, StateDisconnected, m.State())

	m = NewManager(Config{URL: "ws://127.0.0.1:1/chat"}, staticToken("tok"), nil, nil)
	assert.ErrorIs(t, m.Open(context.Background(), "a1"), domain.ErrChannelFailure)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_SendCommentEchoesThroughSink(t *testing.T) {
	_, url := newFakeHub(t)
	s := newSink()
	m := newTestManager(t, url, s)
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "a1"))
	require.NoError(t, m.SendComment(ctx, "first"))
	require.NoError(t, m.SendComment(ctx, "second"))

	require.Eventually(t, func() bool { return len(s.commentsFor("a1")) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := s.commentsFor("a1")
	assert.Equal(t, "first", got[0].Body)
	assert.Equal(t, "second", got[1].Body)
}

func TestManager_SendCommentWhenClosed(t *testing.T) {
	m := NewManager(Config{URL: "ws://unused"}, staticToken("tok"), nil, nil)
	err := m.SendComment(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrChannelFailure)
}

func TestManager_EventsCarryBoundActivity(t *testing.T) {
	hub, url := newFakeHub(t)
	s := newSink()
	m := newTestManager(t, url, s)

	require.NoError(t, m.Open(context.Background(), "a1"))
	hub.push("a1", EventReceiveComment, domain.Comment{Body: "hi"})
	hub.push("a1", EventSend, "maintenance at noon")

	require.Eventually(t, func() bool { return len(s.commentsFor("a1")) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.notices) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "maintenance at noon", s.notices[0])
}

func TestManager_CloseLeavesGroup(t *testing.T) {
	hub, url := newFakeHub(t)
	m := newTestManager(t, url, newSink())
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "a1"))
	require.NoError(t, m.Close(ctx))

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, []string{MethodAddToGroup, MethodRemoveFromGroup}, hub.callLog())
	assert.Eventually(t, func() bool { return hub.liveCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, m.Close(ctx), "closing twice is a no-op")
}

func TestManager_CloseStopsSocketWhenLeaveFails(t *testing.T) {
	hub, url := newFakeHub(t)
	m := newTestManager(t, url, newSink())
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "a1"))
	hub.mu.Lock()
	hub.rejectLeave = true
	hub.mu.Unlock()

	err := m.Close(ctx)
	assert.ErrorIs(t, err, domain.ErrChannelFailure)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, m.ActivityID())
	assert.Eventually(t, func() bool { return hub.liveCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Open(ctx, "b1"), "the channel can be reopened after a failed leave")
	assert.Equal(t, StateJoined, m.State())
}

func TestManager_HubDropCollapsesState(t *testing.T) {
	hub, url := newFakeHub(t)
	m := newTestManager(t, url, newSink())

	require.NoError(t, m.Open(context.Background(), "a1"))
	hub.dropAll()

	assert.Eventually(t, func() bool { return m.State() == StateDisconnected }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, m.ActivityID())
}

func TestManager_SendCommentThrottled(t *testing.T) {
	_, url := newFakeHub(t)
	m := NewManager(Config{URL: url, InvokeTimeout: time.Second, SendRate: 0.001}, staticToken("tok"), newSink(), nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "a1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.SendComment(ctx, "burst"))
	}
	assert.ErrorIs(t, m.SendComment(ctx, "one too many"), domain.ErrChannelFailure)
	assert.Equal(t, StateJoined, m.State())
}

func TestManager_ThrottledSendDoesNotBlockClose(t *testing.T) {
	_, url := newFakeHub(t)
	m := NewManager(Config{URL: url, InvokeTimeout: 5 * time.Second, SendRate: 1}, staticToken("tok"), newSink(), nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, "a1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.SendComment(ctx, "burst"))
	}

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sent := make(chan error, 1)
	go func() { sent <- m.SendComment(sendCtx, "waiting for a token") }()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- m.Close(ctx) }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Close waited on a throttled send")
	}
	assert.Equal(t, StateDisconnected, m.State())

	cancel()
	assert.ErrorIs(t, <-sent, domain.ErrChannelFailure)
}
