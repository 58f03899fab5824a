package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/baechuer/activity-sync/internal/domain"
	"github.com/baechuer/activity-sync/internal/logger"
	"github.com/baechuer/activity-sync/internal/metrics"
	"github.com/baechuer/activity-sync/internal/tracing"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	default:
		return "disconnected"
	}
}

var errNotJoined = errors.New("channel not joined")

// TokenSource supplies the bearer token presented when connecting.
type TokenSource interface {
	Token() (string, error)
}

// CommentSink receives comments pushed for the activity the channel was
// opened for. It decides whether that activity is still the one on display.
type CommentSink interface {
	ReceiveComment(activityID string, c domain.Comment) bool
}

// BroadcastSink receives generic hub notices.
type BroadcastSink interface {
	Broadcast(message string)
}

type Config struct {
	URL           string
	InvokeTimeout time.Duration
	// SendRate caps outgoing comments per second. Zero means unlimited.
	SendRate float64
}

// Manager owns at most one chat connection, bound to one activity.
type Manager struct {
	cfg        Config
	tokens     TokenSource
	comments   CommentSink
	broadcasts BroadcastSink
	limiter    *rate.Limiter

	// lifecycle serializes Open, Close and the invoke step of SendComment.
	lifecycle sync.Mutex

	mu         sync.Mutex
	state      State
	activityID string
	conn       *conn
}

func NewManager(cfg Config, tokens TokenSource, comments CommentSink, broadcasts BroadcastSink) *Manager {
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), 3)
	}
	return &Manager{
		cfg:        cfg,
		tokens:     tokens,
		comments:   comments,
		broadcasts: broadcasts,
		limiter:    limiter,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActivityID is the activity the open channel is bound to, or "".
func (m *Manager) ActivityID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activityID
}

// Open connects and joins activityID's group. A channel that is already open
// is closed first.
func (m *Manager) Open(ctx context.Context, activityID string) (err error) {
	ctx, span := tracing.StartChannel(ctx, "open", activityID)
	defer func() { tracing.End(span, err) }()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	log := logger.Ctx(ctx).With().Str("activity_id", activityID).Logger()

	if m.current() != nil {
		log.Debug().Str("previous", m.ActivityID()).Msg("channel_replacing_open")
		_ = m.closeLocked(ctx)
	}

	m.setState(StateConnecting, activityID, nil)
	metrics.ChannelEventsTotal.WithLabelValues("open").Inc()

	token, err := m.tokens.Token()
	if err != nil {
		return m.fail(ctx, "connect", err)
	}

	c, err := dial(ctx, m.cfg.URL, token, m.dispatch(activityID))
	if err != nil {
		return m.fail(ctx, "connect", err)
	}
	m.setState(StateConnecting, activityID, c)

	ictx, cancel := context.WithTimeout(ctx, m.cfg.InvokeTimeout)
	defer cancel()
	if err := c.invoke(ictx, MethodAddToGroup, activityID); err != nil {
		c.close()
		return m.fail(ctx, "join", err)
	}

	m.setState(StateJoined, activityID, c)
	go m.watch(c)

	metrics.ChannelEventsTotal.WithLabelValues("joined").Inc()
	log.Info().Msg("channel_joined")
	return nil
}

// Close leaves the group and stops the connection. The connection is stopped
// even when leaving fails; the leave error is returned.
func (m *Manager) Close(ctx context.Context) (err error) {
	ctx, span := tracing.StartChannel(ctx, "close", m.ActivityID())
	defer func() { tracing.End(span, err) }()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.closeLocked(ctx)
}

func (m *Manager) closeLocked(ctx context.Context) error {
	m.mu.Lock()
	c, id := m.conn, m.activityID
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	m.setState(StateLeaving, id, c)

	ictx, cancel := context.WithTimeout(ctx, m.cfg.InvokeTimeout)
	defer cancel()

	var leaveErr error
	if err := c.invoke(ictx, MethodRemoveFromGroup, id); err != nil {
		leaveErr = domain.ChannelError("leave", err)
		metrics.ChannelEventsTotal.WithLabelValues("leave_failed").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("activity_id", id).Msg("channel_leave_failed")
	}

	c.close()
	m.setState(StateDisconnected, "", nil)
	metrics.ChannelEventsTotal.WithLabelValues("closed").Inc()
	logger.Ctx(ctx).Info().Str("activity_id", id).Msg("channel_closed")
	return leaveErr
}

// SendComment posts body to the bound activity. The comment shows up locally
// only when the hub echoes it back. The throttle wait happens outside the
// lifecycle lock.
func (m *Manager) SendComment(ctx context.Context, body string) (err error) {
	c, id, ok := m.joined()
	ctx, span := tracing.StartChannel(ctx, "send_comment", id)
	defer func() { tracing.End(span, err) }()

	if !ok {
		return m.sendFailed(ctx, "", errNotJoined)
	}

	ictx, cancel := context.WithTimeout(ctx, m.cfg.InvokeTimeout)
	defer cancel()
	if err := m.limiter.Wait(ictx); err != nil {
		metrics.ChannelEventsTotal.WithLabelValues("send_throttled").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("activity_id", id).Msg("channel_send_throttled")
		return domain.ChannelError("send_comment", err)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	// The channel may have been closed or rebound while throttled.
	if cur, _, ok := m.joined(); !ok || cur != c {
		return m.sendFailed(ctx, id, errNotJoined)
	}
	if err := c.invoke(ictx, MethodSendComment, CommentInput{ActivityID: id, Body: body}); err != nil {
		return m.sendFailed(ctx, id, err)
	}
	metrics.ChannelEventsTotal.WithLabelValues("comment_sent").Inc()
	return nil
}

func (m *Manager) joined() (*conn, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.activityID, m.conn != nil && m.state == StateJoined
}

func (m *Manager) sendFailed(ctx context.Context, activityID string, err error) error {
	metrics.ChannelEventsTotal.WithLabelValues("send_failed").Inc()
	logger.Ctx(ctx).Warn().Err(err).Str("activity_id", activityID).Msg("channel_send_failed")
	return domain.ChannelError("send_comment", err)
}

// dispatch routes hub events for a connection bound to activityID.
func (m *Manager) dispatch(activityID string) func(Frame) {
	return func(f Frame) {
		switch f.Target {
		case EventReceiveComment:
			if len(f.Arguments) == 0 || m.comments == nil {
				return
			}
			var c domain.Comment
			if err := json.Unmarshal(f.Arguments[0], &c); err != nil {
				logger.Log.Warn().Err(err).Msg("channel_comment_invalid")
				return
			}
			metrics.ChannelEventsTotal.WithLabelValues("comment_received").Inc()
			m.comments.ReceiveComment(activityID, c)

		case EventSend:
			if len(f.Arguments) == 0 || m.broadcasts == nil {
				return
			}
			var msg string
			if err := json.Unmarshal(f.Arguments[0], &msg); err != nil {
				logger.Log.Warn().Err(err).Msg("channel_notice_invalid")
				return
			}
			metrics.ChannelEventsTotal.WithLabelValues("broadcast").Inc()
			m.broadcasts.Broadcast(msg)

		default:
			logger.Log.Debug().Str("target", f.Target).Msg("channel_event_ignored")
		}
	}
}

// watch collapses the state when the hub drops c.
func (m *Manager) watch(c *conn) {
	<-c.closed

	m.mu.Lock()
	if m.conn != c || m.state != StateJoined {
		m.mu.Unlock()
		return
	}
	id := m.activityID
	m.state = StateDisconnected
	m.activityID = ""
	m.conn = nil
	m.mu.Unlock()

	metrics.ChannelState.Set(float64(StateDisconnected))
	metrics.ChannelEventsTotal.WithLabelValues("dropped").Inc()
	logger.Log.Warn().Str("activity_id", id).Msg("channel_dropped")
}

func (m *Manager) fail(ctx context.Context, op string, err error) error {
	m.setState(StateDisconnected, "", nil)
	metrics.ChannelEventsTotal.WithLabelValues(op + "_failed").Inc()
	logger.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("channel_" + op + "_failed")
	return domain.ChannelError(op, err)
}

func (m *Manager) current() *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) setState(s State, activityID string, c *conn) {
	m.mu.Lock()
	m.state = s
	m.activityID = activityID
	m.conn = c
	m.mu.Unlock()
	metrics.ChannelState.Set(float64(s))
}
