package voicechat

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// SessionOptions tunes connection timing. Zero values take the defaults
// below.
type SessionOptions struct {
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	BaseRetryDelay   time.Duration
	RetryGrowth      float64
	MaxRetryAttempts int
}

const (
	defaultDialTimeout      = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultBaseRetryDelay   = 2 * time.Second
	defaultRetryGrowth      = 1.5
	defaultMaxRetryAttempts = 5
)

func (o SessionOptions) withDefaults() SessionOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = defaultBaseRetryDelay
	}
	if o.RetryGrowth <= 1 {
		o.RetryGrowth = defaultRetryGrowth
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	return o
}

// backoffDelay is the wait before reconnect attempt number attempts (zero
// based), growing geometrically from base.
func backoffDelay(base time.Duration, growth float64, attempts int) time.Duration {
	return time.Duration(float64(base) * math.Pow(growth, float64(attempts)))
}

type messageSub struct {
	id int
	fn MessageHandler
}

type statusSub struct {
	id int
	fn StatusHandler
}

// Session owns one websocket connection and its lifecycle: dialing, the read
// loop, automatic reconnection after unclean closes, and fan-out of control
// messages and status transitions to subscribers.
//
// Text frames are parsed as ControlMessage, routed to the protocol hook
// first and then to every message subscriber in registration order. Binary
// frames go to the single binary handler. A panicking subscriber is logged
// and never blocks the others.
type Session struct {
	logger zerolog.Logger
	opts   SessionOptions

	// Internal routing, wired by the owning client before first Connect.
	protocol   func(ControlMessage)
	onTeardown func()

	mu             sync.Mutex
	cfg            Config
	conn           *websocket.Conn
	connGen        int
	open           bool
	connecting     bool
	closedByUser   bool
	status         Status
	retryIn        int
	connectedAt    *time.Time
	sessionID      string
	attempts       int
	reconnectTimer *time.Timer
	readCancel     context.CancelFunc

	nextSubID     int
	messageSubs   []messageSub
	statusSubs    []statusSub
	binaryHandler BinaryHandler
}

func NewSession(logger zerolog.Logger, opts SessionOptions) *Session {
	return &Session{
		logger: logger,
		opts:   opts.withDefaults(),
		status: StatusDisconnected,
	}
}

// Connect dials the endpoint in cfg. It returns true when the session is
// connected by the time it returns, including the case where it already was.
// A Connect while another Connect is in flight returns false without
// starting a second dial. A failed dial schedules automatic reconnection.
func (s *Session) Connect(ctx context.Context, cfg Config) bool {
	s.mu.Lock()
	if s.open {
		s.logger.Debug().Msg("already connected")
		s.mu.Unlock()
		return true
	}
	if s.connecting {
		s.logger.Info().Msg("connection attempt already in progress")
		s.mu.Unlock()
		return false
	}
	s.connecting = true
	s.closedByUser = false
	s.cfg = cfg
	s.stopReconnectTimerLocked()
	s.mu.Unlock()

	s.transition(StatusConnecting, 0)

	target, err := buildURL(cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("invalid endpoint")
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		s.transition(StatusError, 0)
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		if timedOut {
			s.logger.Error().Str("url", target).Msg("connection timed out")
			s.transition(StatusTimeout, 0)
		} else {
			s.logger.Error().Err(err).Str("url", target).Msg("connection failed")
			s.transition(StatusError, 0)
		}
		s.scheduleReconnect()
		return false
	}
	conn.SetReadLimit(1 << 23)

	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.connecting = false
	s.closedByUser = false
	s.sessionID = ""
	s.attempts = 0
	now := time.Now()
	s.connectedAt = &now
	s.connGen++
	gen := s.connGen
	readCtx, readCancel := context.WithCancel(context.Background())
	s.readCancel = readCancel
	s.status = StatusConnected
	s.retryIn = 0
	snap := s.snapshotLocked()
	subs := s.statusSubsLocked()
	s.mu.Unlock()

	s.emitStatus(snap, subs)
	s.logger.Info().Str("url", target).Msg("connected")
	go s.readLoop(readCtx, conn, gen)
	return true
}

// Disconnect closes the connection with a normal closure code and cancels
// any pending reconnection. It reports whether there was anything to tear
// down; calling it again is a no-op.
func (s *Session) Disconnect() bool {
	s.mu.Lock()
	hadTimer := s.reconnectTimer != nil
	s.stopReconnectTimerLocked()
	conn := s.conn
	cancel := s.readCancel
	wasOpen := s.open
	s.conn = nil
	s.open = false
	s.closedByUser = true
	s.sessionID = ""
	s.connectedAt = nil
	s.connGen++
	s.readCancel = nil
	s.mu.Unlock()

	if s.onTeardown != nil {
		s.onTeardown()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if wasOpen {
		s.logger.Info().Msg("disconnected")
	}
	s.transition(StatusDisconnectedClean, 0)
	return wasOpen || hadTimer
}

// Reconnect tears the current connection down, resets the retry budget and
// dials again with the given configuration.
func (s *Session) Reconnect(ctx context.Context, cfg Config) bool {
	s.logger.Info().Msg("manual reconnect")
	s.Disconnect()
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	return s.Connect(ctx, cfg)
}

// SendText submits one user utterance as a listen/text control frame.
// Empty or all-whitespace text is rejected.
func (s *Session) SendText(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return s.send(ControlMessage{Type: TypeListen, State: StateText, Text: text})
}

// SendControl submits an arbitrary control frame.
func (s *Session) SendControl(msg ControlMessage) bool {
	return s.send(msg)
}

func (s *Session) send(msg ControlMessage) bool {
	s.mu.Lock()
	conn := s.conn
	open := s.open
	s.mu.Unlock()
	if !open || conn == nil {
		s.logger.Error().Str("type", msg.Type).Msg("cannot send, not connected")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		s.logger.Error().Err(err).Str("type", msg.Type).Msg("send failed")
		return false
	}
	return true
}

// Connected reports whether the session currently has an open connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Status returns the current connection snapshot.
func (s *Session) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SessionID returns the server-assigned conversation identifier, empty until
// the server announces one.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// OnMessage registers a control message subscriber and returns a handle for
// OffMessage. Subscribers run in registration order.
func (s *Session) OnMessage(h MessageHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	s.messageSubs = append(s.messageSubs, messageSub{id: s.nextSubID, fn: h})
	return s.nextSubID
}

// OffMessage removes a subscriber. Unknown handles are ignored.
func (s *Session) OffMessage(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messageSubs {
		if s.messageSubs[i].id == id {
			s.messageSubs = append(s.messageSubs[:i], s.messageSubs[i+1:]...)
			return
		}
	}
}

// OnStatusChange registers a status subscriber and returns a handle for
// OffStatusChange.
func (s *Session) OnStatusChange(h StatusHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	s.statusSubs = append(s.statusSubs, statusSub{id: s.nextSubID, fn: h})
	return s.nextSubID
}

func (s *Session) OffStatusChange(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.statusSubs {
		if s.statusSubs[i].id == id {
			s.statusSubs = append(s.statusSubs[:i], s.statusSubs[i+1:]...)
			return
		}
	}
}

// SetBinaryHandler installs the media frame consumer. Only one handler is
// active; a later call replaces the earlier one.
func (s *Session) SetBinaryHandler(h BinaryHandler) {
	s.mu.Lock()
	s.binaryHandler = h
	s.mu.Unlock()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		if typ == websocket.MessageBinary {
			s.dispatchBinary(data)
		} else {
			s.dispatchText(data)
		}
	}
}

func (s *Session) handleClose(gen int, err error) {
	s.mu.Lock()
	if gen != s.connGen {
		// A newer connection already replaced this one.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.open = false
	s.connectedAt = nil
	wasClean := s.closedByUser || websocket.CloseStatus(err) == websocket.StatusNormalClosure
	s.mu.Unlock()

	if wasClean {
		s.logger.Info().Msg("connection closed")
		s.transition(StatusDisconnectedClean, 0)
		return
	}
	s.logger.Warn().Err(err).Msg("connection lost")
	s.transition(StatusDisconnected, 0)
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closedByUser {
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.opts.MaxRetryAttempts {
		s.mu.Unlock()
		s.logger.Error().Int("attempts", s.opts.MaxRetryAttempts).Msg("reconnect failed, giving up")
		s.transition(StatusReconnectFailed, 0)
		return
	}
	delay := backoffDelay(s.opts.BaseRetryDelay, s.opts.RetryGrowth, s.attempts)
	retryIn := int(math.Ceil(delay.Seconds()))
	cfg := s.cfg
	s.stopReconnectTimerLocked()
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		if s.closedByUser || s.open {
			s.mu.Unlock()
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()
		s.logger.Info().Int("attempt", attempt).Msg("reconnecting")
		s.Connect(context.Background(), cfg)
	})
	s.mu.Unlock()

	s.logger.Warn().Dur("delay", delay).Msg("reconnect scheduled")
	s.transition(StatusReconnectWait, retryIn)
}

func (s *Session) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) dispatchText(data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Error().Err(err).Msg("malformed control message")
		return
	}

	if msg.SessionID != "" {
		s.mu.Lock()
		latched := false
		if s.sessionID == "" && s.open {
			s.sessionID = msg.SessionID
			latched = true
		}
		snap := s.snapshotLocked()
		subs := s.statusSubsLocked()
		s.mu.Unlock()
		if latched {
			s.logger.Debug().Str("session_id", msg.SessionID).Msg("session established")
			s.emitStatus(snap, subs)
		}
	}

	if s.protocol != nil {
		s.protocol(msg)
	}

	s.mu.Lock()
	subs := make([]messageSub, len(s.messageSubs))
	copy(subs, s.messageSubs)
	s.mu.Unlock()
	for _, sub := range subs {
		s.safeInvoke(func() { sub.fn(msg) })
	}
}

func (s *Session) dispatchBinary(data []byte) {
	s.mu.Lock()
	h := s.binaryHandler
	s.mu.Unlock()
	if h == nil {
		s.logger.Debug().Int("bytes", len(data)).Msg("binary frame dropped, no handler")
		return
	}
	s.safeInvoke(func() { h(data) })
}

// safeInvoke isolates subscriber panics from the read loop and from other
// subscribers.
func (s *Session) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}

func (s *Session) transition(status Status, retryIn int) {
	s.mu.Lock()
	s.status = status
	s.retryIn = retryIn
	snap := s.snapshotLocked()
	subs := s.statusSubsLocked()
	s.mu.Unlock()
	s.emitStatus(snap, subs)
}

func (s *Session) snapshotLocked() StatusSnapshot {
	return StatusSnapshot{
		Connected:   s.open,
		Status:      s.status,
		RetryIn:     s.retryIn,
		ConnectedAt: s.connectedAt,
		SessionID:   s.sessionID,
	}
}

func (s *Session) statusSubsLocked() []statusSub {
	subs := make([]statusSub, len(s.statusSubs))
	copy(subs, s.statusSubs)
	return subs
}

func (s *Session) emitStatus(snap StatusSnapshot, subs []statusSub) {
	for _, sub := range subs {
		s.safeInvoke(func() { sub.fn(snap) })
	}
}

// buildURL appends device identity and auth to the endpoint as query
// parameters.
func buildURL(cfg Config) (string, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return "", errors.New("empty endpoint")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", errors.New("unsupported scheme: " + u.Scheme)
	}
	q := u.Query()
	if cfg.DeviceID != "" {
		q.Set("device-id", cfg.DeviceID)
	}
	if mac := firstNonEmpty(cfg.DeviceName, cfg.MACAddress); mac != "" {
		q.Set("mac_address", mac)
	}
	if cfg.Token != "" {
		q.Set("token", cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
