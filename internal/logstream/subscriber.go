// Package logstream subscribes to the backend's execution log push channel.
package logstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// State is the connection state of a Subscriber.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

const defaultReadLimit = 1 << 20

// TraceSink persists received log messages. Satisfied by store.Store.
type TraceSink interface {
	AppendTrace(ctx context.Context, msg schema.LogMessage) (*store.Trace, error)
}

// Config configures a Subscriber.
type Config struct {
	URL           string // ws:// or wss:// base; path defaults to /ws/
	Token         string
	Backoff       backend.Backoff
	MaxReconnects int // 0 reconnects forever
	ReadLimit     int64
	Logger        *slog.Logger
}

// Stats counts messages seen by a Subscriber.
type Stats struct {
	Received   uint64 `json:"received"`
	Duplicates uint64 `json:"duplicates"`
	Malformed  uint64 `json:"malformed"`
	Reconnects uint64 `json:"reconnects"`
}

// Subscriber reads log messages from the push channel, appends them to the
// trace store and publishes them to the hub.
type Subscriber struct {
	url           string
	sink          TraceSink
	hub           streaming.EventHub
	backoff       backend.Backoff
	maxReconnects int
	readLimit     int64
	logger        *slog.Logger

	mu    sync.Mutex
	state State
	prev  []byte

	received   atomic.Uint64
	duplicates atomic.Uint64
	malformed  atomic.Uint64
	reconnects atomic.Uint64
}

// New creates a Subscriber. sink and hub may be nil.
func New(cfg Config, sink TraceSink, hub streaming.EventHub) (*Subscriber, error) {
	u, err := streamURL(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}
	backoff := cfg.Backoff
	if backoff.Base == 0 {
		backoff = backend.DefaultBackoff
	}
	limit := cfg.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		url:           u,
		sink:          sink,
		hub:           hub,
		backoff:       backoff,
		maxReconnects: cfg.MaxReconnects,
		readLimit:     limit,
		logger:        logger,
		state:         StateDisconnected,
	}, nil
}

// streamURL resolves the push endpoint and attaches the token query parameter.
func streamURL(base, token string) (string, error) {
	if base == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "log stream url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid log stream url %q", base).WithCause(err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unsupported log stream scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stats returns message counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Received:   s.received.Load(),
		Duplicates: s.duplicates.Load(),
		Malformed:  s.malformed.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// Run connects and consumes messages until ctx is done or reconnect
// attempts run out. It returns nil when ctx ends the subscription.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.setState(StateClosed)

	attempt := 0
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		if s.maxReconnects > 0 && attempt >= s.maxReconnects {
			return schema.NewErrorf(schema.ErrCodeTransport, "log stream: giving up after %d reconnects", attempt).WithCause(err)
		}

		delay := s.backoff.Delay(attempt)
		s.logger.WarnContext(ctx, "log stream disconnected",
			slog.String("error", errString(err)),
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
		)
		attempt++
		s.reconnects.Add(1)
		if err := backend.Wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// session dials once and reads until the connection fails.
func (s *Subscriber) session(ctx context.Context) (bool, error) {
	s.setState(StateConnecting)
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return false, fmt.Errorf("dial log stream: %w", err)
	}
	conn.SetReadLimit(s.readLimit)
	defer conn.CloseNow()

	s.setState(StateConnected)
	s.logger.InfoContext(ctx, "log stream connected")

	err = s.consume(ctx, conn)
	s.setState(StateDisconnected)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true, errors.New("server closed the log stream")
	}
	return true, err
}

func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.malformed.Add(1)
			continue
		}
		s.Handle(ctx, data)
	}
}

// Handle processes one raw message frame. Frames identical to the previous
// one are dropped.
func (s *Subscriber) Handle(ctx context.Context, data []byte) {
	s.mu.Lock()
	dup := s.prev != nil && bytes.Equal(s.prev, data)
	if !dup {
		s.prev = append(s.prev[:0], data...)
	}
	s.mu.Unlock()
	if dup {
		s.duplicates.Add(1)
		return
	}

	var msg schema.LogMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.malformed.Add(1)
		s.logger.WarnContext(ctx, "dropping malformed log message", slog.String("error", err.Error()))
		return
	}
	if msg.WorkflowID.IsZero() {
		s.malformed.Add(1)
		s.logger.WarnContext(ctx, "dropping log message without workflow_id")
		return
	}
	s.received.Add(1)

	if s.sink != nil {
		if _, err := s.sink.AppendTrace(ctx, msg); err != nil {
			s.logger.ErrorContext(ctx, "append trace failed",
				slog.String("workflow_id", msg.WorkflowID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.FromLog(msg))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
