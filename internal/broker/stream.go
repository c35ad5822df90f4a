package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	// eventBuffer absorbs bursts of status events while the dispatcher is
	// busy; the gateway disconnects slow consumers.
	eventBuffer = 256
)

// frame is the gateway's wire envelope. Requests carry an id, method and
// params; the gateway answers with a result or error frame echoing the id.
// Push frames carry no id and are routed onto the event stream.
type frame struct {
	ID     int64           `json:"id,omitempty"`
	Type   string          `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// Stream is the websocket Transport implementation. One goroutine (the
// read pump) owns the connection's read side and routes response frames to
// pending requests and push frames onto the event channel.
type Stream struct {
	url    string
	logger zerolog.Logger

	mu      sync.Mutex // guards conn, pending, writes, seq
	conn    *websocket.Conn
	seq     int64
	pending map[int64]chan response

	events chan Event
}

var _ Transport = (*Stream)(nil)

// NewStream creates a websocket transport for the given gateway URL.
func NewStream(url string, logger zerolog.Logger) *Stream {
	return &Stream{
		url:     url,
		logger:  logger.With().Str("component", "stream").Logger(),
		pending: make(map[int64]chan response),
		events:  make(chan Event, eventBuffer),
	}
}

// Dial connects to the gateway, replacing any previous connection, and
// starts the read pump for the new connection.
func (s *Stream) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readPump(conn)
	go s.pingLoop(conn)
	s.logger.Info().Str("url", s.url).Msg("gateway connected")
	return nil
}

// Close tears down the connection. Pending requests fail with
// ErrNotConnected.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.failPendingLocked(ErrNotConnected)
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Events returns the push event stream. The channel survives reconnects.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Request performs one round trip over the current connection.
func (s *Stream) Request(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = b
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.seq++
	id := s.seq
	ch := make(chan response, 1)
	s.pending[id] = ch
	conn := s.conn
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(frame{ID: id, Type: "request", Method: method, Params: raw})
	s.mu.Unlock()

	if err != nil {
		s.dropPending(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return fmt.Errorf("%s: %w", method, resp.err)
		}
		if result != nil {
			if err := json.Unmarshal(resp.result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		s.dropPending(id)
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (s *Stream) readPump(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			s.mu.Lock()
			stale := s.conn != conn
			if !stale {
				s.conn = nil
				s.failPendingLocked(ErrNotConnected)
			}
			s.mu.Unlock()

			// A pump for a connection Dial already replaced just exits.
			if !stale {
				s.logger.Warn().Err(err).Msg("gateway connection lost")
				s.events <- DisconnectEvent{}
			}
			return
		}
		s.route(f)
	}
}

func (s *Stream) route(f frame) {
	switch f.Type {
	case "result", "error":
		s.mu.Lock()
		ch, ok := s.pending[f.ID]
		delete(s.pending, f.ID)
		s.mu.Unlock()
		if !ok {
			s.logger.Debug().Int64("id", f.ID).Msg("response for unknown request")
			return
		}
		if f.Type == "error" {
			ch <- response{err: fmt.Errorf("gateway: %s", f.Error)}
			return
		}
		ch <- response{result: f.Result}
	case "order_status":
		var ev OrderStatusEvent
		if err := json.Unmarshal(f.Params, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("malformed order_status frame")
			return
		}
		s.events <- ev
	case "position":
		var ev PositionEvent
		if err := json.Unmarshal(f.Params, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("malformed position frame")
			return
		}
		s.events <- ev
	default:
		s.logger.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		current := s.conn == conn
		if current {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
		if !current {
			return
		}
	}
}

func (s *Stream) dropPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Stream) failPendingLocked(err error) {
	for id, ch := range s.pending {
		ch <- response{err: err}
		delete(s.pending, id)
	}
}
