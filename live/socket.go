package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	v1 "souk/contracts/push/v1"
	"souk/ids"
	"souk/transport"
)

const (
	wsSubprotocolV1 = "souk.push.v1"

	wsWriteTimeout = 5 * time.Second

	wsHeartbeatEvery   = 25 * time.Second
	wsHeartbeatTimeout = 5 * time.Second
	wsMaxPingFailures  = 3

	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB
)

// FrameHandler consumes raw inbound frames (Registry.HandleFrame).
type FrameHandler func(data []byte)

// Socket is the websocket Upstream implementation.
//
// It maintains one persistent connection, re-subscribes active topics after
// a reconnect, and hands every inbound frame to the configured handler.
// Reconnects use exponential backoff with no elapsed-time cap: the channel
// keeps trying for as long as the process lives.
type Socket struct {
	log     *slog.Logger
	url     string
	session transport.SessionProvider
	metrics *Metrics

	onFrame FrameHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	active map[string]struct{}
}

// NewSocket constructs a Socket for the given push endpoint URL.
func NewSocket(log *slog.Logger, socketURL string, session transport.SessionProvider, metrics *Metrics) *Socket {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Socket{
		log:     log,
		url:     socketURL,
		session: session,
		metrics: metrics,
		active:  make(map[string]struct{}),
	}
}

// SetHandler installs the inbound frame handler. Must be called before Run.
func (s *Socket) SetHandler(h FrameHandler) { s.onFrame = h }

// Subscribe implements Upstream. When the socket is disconnected the topic
// is recorded and subscribed on the next (re)connect.
func (s *Socket) Subscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	s.active[topic] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.writeControl(ctx, conn, v1.TypeSubscribe, topic)
}

// Unsubscribe implements Upstream.
func (s *Socket) Unsubscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	delete(s.active, topic)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.writeControl(ctx, conn, v1.TypeUnsubscribe, topic)
}

// Run connects and serves the socket until ctx is cancelled. It blocks; run
// it in its own goroutine.
func (s *Socket) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.metrics.Reconnect()
			s.log.Info("live.socket.dial.fail", "err", err)
			if werr := sleepCtx(ctx, bo.NextBackOff()); werr != nil {
				return werr
			}
			continue
		}

		bo.Reset()
		s.log.Info("live.socket.connected", "url", s.url)

		if err := s.resubscribe(ctx, conn); err != nil {
			s.log.Info("live.socket.resubscribe.fail", "err", err)
			_ = conn.Close(websocket.StatusAbnormalClosure, "resubscribe failed")
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.serve(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.metrics.Reconnect()
		s.log.Info("live.socket.disconnected")
		if werr := sleepCtx(ctx, bo.NextBackOff()); werr != nil {
			return werr
		}
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.session != nil {
		token, err := s.session.Token(ctx)
		if err != nil {
			s.log.Warn("live.socket.token.fail", "err", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, err
	}

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("subprotocol mismatch: got %q want %q", sp, wsSubprotocolV1)
	}

	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

// resubscribe restores every active topic on a fresh connection.
func (s *Socket) resubscribe(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	topics := make([]string, 0, len(s.active))
	for t := range s.active {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	for _, t := range topics {
		if err := s.writeControl(ctx, conn, v1.TypeSubscribe, t); err != nil {
			return err
		}
	}
	return nil
}

// serve runs the read loop and heartbeat until the connection dies or ctx
// is cancelled.
func (s *Socket) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(wsHeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-connCtx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(connCtx, wsHeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					s.log.Info("live.socket.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
						cancel()
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// No idle deadline on reads: a subscribed topic can legitimately stay
	// quiet for hours, and the heartbeat is what detects dead connections.
	for {
		mt, data, err := conn.Read(connCtx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.log.Info("live.socket.read.fail", "err", err)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			cancel()
			<-heartbeatDone
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}
		if s.onFrame != nil {
			s.onFrame(data)
		}
	}
}

func (s *Socket) writeControl(ctx context.Context, conn *websocket.Conn, typ, topic string) error {
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return err
	}

	env := v1.Envelope{
		V:     v1.Version,
		Type:  typ,
		ID:    id,
		Topic: topic,
		TS:    time.Now().UTC(),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
