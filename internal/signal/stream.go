package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
	"github.com/ducminhle1904/virtual-autotrader/internal/monitoring"
)

// StreamFeed receives pushed signals over a websocket. Each text frame
// holds one signal object or an array of them.
type StreamFeed struct {
	name           string
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	readTimeout    time.Duration
	pingInterval   time.Duration
	log            *logger.Logger
}

// StreamOption customizes a StreamFeed
type StreamOption func(*StreamFeed)

// WithReconnectDelay sets the pause between dial attempts
func WithReconnectDelay(d time.Duration) StreamOption {
	return func(s *StreamFeed) { s.reconnectDelay = d }
}

// WithStreamLogger sets the logger
func WithStreamLogger(l *logger.Logger) StreamOption {
	return func(s *StreamFeed) { s.log = l }
}

// WithHeader adds headers to the websocket handshake
func WithHeader(h http.Header) StreamOption {
	return func(s *StreamFeed) { s.header = h }
}

func NewStreamFeed(name, url string, opts ...StreamOption) *StreamFeed {
	s := &StreamFeed{
		name:           name,
		url:            url,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		readTimeout:    90 * time.Second,
		pingInterval:   30 * time.Second,
		log:            logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StreamFeed) Name() string { return s.name }

// Run keeps a connection open, reconnecting after failures, until ctx is done
func (s *StreamFeed) Run(ctx context.Context, deliver func(Signal)) error {
	for {
		if err := s.session(ctx, deliver); err != nil && ctx.Err() == nil {
			monitoring.RecordFetchError(s.name)
			s.log.Debug("stream %s disconnected: %v", s.name, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *StreamFeed) session(ctx context.Context, deliver func(Signal)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return err
	}
	s.log.Debug("stream %s connected to %s", s.name, s.url)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(ctx, conn, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		signals, err := Decode(data)
		if err != nil {
			s.log.Debug("stream %s dropped malformed frame: %v", s.name, err)
			continue
		}
		for _, sig := range signals {
			if ctx.Err() != nil {
				return nil
			}
			deliver(sig)
		}
	}
}

// keepAlive pings the server and closes the connection when ctx ends so
// the blocked reader returns
func (s *StreamFeed) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
