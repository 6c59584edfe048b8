package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// WSConfig configures a WSFeed.
type WSConfig struct {
	URL string
	// Subscribe is sent verbatim after every (re)connect when non-empty.
	Subscribe string
}

// WSFeed receives venue records pushed over a websocket. Each text message
// holds one record or an array of records. The feed reconnects with
// exponential backoff until its context is cancelled.
type WSFeed struct {
	cfg       WSConfig
	dialer    websocket.Dialer
	h         *handler
	logger    *slog.Logger
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewWSFeed creates a websocket feed that ingests into sink.
func NewWSFeed(cfg WSConfig, sink Ingester, m *metrics.Metrics, logger *slog.Logger) *WSFeed {
	logger = logger.With(slog.String("component", "ws_feed"))
	return &WSFeed{
		cfg:       cfg,
		dialer:    websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		h:         &handler{source: "websocket", sink: sink, metrics: m, logger: logger},
		logger:    logger,
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

// Run keeps a connection open until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := f.baseDelay
	for {
		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = f.baseDelay
		}
		f.logger.Warn("feed websocket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, f.maxDelay)
	}
}

// runConnection serves one connection. It reports whether any message was
// received so a healthy session resets the backoff.
func (f *WSFeed) runConnection(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("feed/ws: connect: %w", err)
	}
	defer conn.Close()

	if f.cfg.Subscribe != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f.cfg.Subscribe)); err != nil {
			return false, fmt.Errorf("feed/ws: subscribe: %w", err)
		}
	}
	f.logger.Info("feed websocket connected", slog.String("url", f.cfg.URL))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// Unblocks ReadMessage.
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	received := false
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("feed/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		received = true
		if kind != websocket.TextMessage {
			continue
		}
		f.h.handle(ctx, msg)
	}
}
