package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"rewind/internal/clocksync"
	"rewind/internal/engine"
	"rewind/internal/input"
	"rewind/internal/net/proto"
	"rewind/internal/server"
	"rewind/internal/telemetry"
	"rewind/logging"
	loggingnetwork "rewind/logging/network"
)

var ErrNoWelcome = errors.New("ws: server did not send a welcome")

type ClientConfig struct {
	Logger      telemetry.Logger
	Publisher   logging.Publisher
	WriteWait   time.Duration
	DialTimeout time.Duration
}

// Client is the client side of a session. Reads run on the goroutine that
// calls Run; sends may come from any goroutine.
type Client[I any] struct {
	raw       *websocket.Conn
	conn      *conn
	welcome   server.Welcome
	logger    telemetry.Logger
	publisher logging.Publisher
}

// Dial connects to url and waits for the welcome message.
func Dial[I any](ctx context.Context, url string, cfg ClientConfig) (*Client[I], server.Welcome, error) {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	dialer := *websocket.DefaultDialer
	if cfg.DialTimeout > 0 {
		dialer.HandshakeTimeout = cfg.DialTimeout
	}
	raw, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, server.Welcome{}, fmt.Errorf("dial %s: %w", url, err)
	}

	_, payload, err := raw.ReadMessage()
	if err != nil {
		raw.Close()
		return nil, server.Welcome{}, fmt.Errorf("read welcome: %w", err)
	}
	msg, err := proto.DecodeServerMessage(payload)
	if err != nil || msg.Type != proto.TypeWelcome {
		raw.Close()
		return nil, server.Welcome{}, errors.Join(ErrNoWelcome, err)
	}

	client := &Client[I]{
		raw:       raw,
		conn:      newConn(raw, cfg.WriteWait),
		welcome:   *msg.Welcome,
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
	}
	return client, client.welcome, nil
}

func (c *Client[I]) Welcome() server.Welcome {
	return c.welcome
}

// Run feeds batches and pongs into e until ctx is cancelled or the
// connection fails.
func (c *Client[I]) Run(ctx context.Context, e *engine.Engine[I]) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, payload, err := c.raw.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		receivedAt := time.Now()

		switch messageType {
		case websocket.BinaryMessage:
			batch, err := proto.DecodeBatch(payload)
			if err != nil {
				c.decodeFailed(ctx, err, len(payload))
				continue
			}
			if dropped := e.PushBatch(ctx, batch, receivedAt); dropped > 0 {
				if err := c.SendResync(); err != nil {
					return fmt.Errorf("request resync: %w", err)
				}
			}
		case websocket.TextMessage:
			msg, err := proto.DecodeServerMessage(payload)
			if err != nil {
				c.decodeFailed(ctx, err, len(payload))
				continue
			}
			if msg.Type == proto.TypePong {
				e.ReceivePong(*msg.Pong, receivedAt)
			}
		}
	}
}

func (c *Client[I]) SendPing(ping clocksync.Ping) error {
	data, err := proto.EncodePing(ping)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendResync asks for a full snapshot in place of updates lost locally.
func (c *Client[I]) SendResync() error {
	data, err := proto.EncodeResync()
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client[I]) SendInputs(samples []input.Sample[I]) error {
	if len(samples) == 0 {
		return nil
	}
	data, err := proto.EncodeInputs(samples)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client[I]) Close() error {
	return c.conn.Close()
}

func (c *Client[I]) decodeFailed(ctx context.Context, err error, size int) {
	loggingnetwork.DecodeFailed(ctx, c.publisher, 0, c.welcome.SessionID, loggingnetwork.DecodePayload{
		Error: err.Error(),
		Bytes: size,
	}, nil)
}
