// Package ws carries the netcode protocol over gorilla websockets.
package ws

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"rewind/internal/clocksync"
	"rewind/internal/net/proto"
	"rewind/internal/server"
	"rewind/internal/telemetry"
	"rewind/logging"
	loggingnetwork "rewind/logging/network"
)

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	WriteWait time.Duration
}

// Handler upgrades connections and runs one session per client against the
// authoritative server.
type Handler[I any] struct {
	srv       *server.Server[I]
	logger    telemetry.Logger
	publisher logging.Publisher
	writeWait time.Duration
	upgrader  websocket.Upgrader
}

func NewHandler[I any](srv *server.Server[I], cfg HandlerConfig) *Handler[I] {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Handler[I]{
		srv:       srv,
		logger:    logger,
		publisher: publisher,
		writeWait: cfg.WriteWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler[I]) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	c := newConn(raw, h.writeWait)
	ctx := context.Background()

	session, welcome := h.srv.Join(ctx, r.RemoteAddr)
	data, err := proto.EncodeWelcome(welcome)
	if err == nil {
		err = c.WriteMessage(websocket.TextMessage, data)
	}
	if err != nil {
		h.logger.Printf("failed to welcome %s: %v", session.ID, err)
		h.srv.Leave(ctx, session.ID, "welcome failed")
		c.Close()
		return
	}

	go h.writeBatches(c, session)

	for {
		messageType, payload, err := raw.ReadMessage()
		if err != nil {
			h.srv.Leave(ctx, session.ID, err.Error())
			c.Close()
			return
		}
		receivedAt := time.Now()
		if messageType != websocket.TextMessage {
			h.decodeFailed(ctx, session, proto.ErrUnknownMessage, len(payload))
			continue
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.decodeFailed(ctx, session, err, len(payload))
			continue
		}

		switch msg.Type {
		case proto.TypePing:
			pong := h.srv.Pong(clocksync.Ping{ID: msg.PingID}, receivedAt)
			data, err := proto.EncodePong(pong)
			if err != nil {
				h.logger.Printf("failed to marshal pong for %s: %v", session.ID, err)
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				h.srv.Leave(ctx, session.ID, err.Error())
				c.Close()
				return
			}
		case proto.TypeInput:
			samples, err := proto.DecodeInputs[I](msg)
			if err != nil {
				h.decodeFailed(ctx, session, err, len(payload))
				continue
			}
			h.srv.RecordInputs(session.ID, samples)
		case proto.TypeResync:
			h.srv.RequestFull(session.ID)
		}
	}
}

// writeBatches forwards the session outbox until the session leaves.
func (h *Handler[I]) writeBatches(c *conn, session *server.Session) {
	for batch := range session.Outbox() {
		frame, err := proto.EncodeBatch(batch)
		if err != nil {
			h.logger.Printf("failed to encode batch for %s: %v", session.ID, err)
			continue
		}
		if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			c.Close()
			return
		}
	}
}

func (h *Handler[I]) decodeFailed(ctx context.Context, session *server.Session, err error, size int) {
	loggingnetwork.DecodeFailed(ctx, h.publisher, uint64(h.srv.Now().Tick), session.ID.String(), loggingnetwork.DecodePayload{
		Error: err.Error(),
		Bytes: size,
	}, nil)
}
