// Package ws terminates client websockets: it authenticates the handshake,
// registers the connection, routes inbound commands to the core and writes
// outbound envelopes back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/auth"
	"chatrelay/internal/call"
	"chatrelay/internal/envelope"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/receipt"
	"chatrelay/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const commandTimeout = 10 * time.Second

type Presence interface {
	Sync(ctx context.Context, userID string) (string, error)
}

type Receipts interface {
	ReportStatus(ctx context.Context, messageID, recipientID string, next receipt.Status) (receipt.Result, error)
}

type Calls interface {
	Accept(ctx context.Context, callID, userID string) (call.Snapshot, error)
	Reject(ctx context.Context, callID, userID, reason string) (call.Snapshot, error)
	End(ctx context.Context, callID, userID string) (call.Snapshot, error)
	Relay(ctx context.Context, callID, fromUserID, toUserID string, kind envelope.Type, blob json.RawMessage) error
}

type Typing interface {
	Typing(ctx context.Context, chatID, userID, originConn string, started bool) error
}

type Deps struct {
	Registry *session.Registry
	Presence Presence
	Receipts Receipts
	Calls    Calls
	Typing   Typing
	// Limiter throttles inbound commands per connection.
	Limiter   *mw.RL
	JWTSecret string
}

type Hub struct {
	Deps
	upgrader websocket.Upgrader
}

func NewHub(d Deps) *Hub {
	return &Hub{
		Deps: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /ws. The token comes from the token query parameter or
// a bearer header, the device from device_id or the token's device claim.
// Nothing is registered unless authentication succeeds.
func (h *Hub) Serve(c *gin.Context) {
	claims, err := auth.Authenticate(c.Request, h.JWTSecret)
	if err != nil {
		log.Debug().Err(err).Msg("websocket handshake rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	deviceID := c.Query("device_id")
	if deviceID == "" {
		deviceID = claims.DeviceID
	}
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing device_id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := newClient(uuid.NewString(), claims.UserID, deviceID, conn)
	// the connection outlives the handshake request
	ctx := context.WithoutCancel(c.Request.Context())
	live, err := h.Registry.Register(ctx, client)
	if err != nil {
		log.Error().Err(err).Str("user_id", client.userID).Msg("register connection")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "unavailable"))
		_ = conn.Close()
		return
	}
	log.Info().Str("conn_id", client.id).Str("user_id", client.userID).Str("device_id", deviceID).Int("live", live).Msg("connected")
	h.syncPresence(client.userID)

	go client.writePump()
	h.readPump(ctx, client)
}

func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() {
		c.closeSend()
		_, live := h.Registry.Unregister(c.id)
		if h.Limiter != nil {
			h.Limiter.Forget(c.id)
		}
		h.syncPresence(c.userID)
		_ = c.conn.Close()
		log.Info().Str("conn_id", c.id).Str("user_id", c.userID).Int("live", live).Msg("disconnected")
	}()
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		env, err := envelope.Decode(data)
		if err != nil {
			metrics.WsInboundTotal.WithLabelValues("invalid", "rejected").Inc()
			continue
		}
		if h.Limiter != nil && !h.Limiter.Allow(c.id) {
			metrics.WsInboundTotal.WithLabelValues(label(env.Type), "throttled").Inc()
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		err = h.Handle(cctx, c.id, c.userID, env)
		cancel()
		h.observe(c, env.Type, err)
	}
}

func (h *Hub) observe(c *Client, t envelope.Type, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInvalid), errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrNotFound):
		result = "rejected"
		log.Debug().Err(err).Str("conn_id", c.id).Str("type", string(t)).Msg("command rejected")
	default:
		result = "error"
		log.Error().Err(err).Str("conn_id", c.id).Str("type", string(t)).Msg("command failed")
	}
	metrics.WsInboundTotal.WithLabelValues(label(t), result).Inc()
}

// label keeps client-chosen type strings out of metric labels.
func label(t envelope.Type) string {
	if !t.IsCommand() {
		return "unknown"
	}
	return string(t)
}

// Handle routes one inbound command from connection connID of userID.
func (h *Hub) Handle(ctx context.Context, connID, userID string, env envelope.Envelope) error {
	if !env.Type.IsCommand() {
		return fmt.Errorf("%w: %s", apperr.ErrInvalid, env.Type)
	}
	switch env.Type {
	case envelope.TypingStart, envelope.TypingStop:
		var cmd envelope.ChatRef
		if err := into(env, &cmd); err != nil {
			return err
		}
		return h.Typing.Typing(ctx, cmd.ChatID, userID, connID, env.Type == envelope.TypingStart)

	case envelope.MessageDelivered, envelope.MessageRead:
		var cmd envelope.ReceiptCommand
		if err := into(env, &cmd); err != nil {
			return err
		}
		next := receipt.Delivered
		if env.Type == envelope.MessageRead {
			next = receipt.Read
		}
		_, err := h.Receipts.ReportStatus(ctx, cmd.MessageID, userID, next)
		return err

	case envelope.CallAccept, envelope.CallReject, envelope.CallEnd:
		var cmd envelope.CallCommand
		if err := into(env, &cmd); err != nil {
			return err
		}
		var err error
		switch env.Type {
		case envelope.CallAccept:
			_, err = h.Calls.Accept(ctx, cmd.CallID, userID)
		case envelope.CallReject:
			_, err = h.Calls.Reject(ctx, cmd.CallID, userID, cmd.Reason)
		default:
			_, err = h.Calls.End(ctx, cmd.CallID, userID)
		}
		return err

	case envelope.CallSignal, envelope.CallICECandidate:
		var cmd envelope.SignalCommand
		if err := into(env, &cmd); err != nil {
			return err
		}
		return h.Calls.Relay(ctx, cmd.CallID, userID, cmd.TargetUserID, env.Type, cmd.Blob())
	}
	return nil
}

func into(env envelope.Envelope, v any) error {
	if err := env.Into(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	return nil
}

func (h *Hub) syncPresence(userID string) {
	if h.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := h.Presence.Sync(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("presence sync")
	}
}
