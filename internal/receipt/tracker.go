// Package receipt tracks per-recipient delivery status of messages.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/telemetry"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	MessageByID(ctx context.Context, id string) (models.Message, error)
	Member(ctx context.Context, chatID, userID string) (models.ChatMember, error)
	DeliveryStatus(ctx context.Context, messageID, userID string) (models.MessageStatus, error)
	// AdvanceDeliveryStatus applies the guarded status write and, when
	// readChatID is set, resets that chat's unread counter in the same
	// transaction.
	AdvanceDeliveryStatus(ctx context.Context, messageID, userID, to string, lower []string, at time.Time, readChatID string) (bool, error)
}

// Result is the receipt state after a report. Changed is false for
// duplicates, regressions and reports that lost a race; Status is then the
// stored value.
type Result struct {
	MessageID       string `json:"messageId"`
	ChatID          string `json:"chatId"`
	RecipientUserID string `json:"recipientUserId"`
	Status          Status `json:"status"`
	Changed         bool   `json:"changed"`
}

type Tracker struct {
	store Store
	pub   *fanout.Publisher
	now   func() time.Time
}

func NewTracker(store Store, pub *fanout.Publisher) *Tracker {
	return &Tracker{store: store, pub: pub, now: time.Now}
}

// ReportStatus applies a client's delivered or read report. The status
// only moves forward; when it does, the sender is told on its user topic.
// A read report also clears the recipient's unread counter of the chat,
// atomically with the status write. Repeating the stored status sends the
// sender notification again and changes nothing else.
func (t *Tracker) ReportStatus(ctx context.Context, messageID, recipientID string, next Status) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "receipt.ReportStatus", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("recipient.id", recipientID),
		attribute.String("status", next.String()),
	))
	defer func() { telemetry.End(span, err) }()

	if next != Delivered && next != Read {
		return Result{}, fmt.Errorf("report %s: %w", next, apperr.ErrInvalid)
	}
	msg, err := t.store.MessageByID(ctx, messageID)
	if err != nil {
		return Result{}, err
	}
	res = Result{MessageID: msg.ID, ChatID: msg.ChatID, RecipientUserID: recipientID}
	if msg.SenderID == recipientID {
		// the sender's own devices do not produce receipts
		res.Status = Read
		return res, nil
	}
	if _, err := t.store.Member(ctx, msg.ChatID, recipientID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Result{}, fmt.Errorf("user %s not in chat %s: %w", recipientID, msg.ChatID, apperr.ErrForbidden)
		}
		return Result{}, err
	}

	current, err := t.current(ctx, messageID, recipientID)
	if err != nil {
		return Result{}, err
	}
	if _, ok := Advance(current, next); !ok {
		res.Status = current
		if current == next {
			// a repeated report may be the client retrying after the
			// sender notification failed; send it again
			return res, t.notify(ctx, msg, recipientID, next)
		}
		return res, nil
	}

	readChat := ""
	if next == Read {
		readChat = msg.ChatID
	}
	applied, err := t.store.AdvanceDeliveryStatus(ctx, messageID, recipientID, next.String(), below(next), t.now().UTC(), readChat)
	if err != nil {
		return Result{}, fmt.Errorf("advance receipt: %w", err)
	}
	if !applied {
		// a concurrent report got there first; report what it stored
		if res.Status, err = t.current(ctx, messageID, recipientID); err != nil {
			return Result{}, err
		}
		return res, nil
	}
	res.Status, res.Changed = next, true
	metrics.ReceiptTransitionsTotal.WithLabelValues(next.String()).Inc()
	if err := t.notify(ctx, msg, recipientID, next); err != nil {
		return res, err
	}
	log.Debug().Str("message_id", messageID).Str("recipient_id", recipientID).Str("status", next.String()).Msg("receipt advanced")
	return res, nil
}

// notify tells the sender of msg about the recipient's status.
func (t *Tracker) notify(ctx context.Context, msg models.Message, recipientID string, status Status) error {
	env, err := envelope.New(envelope.MessageStatus, envelope.MessageStatusPayload{
		MessageID:       msg.ID,
		ChatID:          msg.ChatID,
		Status:          status.String(),
		RecipientUserID: recipientID,
	})
	if err != nil {
		return err
	}
	if err := t.pub.Reliable(ctx, envelope.UserTopic(msg.SenderID), env); err != nil {
		return fmt.Errorf("notify sender: %w", err)
	}
	return nil
}

// current reads the stored status; a recipient without a row counts as sent.
func (t *Tracker) current(ctx context.Context, messageID, userID string) (Status, error) {
	row, err := t.store.DeliveryStatus(ctx, messageID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Sent, nil
	}
	if err != nil {
		return 0, err
	}
	return Parse(row.Status)
}
