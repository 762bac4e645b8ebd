// Package service holds the chat operations that sit next to the realtime
// core: sending and changing messages, typing signals and chat membership.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/models"
)

const maxContentLen = 10000

// Types a client may send. "call" is reserved for call summaries.
var messageTypes = map[string]bool{
	"text":  true,
	"image": true,
	"video": true,
	"audio": true,
	"voice": true,
	"file":  true,
}

type Store interface {
	Member(ctx context.Context, chatID, userID string) (models.ChatMember, error)
	ChatMembers(ctx context.Context, chatID string) ([]models.ChatMember, error)
	AddMember(ctx context.Context, chatID, userID, role string) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	CreateMessage(ctx context.Context, msg *models.Message, recipients []string) error
	MessageByID(ctx context.Context, id string) (models.Message, error)
	EditMessage(ctx context.Context, id, content string, at time.Time) (bool, error)
	DeleteMessage(ctx context.Context, id string, at time.Time) (bool, error)
}

// Subscriptions moves the live connections of a user between chat topics.
type Subscriptions interface {
	Subscribe(userID, topic string) error
	Unsubscribe(userID, topic string)
}

// MessageService runs message operations and announces their results.
type MessageService struct {
	store Store
	pub   *fanout.Publisher
	subs  Subscriptions
	now   func() time.Time
}

func NewMessageService(store Store, pub *fanout.Publisher, subs Subscriptions) *MessageService {
	return &MessageService{store: store, pub: pub, subs: subs, now: time.Now}
}

type SendInput struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"replyToId"`
}

func toPayload(m models.Message) envelope.MessagePayload {
	return envelope.MessagePayload{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		Content:   m.Content,
		ReplyToID: m.ReplyToID,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		CreatedAt: m.CreatedAt,
	}
}

func checkContent(typ, content string) error {
	if typ == "text" && strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty message: %w", apperr.ErrInvalid)
	}
	if utf8.RuneCountInString(content) > maxContentLen {
		return fmt.Errorf("message longer than %d characters: %w", maxContentLen, apperr.ErrInvalid)
	}
	return nil
}

// member loads the membership row, turning a missing one into Forbidden.
func (s *MessageService) member(ctx context.Context, chatID, userID string) (models.ChatMember, error) {
	m, err := s.store.Member(ctx, chatID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return m, fmt.Errorf("user %s not in chat %s: %w", userID, chatID, apperr.ErrForbidden)
	}
	return m, err
}

// Send stores a message, starts a sent receipt and an unread count for
// every other member and announces it on the chat topic.
func (s *MessageService) Send(ctx context.Context, chatID, senderID string, in SendInput) (envelope.MessagePayload, error) {
	if in.Type == "" {
		in.Type = "text"
	}
	if !messageTypes[in.Type] {
		return envelope.MessagePayload{}, fmt.Errorf("message type %q: %w", in.Type, apperr.ErrInvalid)
	}
	if err := checkContent(in.Type, in.Content); err != nil {
		return envelope.MessagePayload{}, err
	}
	if _, err := s.member(ctx, chatID, senderID); err != nil {
		return envelope.MessagePayload{}, err
	}
	if in.ReplyToID != nil {
		orig, err := s.store.MessageByID(ctx, *in.ReplyToID)
		if err != nil || orig.ChatID != chatID {
			return envelope.MessagePayload{}, fmt.Errorf("reply target %s: %w", *in.ReplyToID, apperr.ErrInvalid)
		}
	}
	members, err := s.store.ChatMembers(ctx, chatID)
	if err != nil {
		return envelope.MessagePayload{}, err
	}
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != senderID {
			recipients = append(recipients, m.UserID)
		}
	}

	msg := models.Message{
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      in.Type,
		Content:   in.Content,
		ReplyToID: in.ReplyToID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, &msg, recipients); err != nil {
		return envelope.MessagePayload{}, fmt.Errorf("create message: %w", err)
	}
	p := toPayload(msg)
	return p, s.publish(ctx, envelope.MessageNew, chatID, p)
}

// Edit replaces the content of a message. Only its sender may edit it.
func (s *MessageService) Edit(ctx context.Context, messageID, userID, content string) (envelope.MessagePayload, error) {
	msg, err := s.store.MessageByID(ctx, messageID)
	if err != nil {
		return envelope.MessagePayload{}, err
	}
	if msg.SenderID != userID {
		return envelope.MessagePayload{}, fmt.Errorf("edit message %s: %w", messageID, apperr.ErrForbidden)
	}
	if err := checkContent(msg.Type, content); err != nil {
		return envelope.MessagePayload{}, err
	}
	now := s.now().UTC()
	ok, err := s.store.EditMessage(ctx, messageID, content, now)
	if err != nil {
		return envelope.MessagePayload{}, err
	}
	if !ok {
		return envelope.MessagePayload{}, fmt.Errorf("message %s deleted: %w", messageID, apperr.ErrNotFound)
	}
	msg.Content, msg.IsEdited, msg.EditedAt = content, true, &now
	p := toPayload(msg)
	return p, s.publish(ctx, envelope.MessageEdited, msg.ChatID, p)
}

// Delete soft-deletes a message. The sender and chat admins may delete;
// deleting twice is a no-op.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) error {
	msg, err := s.store.MessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	m, err := s.member(ctx, msg.ChatID, userID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID && m.Role != "admin" {
		return fmt.Errorf("delete message %s: %w", messageID, apperr.ErrForbidden)
	}
	ok, err := s.store.DeleteMessage(ctx, messageID, s.now().UTC())
	if err != nil || !ok {
		return err
	}
	return s.publish(ctx, envelope.MessageDeleted, msg.ChatID, envelope.MessageDeletedPayload{MessageID: messageID, ChatID: msg.ChatID})
}

// Typing relays a typing indicator to the other members of the chat. It is
// never stored, and the connection that sent it does not get it back.
func (s *MessageService) Typing(ctx context.Context, chatID, userID, originConn string, started bool) error {
	if _, err := s.member(ctx, chatID, userID); err != nil {
		return err
	}
	t := envelope.TypingStop
	if started {
		t = envelope.TypingStart
	}
	env, err := envelope.New(t, envelope.TypingPayload{ChatID: chatID, UserID: userID})
	if err != nil {
		return err
	}
	s.pub.BestEffort(ctx, envelope.ChatTopic(chatID), env.WithOrigin(originConn))
	return nil
}

func (s *MessageService) publish(ctx context.Context, t envelope.Type, chatID string, payload any) error {
	env, err := envelope.New(t, payload)
	if err != nil {
		return err
	}
	return s.pub.Reliable(ctx, envelope.ChatTopic(chatID), env)
}
