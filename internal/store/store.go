// Package store is the relational persistence collaborator of the realtime
// core. Every status change goes through a conditional UPDATE guarded by
// the expected prior status; the returned bool says whether this caller's
// write took effect.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func wrapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return err
}

// ChatIDsForUser returns the chats the user belongs to.
func (s *Store) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("user_id = ?", userID).
		Pluck("chat_id", &ids).Error
	return ids, err
}

// ChatMembers returns the members of a chat, or ErrNotFound if the chat
// does not exist.
func (s *Store) ChatMembers(ctx context.Context, chatID string) ([]models.ChatMember, error) {
	var chat models.Chat
	if err := s.db.WithContext(ctx).Select("id").First(&chat, "id = ?", chatID).Error; err != nil {
		return nil, wrapNotFound(err, "chat")
	}
	var members []models.ChatMember
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("joined_at asc").Find(&members).Error
	return members, err
}

// Member returns the membership row, or ErrNotFound if the user is not in
// the chat.
func (s *Store) Member(ctx context.Context, chatID, userID string) (models.ChatMember, error) {
	var m models.ChatMember
	err := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).First(&m).Error
	return m, wrapNotFound(err, "chat member")
}

func (s *Store) AddMember(ctx context.Context, chatID, userID, role string) error {
	m := models.ChatMember{ChatID: chatID, UserID: userID, Role: role, JoinedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

func (s *Store) RemoveMember(ctx context.Context, chatID, userID string) error {
	res := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&models.ChatMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chat member: %w", apperr.ErrNotFound)
	}
	return nil
}

// ContactsOf returns the users listed in userID's contact book, blocked
// entries excluded.
func (s *Store) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("user_id = ? AND is_blocked = ?", userID, false).
		Pluck("contact_user_id", &ids).Error
	return ids, err
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"is_online": online, "last_seen": at}).Error
}

func (s *Store) User(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	return u, wrapNotFound(err, "user")
}

// CreateMessage stores msg, opens a "sent" receipt for each recipient and
// bumps their unread counters, in one transaction.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message, recipients []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}
		rows := make([]models.MessageStatus, 0, len(recipients))
		for _, uid := range recipients {
			rows = append(rows, models.MessageStatus{MessageID: msg.ID, UserID: uid, Status: "sent", StatusAt: msg.CreatedAt})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ChatMember{}).
			Where("chat_id = ? AND user_id IN ?", msg.ChatID, recipients).
			UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).Where("id = ?", msg.ChatID).UpdateColumn("updated_at", msg.CreatedAt).Error
	})
}

func (s *Store) MessageByID(ctx context.Context, id string) (models.Message, error) {
	var m models.Message
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	return m, wrapNotFound(err, "message")
}

// EditMessage rewrites content of a live message. It reports false when
// the message is already deleted.
func (s *Store) EditMessage(ctx context.Context, id, content string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"content": content, "is_edited": true, "edited_at": at})
	return res.RowsAffected == 1, res.Error
}

// DeleteMessage soft-deletes a message. It reports false when it was
// already deleted.
func (s *Store) DeleteMessage(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"content": "", "is_deleted": true, "deleted_at": at})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) DeliveryStatus(ctx context.Context, messageID, userID string) (models.MessageStatus, error) {
	var st models.MessageStatus
	err := s.db.WithContext(ctx).Where("message_id = ? AND user_id = ?", messageID, userID).First(&st).Error
	return st, wrapNotFound(err, "message status")
}

// AdvanceDeliveryStatus moves the receipt to `to` only if its current
// status is one of lower, creating the row when it is missing. When
// readChatID is set, the unread aggregate of (readChatID, userID) is reset
// in the same transaction so a failed reset leaves the receipt untouched.
func (s *Store) AdvanceDeliveryStatus(ctx context.Context, messageID, userID, to string, lower []string, at time.Time, readChatID string) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := advanceStatus(tx, messageID, userID, to, lower, at)
		if err != nil || !ok {
			return err
		}
		if readChatID != "" {
			err := tx.Model(&models.ChatMember{}).
				Where("chat_id = ? AND user_id = ?", readChatID, userID).
				Updates(map[string]any{"unread_count": 0, "last_read_at": at, "last_read_message_id": messageID}).Error
			if err != nil {
				return fmt.Errorf("mark chat read: %w", err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

func advanceStatus(tx *gorm.DB, messageID, userID, to string, lower []string, at time.Time) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res := tx.Model(&models.MessageStatus{}).
			Where("message_id = ? AND user_id = ? AND status IN ?", messageID, userID, lower).
			Updates(map[string]any{"status": to, "status_at": at})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 1 {
			return true, nil
		}
		row := models.MessageStatus{MessageID: messageID, UserID: userID, Status: to, StatusAt: at}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 1 {
			return true, nil
		}
		// a concurrent writer created the row between our UPDATE and
		// INSERT; run the guarded UPDATE once more against it
	}
	return false, nil
}

func (s *Store) CreateCall(ctx context.Context, call *models.Call, parts []models.CallParticipant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(call).Error; err != nil {
			return err
		}
		for i := range parts {
			parts[i].CallID = call.ID
		}
		return tx.Create(&parts).Error
	})
}

func (s *Store) CallByID(ctx context.Context, id string) (models.Call, error) {
	var c models.Call
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	return c, wrapNotFound(err, "call")
}

func (s *Store) Participants(ctx context.Context, callID string) ([]models.CallParticipant, error) {
	var ps []models.CallParticipant
	err := s.db.WithContext(ctx).Where("call_id = ?", callID).Order("id asc").Find(&ps).Error
	return ps, err
}

// TransitionCall sets status to `to` only if the current status is in
// from.
func (s *Store) TransitionCall(ctx context.Context, callID string, from []string, to string, patch models.CallPatch) (bool, error) {
	cols := map[string]any{"status": to}
	if patch.StartedAt != nil {
		cols["started_at"] = *patch.StartedAt
	}
	if patch.EndedAt != nil {
		cols["ended_at"] = *patch.EndedAt
	}
	if patch.DurationSeconds != nil {
		cols["duration_seconds"] = *patch.DurationSeconds
	}
	if patch.EndReason != nil {
		cols["end_reason"] = *patch.EndReason
	}
	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status IN ?", callID, from).
		Updates(cols)
	return res.RowsAffected == 1, res.Error
}

// TransitionParticipant sets a participant's status to `to` only if the
// current status is in from.
func (s *Store) TransitionParticipant(ctx context.Context, callID, userID string, from []string, to string, patch models.ParticipantPatch) (bool, error) {
	cols := map[string]any{"status": to}
	if patch.JoinedAt != nil {
		cols["joined_at"] = *patch.JoinedAt
	}
	if patch.LeftAt != nil {
		cols["left_at"] = *patch.LeftAt
	}
	res := s.db.WithContext(ctx).Model(&models.CallParticipant{}).
		Where("call_id = ? AND user_id = ? AND status IN ?", callID, userID, from).
		Updates(cols)
	return res.RowsAffected == 1, res.Error
}

// CallsForUser lists calls of every chat the user belongs to, newest
// first.
func (s *Store) CallsForUser(ctx context.Context, userID string, limit, offset int) ([]models.Call, error) {
	db := s.db.WithContext(ctx)
	chats := db.Model(&models.ChatMember{}).Select("chat_id").Where("user_id = ?", userID)
	var calls []models.Call
	err := db.Where("chat_id IN (?)", chats).
		Order("created_at desc").Limit(limit).Offset(offset).
		Find(&calls).Error
	return calls, err
}
