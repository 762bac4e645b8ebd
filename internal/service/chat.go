package service

import (
	"context"
	"fmt"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"

	"github.com/rs/zerolog/log"
)

// AddMember puts userID into chatID on behalf of actorID, who must be a chat
// admin, and subscribes the new member's live connections to the chat.
func (s *MessageService) AddMember(ctx context.Context, chatID, actorID, userID string) error {
	actor, err := s.member(ctx, chatID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != "admin" {
		return fmt.Errorf("add member to %s: %w", chatID, apperr.ErrForbidden)
	}
	if userID == "" {
		return fmt.Errorf("add member: empty user id: %w", apperr.ErrInvalid)
	}
	if err := s.store.AddMember(ctx, chatID, userID, "member"); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if err := s.subs.Subscribe(userID, envelope.ChatTopic(chatID)); err != nil {
		// the membership is stored; the user's connections pick the chat
		// up on their next connect
		log.Warn().Err(err).Str("chat_id", chatID).Str("user_id", userID).Msg("resubscribe after join")
		return err
	}
	log.Info().Str("chat_id", chatID).Str("user_id", userID).Str("by", actorID).Msg("member added")
	return nil
}

// RemoveMember takes userID out of chatID. Members may remove themselves,
// admins may remove anyone. The removed user's live connections stop
// receiving chat events right away.
func (s *MessageService) RemoveMember(ctx context.Context, chatID, actorID, userID string) error {
	actor, err := s.member(ctx, chatID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && actor.Role != "admin" {
		return fmt.Errorf("remove member from %s: %w", chatID, apperr.ErrForbidden)
	}
	if err := s.store.RemoveMember(ctx, chatID, userID); err != nil {
		return err
	}
	s.subs.Unsubscribe(userID, envelope.ChatTopic(chatID))
	log.Info().Str("chat_id", chatID).Str("user_id", userID).Str("by", actorID).Msg("member removed")
	return nil
}
