// Package memstore is an in-memory twin of store.Store. Conditional writes
// are atomic under one mutex, matching the row-level guarantees the SQL
// adapter gets from Postgres. It backs tests and single-node development.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/models"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	users    map[string]models.User
	chats    map[string]models.Chat
	members  map[string]map[string]models.ChatMember // chat -> user -> row
	contacts map[string][]models.Contact
	messages map[string]models.Message
	statuses map[[2]string]models.MessageStatus // (message, user)
	calls    map[string]models.Call
	parts    map[string][]models.CallParticipant
	seq      int
}

func New() *Store {
	return &Store{
		users:    make(map[string]models.User),
		chats:    make(map[string]models.Chat),
		members:  make(map[string]map[string]models.ChatMember),
		contacts: make(map[string][]models.Contact),
		messages: make(map[string]models.Message),
		statuses: make(map[[2]string]models.MessageStatus),
		calls:    make(map[string]models.Call),
		parts:    make(map[string][]models.CallParticipant),
	}
}

// Seeding helpers.

func (s *Store) AddUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.User{ID: id, Name: name, CreatedAt: time.Now()}
}

// AddChat creates a chat whose first member is its admin.
func (s *Store) AddChat(id string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = models.Chat{ID: id, Type: "group", CreatedAt: time.Now()}
	if s.members[id] == nil {
		s.members[id] = make(map[string]models.ChatMember)
	}
	for i, uid := range memberIDs {
		role := "member"
		if i == 0 {
			role = "admin"
		}
		s.members[id][uid] = models.ChatMember{ID: uuid.NewString(), ChatID: id, UserID: uid, Role: role, JoinedAt: s.tick()}
	}
}

func (s *Store) AddContact(userID, contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = append(s.contacts[userID], models.Contact{ID: uuid.NewString(), UserID: userID, ContactUserID: contactID})
}

// tick hands out strictly increasing timestamps so orderings by time are
// deterministic.
func (s *Store) tick() time.Time {
	s.seq++
	return time.Unix(1_700_000_000, 0).Add(time.Duration(s.seq) * time.Millisecond)
}

func (s *Store) ChatIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for chatID, ms := range s.members {
		if _, ok := ms[userID]; ok {
			ids = append(ids, chatID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ChatMembers(_ context.Context, chatID string) ([]models.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, fmt.Errorf("chat: %w", apperr.ErrNotFound)
	}
	out := make([]models.ChatMember, 0, len(s.members[chatID]))
	for _, m := range s.members[chatID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) Member(_ context.Context, chatID, userID string) (models.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[chatID][userID]
	if !ok {
		return models.ChatMember{}, fmt.Errorf("chat member: %w", apperr.ErrNotFound)
	}
	return m, nil
}

func (s *Store) AddMember(_ context.Context, chatID, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return fmt.Errorf("chat: %w", apperr.ErrNotFound)
	}
	if _, ok := s.members[chatID][userID]; ok {
		return nil
	}
	if s.members[chatID] == nil {
		s.members[chatID] = make(map[string]models.ChatMember)
	}
	s.members[chatID][userID] = models.ChatMember{ID: uuid.NewString(), ChatID: chatID, UserID: userID, Role: role, JoinedAt: s.tick()}
	return nil
}

func (s *Store) RemoveMember(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[chatID][userID]; !ok {
		return fmt.Errorf("chat member: %w", apperr.ErrNotFound)
	}
	delete(s.members[chatID], userID)
	return nil
}

func (s *Store) ContactsOf(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, c := range s.contacts[userID] {
		if !c.IsBlocked {
			ids = append(ids, c.ContactUserID)
		}
	}
	return ids, nil
}

func (s *Store) SetPresence(_ context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = models.User{ID: userID}
	}
	u.IsOnline = online
	u.LastSeen = &at
	s.users[userID] = u
	return nil
}

func (s *Store) User(_ context.Context, userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user: %w", apperr.ErrNotFound)
	}
	return u, nil
}

func (s *Store) CreateMessage(_ context.Context, msg *models.Message, recipients []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.tick()
	}
	s.messages[msg.ID] = *msg
	for _, uid := range recipients {
		key := [2]string{msg.ID, uid}
		if _, ok := s.statuses[key]; !ok {
			s.statuses[key] = models.MessageStatus{ID: uuid.NewString(), MessageID: msg.ID, UserID: uid, Status: "sent", StatusAt: msg.CreatedAt}
		}
		if m, ok := s.members[msg.ChatID][uid]; ok {
			m.UnreadCount++
			s.members[msg.ChatID][uid] = m
		}
	}
	return nil
}

func (s *Store) MessageByID(_ context.Context, id string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, fmt.Errorf("message: %w", apperr.ErrNotFound)
	}
	return m, nil
}

func (s *Store) EditMessage(_ context.Context, id, content string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return false, nil
	}
	m.Content, m.IsEdited, m.EditedAt = content, true, &at
	s.messages[id] = m
	return true, nil
}

func (s *Store) DeleteMessage(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return false, nil
	}
	m.Content, m.IsDeleted, m.DeletedAt = "", true, &at
	s.messages[id] = m
	return true, nil
}

func (s *Store) DeliveryStatus(_ context.Context, messageID, userID string) (models.MessageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[[2]string{messageID, userID}]
	if !ok {
		return models.MessageStatus{}, fmt.Errorf("message status: %w", apperr.ErrNotFound)
	}
	return st, nil
}

func (s *Store) AdvanceDeliveryStatus(_ context.Context, messageID, userID, to string, lower []string, at time.Time, readChatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{messageID, userID}
	st, ok := s.statuses[key]
	switch {
	case !ok:
		st = models.MessageStatus{ID: uuid.NewString(), MessageID: messageID, UserID: userID}
	case !slices.Contains(lower, st.Status):
		return false, nil
	}
	st.Status, st.StatusAt = to, at
	s.statuses[key] = st
	if m, ok := s.members[readChatID][userID]; ok {
		m.UnreadCount = 0
		m.LastReadAt = &at
		m.LastReadMessageID = &messageID
		s.members[readChatID][userID] = m
	}
	return true, nil
}

func (s *Store) CreateCall(_ context.Context, call *models.Call, parts []models.CallParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.tick()
	}
	rows := make([]models.CallParticipant, len(parts))
	seen := make(map[string]bool, len(parts))
	for i, p := range parts {
		if seen[p.UserID] {
			return fmt.Errorf("call participant %s: duplicate", p.UserID)
		}
		seen[p.UserID] = true
		p.CallID = call.ID
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s-%03d", call.ID, i)
		}
		rows[i] = p
		parts[i] = p
	}
	s.calls[call.ID] = *call
	s.parts[call.ID] = rows
	return nil
}

func (s *Store) CallByID(_ context.Context, id string) (models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return models.Call{}, fmt.Errorf("call: %w", apperr.ErrNotFound)
	}
	return c, nil
}

func (s *Store) Participants(_ context.Context, callID string) ([]models.CallParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.parts[callID]), nil
}

func (s *Store) TransitionCall(_ context.Context, callID string, from []string, to string, patch models.CallPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	if patch.StartedAt != nil {
		c.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		c.EndedAt = patch.EndedAt
	}
	if patch.DurationSeconds != nil {
		c.DurationSeconds = patch.DurationSeconds
	}
	if patch.EndReason != nil {
		c.EndReason = patch.EndReason
	}
	s.calls[callID] = c
	return true, nil
}

func (s *Store) TransitionParticipant(_ context.Context, callID, userID string, from []string, to string, patch models.ParticipantPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.parts[callID]
	for i := range ps {
		if ps[i].UserID != userID {
			continue
		}
		if !slices.Contains(from, ps[i].Status) {
			return false, nil
		}
		ps[i].Status = to
		if patch.JoinedAt != nil {
			ps[i].JoinedAt = patch.JoinedAt
		}
		if patch.LeftAt != nil {
			ps[i].LeftAt = patch.LeftAt
		}
		return true, nil
	}
	return false, nil
}

func (s *Store) CallsForUser(_ context.Context, userID string, limit, offset int) ([]models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Call
	for _, c := range s.calls {
		if _, ok := s.members[c.ChatID][userID]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Messages returns the transcript of a chat in creation order.
func (s *Store) Messages(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
