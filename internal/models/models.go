package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Rows owned by the relational store. Users, chats and contacts are
// written by the REST side of the application; the realtime core reads
// them and writes presence, receipts and call state.

type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"size:100;not null"`
	IsOnline  bool   `gorm:"not null;default:false"`
	LastSeen  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Chat struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Type      string `gorm:"size:20;not null;default:direct"`
	Name      string `gorm:"size:100"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatMember struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	ChatID            string `gorm:"type:uuid;uniqueIndex:idx_chat_member;not null"`
	UserID            string `gorm:"type:uuid;uniqueIndex:idx_chat_member;index;not null"`
	Role              string `gorm:"size:20;not null;default:member"`
	UnreadCount       int    `gorm:"not null;default:0"`
	LastReadAt        *time.Time
	LastReadMessageID *string `gorm:"type:uuid"`
	JoinedAt          time.Time
}

type Contact struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	UserID        string `gorm:"type:uuid;uniqueIndex:idx_contact_pair;not null"`
	ContactUserID string `gorm:"type:uuid;uniqueIndex:idx_contact_pair;not null"`
	IsBlocked     bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
}

type Message struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	ChatID    string  `gorm:"type:uuid;index:idx_msg_chat_created;not null"`
	SenderID  string  `gorm:"type:uuid;index;not null"`
	Type      string  `gorm:"size:20;not null;default:text"`
	Content   string  `gorm:"type:text"`
	ReplyToID *string `gorm:"type:uuid"`
	IsEdited  bool    `gorm:"not null;default:false"`
	EditedAt  *time.Time
	IsDeleted bool `gorm:"not null;default:false"`
	DeletedAt *time.Time
	CreatedAt time.Time `gorm:"index:idx_msg_chat_created"`
}

// MessageStatus is the delivery receipt of one message for one recipient.
type MessageStatus struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	MessageID string    `gorm:"type:uuid;uniqueIndex:idx_msg_status;not null"`
	UserID    string    `gorm:"type:uuid;uniqueIndex:idx_msg_status;not null"`
	Status    string    `gorm:"size:20;not null;default:sent"`
	StatusAt  time.Time `gorm:"not null"`
}

type Call struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	ChatID          string `gorm:"type:uuid;index;not null"`
	CallerID        string `gorm:"type:uuid;index;not null"`
	Type            string `gorm:"size:20;not null"`
	Status          string `gorm:"size:20;not null;default:initiated"`
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	EndReason       *string   `gorm:"size:50"`
	CreatedAt       time.Time `gorm:"index"`
}

type CallParticipant struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	CallID   string `gorm:"type:uuid;uniqueIndex:idx_call_participant;not null"`
	UserID   string `gorm:"type:uuid;uniqueIndex:idx_call_participant;not null"`
	Status   string `gorm:"size:20;not null;default:invited"`
	JoinedAt *time.Time
	LeftAt   *time.Time
}

// CallPatch lists the columns a call transition sets alongside status.
type CallPatch struct {
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	EndReason       *string
}

// ParticipantPatch lists the columns a participant transition sets.
type ParticipantPatch struct {
	JoinedAt *time.Time
	LeftAt   *time.Time
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error {
	newID(&u.ID)
	return nil
}

func (c *Chat) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

func (m *ChatMember) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}

func (c *Contact) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}

func (s *MessageStatus) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	return nil
}

func (c *Call) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

func (p *CallParticipant) BeforeCreate(*gorm.DB) error {
	newID(&p.ID)
	return nil
}
