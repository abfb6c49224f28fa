package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidTone    = errors.New("invalid tone")
)

// Channel is the medium a follow-up message is written for.
type Channel string

const (
	ChannelAny      Channel = ""
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelInApp    Channel = "in_app"
)

// ParseChannel accepts an empty string as ChannelAny.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelAny, ChannelWhatsApp, ChannelEmail, ChannelInApp:
		return c, nil
	}
	return ChannelAny, ErrInvalidChannel
}

// Tone is the register a template is written in.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"

	DefaultTone = ToneCasual
)

// ParseTone returns DefaultTone for an empty string.
func ParseTone(s string) (Tone, error) {
	switch t := Tone(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return DefaultTone, nil
	case ToneProfessional, ToneCasual, ToneFormal:
		return t, nil
	}
	return DefaultTone, ErrInvalidTone
}

// Template is a persisted follow-up message template.
type Template struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	StepKey   string    `gorm:"type:varchar(100);not null;index:idx_template_lookup,priority:1" json:"step_key"`
	Vertical  string    `gorm:"type:varchar(50);not null;default:'generic';index:idx_template_lookup,priority:2" json:"vertical"`
	Channel   Channel   `gorm:"type:varchar(20);index:idx_template_lookup,priority:3" json:"channel,omitempty"`
	Tone      Tone      `gorm:"type:varchar(20);default:'casual'" json:"tone"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Subject   string    `gorm:"type:varchar(255)" json:"subject,omitempty"`
	IsActive  bool      `gorm:"not null;index" json:"is_active"`
	Priority  int       `gorm:"default:0" json:"priority"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "message_templates"
}

// BeforeCreate assigns a UUID when the row has none.
func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Lead is the read-only view of a CRM lead used for personalization.
// Rows are owned by the CRM; this service never writes them outside dev tooling.
type Lead struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Company   string    `gorm:"type:varchar(255)" json:"company"`
	Vertical  string    `gorm:"type:varchar(100)" json:"vertical"` // free text, normalized on use
	Phone     string    `gorm:"type:varchar(50)" json:"phone"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
