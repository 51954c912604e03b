package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message belongs to a channel. History is immutable except edit/delete by
// the author. Metadata carries sender display fields and reactions.
type Message struct {
	BaseModel

	ChannelID      string         `gorm:"type:uuid;not null;index" json:"channel_id"`
	UserID         string         `gorm:"type:uuid;not null" json:"user_id"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	IsAnnouncement bool           `gorm:"default:false" json:"is_announcement"`
	Metadata       datatypes.JSON `json:"metadata"`

	Attachments []MessageAttachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// MessageAttachment is attachment metadata; the binary payload lives in the
// object store.
type MessageAttachment struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	MessageID string    `gorm:"type:uuid;not null;index" json:"message_id"`
	FileName  string    `gorm:"not null" json:"file_name"`
	FileType  string    `gorm:"type:varchar(128)" json:"file_type"`
	FileURL   string    `gorm:"type:text;not null" json:"file_url"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate ensures attachment identifiers are generated automatically.
func (a *MessageAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
