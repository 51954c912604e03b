package models

import "time"

// Channel is a named message stream scoped to a project. Public channels are
// visible to every project member; private channels are gated by
// ChannelMember rows.
type Channel struct {
	BaseModel

	ProjectID      string `gorm:"type:uuid;not null;index" json:"project_id"`
	OrganizationID string `gorm:"type:uuid;index" json:"organization_id"`
	Name           string `gorm:"not null" json:"name"`
	Description    string `gorm:"type:text" json:"description"`
	IsPrivate      bool   `gorm:"default:false" json:"is_private"`
}

// ChannelMember is the membership edge for private channels.
type ChannelMember struct {
	ChannelID string    `gorm:"primaryKey;type:uuid" json:"channel_id"`
	UserID    string    `gorm:"primaryKey;type:uuid" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserChannelState tracks a user's read position in a channel. One row per
// (channel, user); lastReadAt only ever moves forward.
type UserChannelState struct {
	ChannelID         string    `gorm:"primaryKey;type:uuid" json:"channel_id"`
	UserID            string    `gorm:"primaryKey;type:uuid" json:"user_id"`
	LastReadMessageID string    `gorm:"type:uuid" json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
}

// TableName keeps the read-state table aligned with the product schema.
func (UserChannelState) TableName() string { return "user_channel_states" }
