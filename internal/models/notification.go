package models

import "gorm.io/datatypes"

// Notification types delivered by the dispatcher. The set is closed; metadata
// is typed per variant (see services.NotificationMetadata).
const (
	NotificationTeamInvitation     = "team_invitation"
	NotificationInvitationAccepted = "invitation_accepted"
	NotificationInvitationReminder = "invitation_reminder"
	NotificationProjectAdded       = "project_added"
	NotificationSystem             = "system"
)

// Notification represents an in-app notification owned by exactly one
// recipient. It is addressed by user ID or, before the recipient registers,
// by email alone.
type Notification struct {
	BaseModel

	UserID *string `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Email  *string `gorm:"index" json:"email,omitempty"`

	Type     string         `gorm:"type:varchar(64);not null" json:"type"`
	Title    string         `gorm:"type:varchar(255);not null" json:"title"`
	Message  string         `gorm:"type:text" json:"message"`
	Link     string         `gorm:"type:text" json:"link"`
	Metadata datatypes.JSON `json:"metadata"`

	IsRead bool `gorm:"default:false;index" json:"is_read"`
}
