package models

import "time"

// Invitation status values. Pending transitions to accepted or expired; both
// are terminal.
const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusExpired  = "expired"
)

// Project permission levels assignable through invitations.
const (
	PermissionAdmin  = "admin"
	PermissionEditor = "editor"
	PermissionViewer = "viewer"
)

// Invitation is a standing offer for an email address to join a project at a
// given permission level. At most one pending invitation exists per
// (project, email) pair.
type Invitation struct {
	BaseModel

	ProjectID   string `gorm:"type:uuid;not null;index:idx_invitations_project_email" json:"project_id"`
	ProjectName string `gorm:"type:varchar(255)" json:"project_name"`
	Email       string `gorm:"not null;index:idx_invitations_project_email" json:"email"`
	Role        string `gorm:"type:varchar(128)" json:"role"`
	Permission  string `gorm:"type:varchar(32);not null" json:"permission"`
	InviterID   string `gorm:"type:uuid;not null" json:"inviter_id"`
	InviterName string `gorm:"type:varchar(255)" json:"inviter_name"`

	Status    string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// TableName keeps the invitation table aligned with the product schema.
func (Invitation) TableName() string { return "team_invitations" }

// Expired reports whether the invitation's expiry has passed at the supplied
// instant, regardless of the stored status column.
func (i Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now)
}
