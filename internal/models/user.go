package models

// User mirrors the account record issued by the external identity provider.
// The collaboration core reads it to resolve email addresses to user IDs; it
// never creates or mutates accounts.
type User struct {
	BaseModel

	Email       string `gorm:"not null;uniqueIndex" json:"email"`
	DisplayName string `gorm:"type:varchar(255)" json:"display_name"`
	AvatarURL   string `gorm:"type:text" json:"avatar_url,omitempty"`
}
