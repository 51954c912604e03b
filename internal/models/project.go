package models

import "time"

// Project is owned by the wider product; this core consumes it read-only.
type Project struct {
	BaseModel

	OrganizationID string `gorm:"type:uuid;index" json:"organization_id"`
	Name           string `gorm:"not null" json:"name"`
}

// ProjectMember links a user to a project at a permission level.
// Rows are written by invitation acceptance and read for visibility checks.
type ProjectMember struct {
	ProjectID  string `gorm:"primaryKey;type:uuid" json:"project_id"`
	UserID     string `gorm:"primaryKey;type:uuid" json:"user_id"`
	Permission string `gorm:"type:varchar(32);not null" json:"permission"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the membership table aligned with the product schema.
func (ProjectMember) TableName() string { return "project_members" }
