package identity

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/models"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
)

// Directory answers identity questions the collaboration core cannot decide
// on its own. Accounts and project rosters are owned by the surrounding
// product; this package only reads them.
type Directory interface {
	// LookupUserByEmail resolves an account by its normalised email address.
	// Returns apperrors.ErrNotFound when no account exists.
	LookupUserByEmail(ctx context.Context, email string) (*models.User, error)
	// LookupUser resolves an account by id.
	LookupUser(ctx context.Context, userID string) (*models.User, error)
	// Membership returns the project membership row for a user, or
	// apperrors.ErrNotFound when the user does not belong to the project.
	Membership(ctx context.Context, projectID, userID string) (*models.ProjectMember, error)
	// IsAdmin reports whether the user holds admin permission on the project.
	IsAdmin(ctx context.Context, projectID, userID string) (bool, error)
}

type gormDirectory struct {
	db *gorm.DB
}

// NewDirectory builds a Directory backed by the shared relational store.
func NewDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

// NormalizeEmail lowercases and trims an address so lookups and uniqueness
// checks agree on a single representation.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *gormDirectory) LookupUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, apperrors.ErrBadRequest
	}

	var user models.User
	err := d.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return &user, nil
}

func (d *gormDirectory) LookupUser(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.ErrBadRequest
	}

	var user models.User
	err := d.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return &user, nil
}

func (d *gormDirectory) Membership(ctx context.Context, projectID, userID string) (*models.ProjectMember, error) {
	var member models.ProjectMember
	err := d.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return &member, nil
}

func (d *gormDirectory) IsAdmin(ctx context.Context, projectID, userID string) (bool, error) {
	member, err := d.Membership(ctx, projectID, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.Permission == models.PermissionAdmin, nil
}
