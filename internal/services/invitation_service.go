package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/ratelimit"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
	"github.com/atelier-studio/atelier/pkg/logger"
	"github.com/atelier-studio/atelier/pkg/validator"
)

// invitationTTL is how long an invitation stays acceptable after creation or
// resend.
const invitationTTL = 7 * 24 * time.Hour

// pendingInvitationCap bounds open invitations per project.
const pendingInvitationCap = 20

// Typed invitation rejections surfaced to handlers.
var (
	ErrInvalidPermission = &apperrors.AppError{
		Code:       "INVALID_PERMISSION",
		Message:    "Permission must be admin, editor or viewer",
		StatusCode: http.StatusBadRequest,
	}

	ErrPendingCapReached = &apperrors.AppError{
		Code:       "INVITATION_CAP_REACHED",
		Message:    fmt.Sprintf("A project can hold at most %d pending invitations", pendingInvitationCap),
		StatusCode: http.StatusConflict,
	}
)

// InvitationDTO represents the API-friendly invitation payload. The id
// doubles as the acceptance token embedded in invitation links.
type InvitationDTO struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	Email       string    `json:"email"`
	Role        string    `json:"role,omitempty"`
	Permission  string    `json:"permission"`
	InviterID   string    `json:"inviter_id"`
	InviterName string    `json:"inviter_name"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateInvitationInput defines attributes required to invite someone to a
// project.
type CreateInvitationInput struct {
	ProjectID  string
	Email      string
	Role       string
	Permission string
	InviterID  string
}

// InvitationService manages the invitation lifecycle from creation through
// acceptance or expiry.
type InvitationService struct {
	db            *gorm.DB
	directory     identity.Directory
	limiter       *ratelimit.Limiter
	notifications *NotificationService
	clock         func() time.Time
}

// InvitationOption configures an InvitationService.
type InvitationOption func(*InvitationService)

// WithInvitationClock overrides the service clock for tests.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(db *gorm.DB, directory identity.Directory, limiter *ratelimit.Limiter, notifications *NotificationService, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if directory == nil {
		return nil, errors.New("invitation service: directory is required")
	}
	if limiter == nil {
		return nil, errors.New("invitation service: limiter is required")
	}
	if notifications == nil {
		return nil, errors.New("invitation service: notification service is required")
	}

	s := &InvitationService{
		db:            db,
		directory:     directory,
		limiter:       limiter,
		notifications: notifications,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create invites an email address to a project. The operation is idempotent
// per (project, email): an existing pending invitation is returned unchanged.
// When the invitee already has an account the invitation is accepted in the
// same call and the new member is notified instead of the invitee's inbox.
func (s *InvitationService) Create(ctx context.Context, input CreateInvitationInput) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)

	inviterID := strings.TrimSpace(input.InviterID)
	projectID := strings.TrimSpace(input.ProjectID)
	email := identity.NormalizeEmail(input.Email)
	if inviterID == "" || projectID == "" || email == "" {
		return nil, apperrors.NewBadRequest("Project id, email and inviter id are required")
	}
	if err := validator.ValidateVar(email, "email"); err != nil {
		return nil, apperrors.NewBadRequest("A valid email address is required")
	}
	if !validPermission(input.Permission) {
		return nil, ErrInvalidPermission
	}

	check, err := s.limiter.Check(ctx, inviterID, ratelimit.ActionCreateInvitation)
	if err != nil {
		return nil, fmt.Errorf("invitation service: rate limit: %w", err)
	}
	if check.Limited {
		return nil, apperrors.NewRateLimited(check.ResetAt)
	}

	isAdmin, err := s.directory.IsAdmin(ctx, projectID, inviterID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, apperrors.ErrForbidden
	}

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("invitation service: load project: %w", err)
	}

	// Idempotency: a live pending invitation for the same pair is returned
	// as-is rather than duplicated or refreshed.
	var existing models.Invitation
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND email = ? AND status = ?", projectID, email, models.InvitationStatusPending).
		First(&existing).Error
	switch {
	case err == nil:
		if !existing.Expired(s.clock()) {
			dto := mapInvitation(existing)
			return &dto, nil
		}
		if err := s.markExpired(ctx, &existing); err != nil {
			return nil, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("invitation service: lookup pending invitation: %w", err)
	}

	var pendingCount int64
	if err := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("project_id = ? AND status = ?", projectID, models.InvitationStatusPending).
		Count(&pendingCount).Error; err != nil {
		return nil, fmt.Errorf("invitation service: count pending invitations: %w", err)
	}
	if pendingCount >= pendingInvitationCap {
		return nil, ErrPendingCapReached
	}

	inviterName := ""
	if inviter, err := s.directory.LookupUser(ctx, inviterID); err == nil {
		inviterName = inviter.DisplayName
	}

	invitation := models.Invitation{
		ProjectID:   projectID,
		ProjectName: project.Name,
		Email:       email,
		Role:        strings.TrimSpace(input.Role),
		Permission:  input.Permission,
		InviterID:   inviterID,
		InviterName: inviterName,
		Status:      models.InvitationStatusPending,
		ExpiresAt:   s.clock().Add(invitationTTL),
	}
	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		// A concurrent create for the same (project, email) pair got here
		// first; the partial unique index rejected this row. Return the
		// winner, matching the idempotent path above.
		var winner models.Invitation
		if lookupErr := s.db.WithContext(ctx).
			Where("project_id = ? AND email = ? AND status = ?", projectID, email, models.InvitationStatusPending).
			First(&winner).Error; lookupErr == nil {
			dto := mapInvitation(winner)
			return &dto, nil
		}
		return nil, fmt.Errorf("invitation service: create invitation: %w", err)
	}

	// Auto-accept: the invitee already has an account, so membership is
	// granted immediately and no email round-trip happens.
	if invitee, err := s.directory.LookupUserByEmail(ctx, email); err == nil {
		if err := s.accept(ctx, &invitation, invitee.ID); err != nil {
			return nil, err
		}
		s.notifyProjectAdded(ctx, invitee.ID, invitation)
		dto := mapInvitation(invitation)
		return &dto, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	s.notifyInvited(ctx, invitation)

	dto := mapInvitation(invitation)
	return &dto, nil
}

// Validate looks an invitation up by its token and reports whether it is
// still acceptable. Expiry is applied lazily here: a pending invitation past
// its deadline is flipped to expired before the rejection is returned.
func (s *InvitationService) Validate(ctx context.Context, token string) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	// Expired invitations answer exactly like unknown tokens so probing a
	// token reveals nothing about whether it ever existed.
	switch invitation.Status {
	case models.InvitationStatusAccepted:
		return nil, apperrors.NewBadRequest("This invitation has already been accepted")
	case models.InvitationStatusExpired:
		return nil, apperrors.ErrNotFound
	}

	if invitation.Expired(s.clock()) {
		if err := s.markExpired(ctx, invitation); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrNotFound
	}

	dto := mapInvitation(*invitation)
	return &dto, nil
}

// Accept grants project membership to the accepting user and transitions the
// invitation to accepted as one atomic unit.
func (s *InvitationService) Accept(ctx context.Context, token, userID string) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("User id is required")
	}

	if _, err := s.Validate(ctx, token); err != nil {
		return nil, err
	}

	invitation, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.accept(ctx, invitation, userID); err != nil {
		return nil, err
	}

	s.notifyAccepted(ctx, *invitation, userID)

	dto := mapInvitation(*invitation)
	return &dto, nil
}

// Resend refreshes an invitation's expiry and re-dispatches the notification.
// It runs under a tighter rate limit than creation. If the invitee registered
// since the invitation went out, membership is granted immediately instead.
func (s *InvitationService) Resend(ctx context.Context, invitationID, requesterID string) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, apperrors.NewBadRequest("Requester id is required")
	}

	check, err := s.limiter.Check(ctx, requesterID, ratelimit.ActionResendInvitation)
	if err != nil {
		return nil, fmt.Errorf("invitation service: rate limit: %w", err)
	}
	if check.Limited {
		return nil, apperrors.NewRateLimited(check.ResetAt)
	}

	invitation, err := s.load(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if invitation.Status != models.InvitationStatusPending {
		return nil, apperrors.NewBadRequest("Only pending invitations can be resent")
	}

	if invitation.InviterID != requesterID {
		isAdmin, err := s.directory.IsAdmin(ctx, invitation.ProjectID, requesterID)
		if err != nil {
			return nil, err
		}
		if !isAdmin {
			return nil, apperrors.ErrForbidden
		}
	}

	// Invitee registered since the original send: behave like auto-accept.
	if invitee, err := s.directory.LookupUserByEmail(ctx, invitation.Email); err == nil {
		if err := s.accept(ctx, invitation, invitee.ID); err != nil {
			return nil, err
		}
		s.notifyProjectAdded(ctx, invitee.ID, *invitation)
		dto := mapInvitation(*invitation)
		return &dto, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	invitation.ExpiresAt = s.clock().Add(invitationTTL)
	if err := s.db.WithContext(ctx).Model(invitation).
		Update("expires_at", invitation.ExpiresAt).Error; err != nil {
		return nil, fmt.Errorf("invitation service: extend invitation: %w", err)
	}

	s.notifyReminder(ctx, *invitation)

	dto := mapInvitation(*invitation)
	return &dto, nil
}

// ProcessAutomaticInvitations runs on login: every live pending invitation
// for the user's email is accepted so someone who registers after being
// invited lands directly in each project. Email-addressed notifications are
// re-addressed to the fresh user id at the same time.
func (s *InvitationService) ProcessAutomaticInvitations(ctx context.Context, userID, email string) (int, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	email = identity.NormalizeEmail(email)
	if userID == "" || email == "" {
		return 0, apperrors.NewBadRequest("User id and email are required")
	}

	if _, err := s.notifications.ClaimForUser(ctx, userID, email); err != nil {
		logger.Warn("claiming notifications failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	var pending []models.Invitation
	if err := s.db.WithContext(ctx).
		Where("email = ? AND status = ?", email, models.InvitationStatusPending).
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("invitation service: list pending invitations: %w", err)
	}

	accepted := 0
	now := s.clock()
	for i := range pending {
		invitation := &pending[i]
		if invitation.Expired(now) {
			if err := s.markExpired(ctx, invitation); err != nil {
				logger.Warn("expiring stale invitation failed",
					zap.String("invitation_id", invitation.ID), zap.Error(err))
			}
			continue
		}
		if err := s.accept(ctx, invitation, userID); err != nil {
			logger.Warn("automatic invitation acceptance failed",
				zap.String("invitation_id", invitation.ID), zap.Error(err))
			continue
		}
		s.notifyProjectAdded(ctx, userID, *invitation)
		accepted++
	}
	return accepted, nil
}

// ListForProject returns a project's invitations, pending first, newest
// within each status.
func (s *InvitationService) ListForProject(ctx context.Context, projectID string) ([]InvitationDTO, error) {
	ctx = ensureContext(ctx)

	var rows []models.Invitation
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", strings.TrimSpace(projectID)).
		Order("status DESC, created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list invitations: %w", err)
	}

	items := make([]InvitationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapInvitation(row))
	}
	return items, nil
}

// accept grants membership and flips the invitation status inside one
// transaction. The status update is guarded on pending so a replayed token
// cannot apply twice even if two accepts race.
func (s *InvitationService) accept(ctx context.Context, invitation *models.Invitation, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationStatusPending).
			Update("status", models.InvitationStatusAccepted)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NewBadRequest("This invitation has already been accepted")
		}

		member := models.ProjectMember{
			ProjectID:  invitation.ProjectID,
			UserID:     userID,
			Permission: invitation.Permission,
		}
		if err := tx.Where("project_id = ? AND user_id = ?", invitation.ProjectID, userID).
			FirstOrCreate(&member).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("invitation service: accept invitation: %w", err)
	}

	invitation.Status = models.InvitationStatusAccepted
	return nil
}

func (s *InvitationService) load(ctx context.Context, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewBadRequest("Invitation token is required")
	}

	var invitation models.Invitation
	if err := s.db.WithContext(ctx).First(&invitation, "id = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	return &invitation, nil
}

func (s *InvitationService) markExpired(ctx context.Context, invitation *models.Invitation) error {
	if err := s.db.WithContext(ctx).Model(invitation).
		Update("status", models.InvitationStatusExpired).Error; err != nil {
		return fmt.Errorf("invitation service: expire invitation: %w", err)
	}
	invitation.Status = models.InvitationStatusExpired
	return nil
}

// Notification dispatch is fire-and-forget relative to the invitation write:
// failures are logged, never surfaced.

func (s *InvitationService) notifyInvited(ctx context.Context, invitation models.Invitation) {
	_, err := s.notifications.Send(ctx, SendNotificationInput{
		Email:   invitation.Email,
		Type:    models.NotificationTeamInvitation,
		Title:   fmt.Sprintf("You've been invited to %s", invitation.ProjectName),
		Message: fmt.Sprintf("%s invited you to join %s as %s.", invitation.InviterName, invitation.ProjectName, invitation.Permission),
		Link:    invitationLink(invitation.ID),
		Metadata: NotificationMetadata{
			ProjectID:    invitation.ProjectID,
			ProjectName:  invitation.ProjectName,
			InvitationID: invitation.ID,
			InviterName:  invitation.InviterName,
			Permission:   invitation.Permission,
		},
		EmailSubject: fmt.Sprintf("Invitation to join %s", invitation.ProjectName),
		EmailBody:    fmt.Sprintf("%s invited you to join %s. Open %s to accept. The invitation expires on %s.", invitation.InviterName, invitation.ProjectName, invitationLink(invitation.ID), invitation.ExpiresAt.Format(time.RFC1123)),
	})
	if err != nil {
		logger.Warn("invitation notification failed",
			zap.String("invitation_id", invitation.ID), zap.Error(err))
	}
}

func (s *InvitationService) notifyReminder(ctx context.Context, invitation models.Invitation) {
	_, err := s.notifications.Send(ctx, SendNotificationInput{
		Email:   invitation.Email,
		Type:    models.NotificationInvitationReminder,
		Title:   fmt.Sprintf("Reminder: join %s", invitation.ProjectName),
		Message: fmt.Sprintf("Your invitation to %s is still waiting.", invitation.ProjectName),
		Link:    invitationLink(invitation.ID),
		Metadata: NotificationMetadata{
			ProjectID:    invitation.ProjectID,
			ProjectName:  invitation.ProjectName,
			InvitationID: invitation.ID,
			InviterName:  invitation.InviterName,
			Permission:   invitation.Permission,
		},
		EmailSubject: fmt.Sprintf("Reminder: invitation to %s", invitation.ProjectName),
		EmailBody:    fmt.Sprintf("Your invitation to join %s expires on %s. Open %s to accept.", invitation.ProjectName, invitation.ExpiresAt.Format(time.RFC1123), invitationLink(invitation.ID)),
	})
	if err != nil {
		logger.Warn("invitation reminder failed",
			zap.String("invitation_id", invitation.ID), zap.Error(err))
	}
}

func (s *InvitationService) notifyAccepted(ctx context.Context, invitation models.Invitation, acceptedBy string) {
	message := fmt.Sprintf("%s joined %s.", invitation.Email, invitation.ProjectName)
	if user, err := s.directory.LookupUser(ctx, acceptedBy); err == nil && user.DisplayName != "" {
		message = fmt.Sprintf("%s joined %s.", user.DisplayName, invitation.ProjectName)
	}

	_, err := s.notifications.Send(ctx, SendNotificationInput{
		UserID:  invitation.InviterID,
		Type:    models.NotificationInvitationAccepted,
		Title:   "Invitation accepted",
		Message: message,
		Metadata: NotificationMetadata{
			ProjectID:    invitation.ProjectID,
			ProjectName:  invitation.ProjectName,
			InvitationID: invitation.ID,
		},
	})
	if err != nil {
		logger.Warn("invitation accepted notification failed",
			zap.String("invitation_id", invitation.ID), zap.Error(err))
	}
}

func (s *InvitationService) notifyProjectAdded(ctx context.Context, userID string, invitation models.Invitation) {
	_, err := s.notifications.Send(ctx, SendNotificationInput{
		UserID:  userID,
		Type:    models.NotificationProjectAdded,
		Title:   fmt.Sprintf("You've been added to %s", invitation.ProjectName),
		Message: fmt.Sprintf("%s added you to %s as %s.", invitation.InviterName, invitation.ProjectName, invitation.Permission),
		Metadata: NotificationMetadata{
			ProjectID:    invitation.ProjectID,
			ProjectName:  invitation.ProjectName,
			InvitationID: invitation.ID,
			InviterName:  invitation.InviterName,
			Permission:   invitation.Permission,
		},
	})
	if err != nil {
		logger.Warn("project added notification failed",
			zap.String("invitation_id", invitation.ID), zap.Error(err))
	}
}

func invitationLink(invitationID string) string {
	return fmt.Sprintf("/invitations/%s", invitationID)
}

func validPermission(permission string) bool {
	switch permission {
	case models.PermissionAdmin, models.PermissionEditor, models.PermissionViewer:
		return true
	}
	return false
}

func mapInvitation(row models.Invitation) InvitationDTO {
	return InvitationDTO{
		ID:          row.ID,
		ProjectID:   row.ProjectID,
		ProjectName: row.ProjectName,
		Email:       row.Email,
		Role:        row.Role,
		Permission:  row.Permission,
		InviterID:   row.InviterID,
		InviterName: row.InviterName,
		Status:      row.Status,
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
	}
}
