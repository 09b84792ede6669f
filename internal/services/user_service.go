package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/packcycle/packcycle/internal/models"
	apperrors "github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/logger"
	"github.com/packcycle/packcycle/pkg/validator"
)

// UserInput carries the fields accepted when registering a recipient.
type UserInput struct {
	Username    string `json:"username" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Email       string `json:"email" validate:"omitempty,email"`
	Priority    string `json:"priority" validate:"omitempty,oneof=normal high"`
}

// UserService manages delivery recipients.
type UserService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, log: logger.WithModule("users")}, nil
}

// Create registers a new recipient. Usernames are unique.
func (s *UserService) Create(ctx context.Context, input UserInput) (*models.User, error) {
	ctx = ensureContext(ctx)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	user := &models.User{
		Username:    input.Username,
		DisplayName: input.DisplayName,
		Email:       input.Email,
		Priority:    defaultIfEmpty(input.Priority, models.PriorityNormal),
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest(
				fmt.Sprintf("username %q is already taken", input.Username))
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// List returns all recipients ordered by username.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	ctx = ensureContext(ctx)

	var users []models.User
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user service: list users: %w", err)
	}
	return users, nil
}

// Get loads a recipient by ID.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// GetByUsername loads a recipient by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx = ensureContext(ctx)
	if username == "" {
		return nil, apperrors.NewBadRequest("username is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// SetPriority updates a recipient's delivery priority.
func (s *UserService) SetPriority(ctx context.Context, userID, priority string) (*models.User, error) {
	ctx = ensureContext(ctx)
	if priority != models.PriorityNormal && priority != models.PriorityHigh {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("invalid priority %q", priority))
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(user).Update("priority", priority).Error; err != nil {
		return nil, fmt.Errorf("user service: set priority: %w", err)
	}
	user.Priority = priority
	return user, nil
}

// SetActive toggles whether the recipient participates in bulk generation.
func (s *UserService) SetActive(ctx context.Context, userID string, active bool) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(user).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("user service: set active: %w", err)
	}
	user.IsActive = active
	return user, nil
}
