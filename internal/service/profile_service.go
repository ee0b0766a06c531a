package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/pkg/validator"
)

// ProfileService edits the signed-in user's own profile. The viewer id is
// always passed in by the caller.
type ProfileService struct {
	userRepo repository.UserRepository
}

func NewProfileService(userRepo repository.UserRepository) *ProfileService {
	return &ProfileService{userRepo: userRepo}
}

type SaveProfileInput struct {
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

func (s *ProfileService) Get(ctx context.Context, viewerID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *ProfileService) SaveProfile(ctx context.Context, viewerID string, input SaveProfileInput) (*domain.User, error) {
	username := strings.TrimSpace(input.Username)
	if errs := validator.ValidateProfile(username); errs.HasErrors() {
		return nil, errs
	}

	existing, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != viewerID {
		return nil, ErrUsernameTaken
	}

	if err := s.userRepo.UpdateProfile(ctx, viewerID, username, input.AvatarURL); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(ctx, viewerID)
}

// RegisterPushToken stores the device push token for viewerID so that
// messages sent to them can raise a notification.
func (s *ProfileService) RegisterPushToken(ctx context.Context, viewerID, token string) error {
	if errs := validator.ValidatePushToken(token); errs.HasErrors() {
		return errs
	}
	if err := s.userRepo.SetPushToken(ctx, viewerID, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}
