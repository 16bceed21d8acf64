// Package users manages member registration, login and profiles.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sportsblock/sportsblock/internal/app/domain/user"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// ErrInvalidCredentials is returned when authentication fails. Callers must
// not distinguish unknown users from wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{2,15}$`)

// Custodian provisions a chain account for users who register without one.
type Custodian interface {
	CreateAccount(ctx context.Context, userID, username string) (hiveAccount string, err error)
}

// Service manages user records.
type Service struct {
	store     storage.UserStore
	custodian Custodian
	log       *logger.Logger
}

// New constructs a user service. The custodian may be nil, in which case
// registration without a Hive account is rejected.
func New(store storage.UserStore, custodian Custodian, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, custodian: custodian, log: log}
}

// RegisterParams carries the registration request.
type RegisterParams struct {
	Username    string
	Password    string
	HiveAccount string
	DisplayName string
	About       string
	AvatarURL   string
}

// Register creates a new member. Users providing a HiveAccount link it
// directly; everyone else gets a custodial account provisioned for them.
func (s *Service) Register(ctx context.Context, params RegisterParams) (user.User, error) {
	username := strings.ToLower(strings.TrimSpace(params.Username))
	if !usernamePattern.MatchString(username) {
		return user.User{}, fmt.Errorf("username must be 3-16 characters of lowercase letters, digits, dots or dashes")
	}
	if len(params.Password) < 8 {
		return user.User{}, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	hive := strings.ToLower(strings.TrimSpace(params.HiveAccount))
	custodial := hive == ""
	if custodial && s.custodian == nil {
		return user.User{}, fmt.Errorf("hive_account is required")
	}

	u := user.User{
		Username:     username,
		HiveAccount:  hive,
		DisplayName:  strings.TrimSpace(params.DisplayName),
		About:        strings.TrimSpace(params.About),
		AvatarURL:    strings.TrimSpace(params.AvatarURL),
		Custodial:    custodial,
		Role:         "user",
		PasswordHash: string(hash),
	}
	u, err = s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}

	if custodial {
		hiveAccount, err := s.custodian.CreateAccount(ctx, u.ID, u.Username)
		if err != nil {
			s.log.WithError(err).WithField("user_id", u.ID).Error("custodial account provisioning failed")
			return user.User{}, fmt.Errorf("provision custodial account: %w", err)
		}
		u.HiveAccount = hiveAccount
		u, err = s.store.UpdateUser(ctx, u)
		if err != nil {
			return user.User{}, err
		}
	}

	s.log.WithField("user_id", u.ID).
		WithField("username", u.Username).
		WithField("custodial", u.Custodial).
		Info("user registered")
	return u, nil
}

// Authenticate checks a username/password pair and returns the user.
func (s *Service) Authenticate(ctx context.Context, username, password string) (user.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrInvalidCredentials
		}
		return user.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns all registered users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// GetByUsername returns a user by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (user.User, error) {
	return s.store.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
}

// UpdateProfileParams carries the mutable profile fields. Nil pointers leave
// the stored value unchanged.
type UpdateProfileParams struct {
	DisplayName *string
	About       *string
	AvatarURL   *string
}

// UpdateProfile applies profile changes to the caller's own record.
func (s *Service) UpdateProfile(ctx context.Context, id string, params UpdateProfileParams) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if params.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*params.DisplayName)
	}
	if params.About != nil {
		u.About = strings.TrimSpace(*params.About)
	}
	if params.AvatarURL != nil {
		u.AvatarURL = strings.TrimSpace(*params.AvatarURL)
	}
	return s.store.UpdateUser(ctx, u)
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	_, err = s.store.UpdateUser(ctx, u)
	return err
}
