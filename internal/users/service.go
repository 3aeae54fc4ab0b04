package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pinebranch/filevault/internal/auth"
	"github.com/pinebranch/filevault/internal/faults"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords
// so a caller cannot probe which accounts exist.
var ErrInvalidCredentials = errors.New("users: invalid credentials")

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opRegister     = "users.register"
	opAuthenticate = "users.authenticate"

	minPasswordLength = 6
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages local accounts and credential checks.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Register creates a regular account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return User{}, faults.New(opRegister, "missing_username", faults.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return User{}, faults.New(opRegister, "password_too_short", faults.ErrValidation)
	}

	var existing User
	err := s.db.WithContext(ctx).Where("username = ?", trimmed).Take(&existing).Error
	if err == nil {
		return User{}, faults.New(opRegister, "username_taken", faults.ErrValidation)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "select_failed", err)
		return User{}, faults.New(opRegister, "select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, faults.New(opRegister, "hash_failed", err)
	}

	account := User{
		Username:     trimmed,
		PasswordHash: string(hash),
		Role:         string(auth.RoleUser),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, faults.New(opRegister, "username_taken", faults.ErrValidation)
		}
		s.logError(opRegister, "insert_failed", err)
		return User{}, faults.New(opRegister, "insert_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return account, nil
}

// Authenticate verifies the credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opAuthenticate, "select_failed", err)
		return User{}, faults.New(opAuthenticate, "select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", account.ID).
		Update("last_login_at", now).Error; err != nil {
		// Login still succeeds; the timestamp is advisory.
		s.logError(opAuthenticate, "last_login_update_failed", err)
	}
	account.LastLoginAt = &now
	return account, nil
}

// RoleOf maps the stored role string onto the authorization role.
func (u User) RoleOf() auth.Role {
	return auth.ParseRole(u.Role)
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("account service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
