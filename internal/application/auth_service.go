package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/session"
)

// SessionManager is the slice of *session.Manager the services rely on.
type SessionManager interface {
	Authenticate(ctx context.Context, userID string, info session.DeviceInfo, forceRotate bool) (session.AuthResult, error)
	RefreshOwner(ctx context.Context, refreshToken string) (string, error)
	Refresh(ctx context.Context, refreshToken string) (session.Credential, error)
	Validate(ctx context.Context, accessToken string) (session.Credential, error)
	Revoke(ctx context.Context, accessToken string) error
	RevokeAll(ctx context.Context, userID string) (int, error)
	ListDevices(ctx context.Context, userID string) ([]*session.Device, error)
	RevokeDevice(ctx context.Context, userID, deviceID string) error
	DisableDevice(ctx context.Context, userID, deviceID string) error
}

// SessionMetrics receives credential events. *obs.Metrics satisfies it.
type SessionMetrics interface {
	ObserveCredential(reason string)
	ObserveEviction()
}

// AuthService coordinates registration, login and the credential lifecycle.
type AuthService struct {
	users          persistence.UserRepository
	sessions       SessionManager
	hashPassword   PasswordHasher
	verifyPassword PasswordVerifier
	idGenerator    func() string
	now            func() time.Time
	metrics        SessionMetrics
	logger         *slog.Logger
}

// AuthOptions carries the optional collaborators of AuthService.
type AuthOptions struct {
	Hasher   PasswordHasher
	Verifier PasswordVerifier
	Metrics  SessionMetrics
	Logger   *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(users persistence.UserRepository, sessions SessionManager, idGenerator func() string, now func() time.Time) *AuthService {
	return NewAuthServiceWithOptions(users, sessions, idGenerator, now, AuthOptions{})
}

// NewAuthServiceWithOptions constructs an AuthService with explicit hashing,
// metrics and logging collaborators.
func NewAuthServiceWithOptions(users persistence.UserRepository, sessions SessionManager, idGenerator func() string, now func() time.Time, opts AuthOptions) *AuthService {
	if opts.Hasher == nil {
		opts.Hasher = NewArgon2idHasher(DefaultArgon2idParams)
	}
	if opts.Verifier == nil {
		opts.Verifier = VerifyPassword
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:          users,
		sessions:       sessions,
		hashPassword:   opts.Hasher,
		verifyPassword: opts.Verifier,
		idGenerator:    idGenerator,
		now:            now,
		metrics:        opts.Metrics,
		logger:         defaultLogger(opts.Logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

func (s *AuthService) ready() error {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if s.users == nil {
		return fmt.Errorf("user repository not configured")
	}
	if s.sessions == nil {
		return fmt.Errorf("session manager not configured")
	}
	return nil
}

// Register creates a regular account.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (user User, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "Register", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "registration failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "user registered")
	}()

	user, err = s.createUser(ctx, params, false)
	return
}

// EnsureAdmin creates the bootstrap administrator or promotes an existing
// account with the same email. The password is only set on creation.
func (s *AuthService) EnsureAdmin(ctx context.Context, params RegisterParams) (user User, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "EnsureAdmin", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to ensure administrator", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "administrator ready")
	}()

	existing, lookupErr := s.users.GetUserByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		if !existing.IsAdmin {
			existing.IsAdmin = true
			existing.UpdatedAt = s.now()
			if err = s.users.UpdateUser(ctx, existing); err != nil {
				err = mapUserRepoError(err)
				return
			}
		}
		user = userFromRecord(existing)
		return
	case !errors.Is(lookupErr, persistence.ErrNotFound):
		err = lookupErr
		return
	}

	user, err = s.createUser(ctx, params, true)
	return
}

func (s *AuthService) createUser(ctx context.Context, params RegisterParams, admin bool) (User, error) {
	email := normalizeEmail(params.Email)
	userName := strings.TrimSpace(params.UserName)
	displayName := strings.TrimSpace(params.DisplayName)

	vErr := &ValidationError{}
	validateEmail(email, vErr)
	validateUserName(userName, vErr)
	validatePassword("password", params.Password, vErr)
	if vErr.HasErrors() {
		return User{}, vErr
	}
	if displayName == "" {
		displayName = userName
	}
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return User{}, ErrAlreadyExists
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return User{}, err
	}
	if userName != "" {
		if _, err := s.users.GetUserByUserName(ctx, userName); err == nil {
			return User{}, ErrAlreadyExists
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return User{}, err
		}
	}

	hash, err := s.hashPassword(params.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	record := persistence.User{
		ID:           s.idGenerator(),
		Email:        email,
		UserName:     userName,
		DisplayName:  displayName,
		PasswordHash: hash,
		IsAdmin:      admin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, record); err != nil {
		return User{}, mapUserRepoError(err)
	}
	return userFromRecord(record), nil
}

// Login verifies the password of the account named by email or user name and
// returns a credential for the reported device.
func (s *AuthService) Login(ctx context.Context, params LoginParams) (result LoginResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	login := strings.TrimSpace(params.Login)
	logger := s.loggerWith(ctx, "Login",
		"login", login,
		"device_identifier", params.Device.Identifier,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"user_id", result.User.ID,
			"device_id", result.Session.DeviceID,
			"rotated", result.Rotated,
		).InfoContext(ctx, "authentication succeeded")
	}()

	if login == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	var record persistence.User
	if strings.Contains(login, "@") {
		record, err = s.users.GetUserByEmail(ctx, normalizeEmail(login))
	} else {
		record, err = s.users.GetUserByUserName(ctx, login)
	}
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}

	if err = s.verifyPassword(record.PasswordHash, params.Password); err != nil {
		err = ErrInvalidCredentials
		return
	}
	if record.Disabled {
		err = ErrAccountDisabled
		return
	}

	var auth session.AuthResult
	auth, err = s.sessions.Authenticate(ctx, record.ID, params.Device, params.ForceRotate)
	if err != nil {
		return
	}

	if s.metrics != nil {
		if auth.Rotated {
			s.metrics.ObserveCredential("login")
		} else {
			s.metrics.ObserveCredential("reuse")
		}
		if auth.EvictedDeviceID != "" {
			s.metrics.ObserveEviction()
		}
	}

	result = LoginResult{
		User:            userFromRecord(record),
		Session:         sessionFromCredential(auth.Credential),
		Rotated:         auth.Rotated,
		EvictedDeviceID: auth.EvictedDeviceID,
	}
	return
}

// Refresh exchanges a refresh token for a new credential. Each refresh token
// works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (result Session, err error) {
	if err = s.ready(); err != nil {
		return
	}

	token := strings.TrimSpace(refreshToken)
	logger := s.loggerWith(ctx, "Refresh", "token_provided", token != "")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "session refresh failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"user_id", result.UserID,
			"device_id", result.DeviceID,
		).InfoContext(ctx, "session refreshed")
	}()

	if token == "" {
		err = ErrInvalidCredentials
		return
	}

	// The owner is checked first so a disabled account never gets a new
	// credential.
	var ownerID string
	if ownerID, err = s.sessions.RefreshOwner(ctx, token); err != nil {
		return
	}
	if _, err = s.activeUser(ctx, ownerID); err != nil {
		return
	}

	var cred session.Credential
	cred, err = s.sessions.Refresh(ctx, token)
	if err != nil {
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveCredential("refresh")
	}
	result = sessionFromCredential(cred)
	return
}

// ValidateAccessToken resolves a bearer token into the acting principal.
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (principal Principal, err error) {
	if err = s.ready(); err != nil {
		return
	}

	token := strings.TrimSpace(accessToken)
	if token == "" {
		err = ErrUnauthorized
		return
	}

	var cred session.Credential
	cred, err = s.sessions.Validate(ctx, token)
	if err != nil {
		s.loggerWith(ctx, "ValidateAccessToken").
			WarnContext(ctx, "access token rejected", "error", err, "error_kind", ErrorKind(err))
		return
	}

	var record persistence.User
	record, err = s.activeUser(ctx, cred.UserID())
	if err != nil {
		return
	}

	principal = Principal{UserID: record.ID, DeviceID: cred.DeviceID(), IsAdmin: record.IsAdmin}
	return
}

// Logout revokes the credential behind accessToken.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if err := s.ready(); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "Logout")
	if err := s.sessions.Revoke(ctx, strings.TrimSpace(accessToken)); err != nil {
		logger.ErrorContext(ctx, "failed to revoke session", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "session revoked")
	return nil
}

// LogoutAll revokes every live credential of the principal and returns how
// many were revoked.
func (s *AuthService) LogoutAll(ctx context.Context, principal Principal) (revoked int, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	logger := s.loggerWith(ctx, "LogoutAll", "principal_id", principal.UserID)
	revoked, err = s.sessions.RevokeAll(ctx, principal.UserID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to revoke sessions", "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.With("revoked", revoked).InfoContext(ctx, "all sessions revoked")
	return
}

// ChangePassword replaces the principal's password after checking the current
// one, then revokes every credential of the account.
func (s *AuthService) ChangePassword(ctx context.Context, params ChangePasswordParams) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	if params.Principal.UserID == "" {
		return ErrUnauthorized
	}

	logger := s.loggerWith(ctx, "ChangePassword", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to change password", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password changed")
	}()

	vErr := &ValidationError{}
	if params.CurrentPassword == "" {
		vErr.add("current_password", "current password is required")
	}
	validatePassword("new_password", params.NewPassword, vErr)
	if vErr.HasErrors() {
		return vErr
	}

	var record persistence.User
	record, err = s.activeUser(ctx, params.Principal.UserID)
	if err != nil {
		return
	}
	if err = s.verifyPassword(record.PasswordHash, params.CurrentPassword); err != nil {
		return ErrInvalidCredentials
	}

	var hash string
	hash, err = s.hashPassword(params.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	record.PasswordHash = hash
	record.UpdatedAt = s.now()
	if err = s.users.UpdateUser(ctx, record); err != nil {
		return mapUserRepoError(err)
	}

	_, err = s.sessions.RevokeAll(ctx, record.ID)
	return
}

// ListDevices returns the principal's devices, marking the calling one.
func (s *AuthService) ListDevices(ctx context.Context, principal Principal) ([]Device, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	devices, err := s.sessions.ListDevices(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceFromSession(d, principal.DeviceID))
	}
	return out, nil
}

// RevokeDevice signs one of the principal's devices out and forgets it.
func (s *AuthService) RevokeDevice(ctx context.Context, principal Principal, deviceID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if principal.UserID == "" {
		return ErrUnauthorized
	}

	logger := s.loggerWith(ctx, "RevokeDevice",
		"principal_id", principal.UserID,
		"device_id", deviceID,
	)
	if err := s.sessions.RevokeDevice(ctx, principal.UserID, strings.TrimSpace(deviceID)); err != nil {
		logger.ErrorContext(ctx, "failed to revoke device", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "device revoked")
	return nil
}

// DisableDevice signs a device out and blocks further logins from it.
func (s *AuthService) DisableDevice(ctx context.Context, principal Principal, deviceID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if principal.UserID == "" {
		return ErrUnauthorized
	}

	logger := s.loggerWith(ctx, "DisableDevice",
		"principal_id", principal.UserID,
		"device_id", deviceID,
	)
	if err := s.sessions.DisableDevice(ctx, principal.UserID, strings.TrimSpace(deviceID)); err != nil {
		logger.ErrorContext(ctx, "failed to disable device", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "device disabled")
	return nil
}

func (s *AuthService) activeUser(ctx context.Context, userID string) (persistence.User, error) {
	record, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.User{}, ErrUnauthorized
		}
		return persistence.User{}, err
	}
	if record.Disabled {
		return persistence.User{}, ErrAccountDisabled
	}
	return record, nil
}
