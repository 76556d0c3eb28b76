// Package session issues and tracks per-device credentials. Each user holds at
// most Config.MaxDevicesPerUser devices, each device references at most one
// live credential, and every mutation for a user runs inside one user-locked
// unit of work so concurrent logins converge on the cap.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
)

// Tx is the store view available inside one unit of work. Lookups return
// persistence.ErrNotFound when nothing matches.
type Tx interface {
	FindDevice(ctx context.Context, userID, identifier string) (*Device, error)
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	// ListDevices returns the user's devices ordered by creation time then id.
	ListDevices(ctx context.Context, userID string) ([]*Device, error)
	SaveDevice(ctx context.Context, device *Device) error
	DeleteDevice(ctx context.Context, deviceID string) error

	GetCredential(ctx context.Context, id string) (Credential, error)
	FindByAccessToken(ctx context.Context, token string) (Credential, error)
	FindByRefreshToken(ctx context.Context, token string) (Credential, error)
	// ListLiveCredentials returns the user's non-revoked credentials.
	ListLiveCredentials(ctx context.Context, userID string) ([]Credential, error)
	SaveCredential(ctx context.Context, credential Credential) error
}

// Store runs units of work. WithinUser serialises all units for the same
// user. Both commit only when fn returns nil.
type Store interface {
	WithinUser(ctx context.Context, userID string, fn func(tx Tx) error) error
	Within(ctx context.Context, fn func(tx Tx) error) error
}

// Config bounds devices and token lifetimes.
type Config struct {
	MaxDevicesPerUser int
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
}

// DefaultConfig returns five devices, one hour access and seven day refresh.
func DefaultConfig() Config {
	return Config{
		MaxDevicesPerUser: 5,
		AccessTTL:         60 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDevicesPerUser <= 0 {
		c.MaxDevicesPerUser = d.MaxDevicesPerUser
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = d.AccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = d.RefreshTTL
	}
	return c
}

// Manager implements the session lifecycle.
type Manager struct {
	store         Store
	tokens        TokenIssuer
	deviceIDs     func() string
	credentialIDs func() string
	now           func() time.Time
	cfg           Config
}

// NewManager wires a manager whose devices and credentials share one id
// generator. Zero config values fall back to DefaultConfig.
func NewManager(store Store, tokens TokenIssuer, idGenerator func() string, now func() time.Time, cfg Config) *Manager {
	return NewManagerWithIDs(store, tokens, idGenerator, idGenerator, now, cfg)
}

// NewManagerWithIDs wires a manager with separate generators for device and
// credential ids.
func NewManagerWithIDs(store Store, tokens TokenIssuer, deviceIDs, credentialIDs func() string, now func() time.Time, cfg Config) *Manager {
	if now == nil {
		now = time.Now
	}
	if deviceIDs == nil {
		deviceIDs = func() string { return "" }
	}
	if credentialIDs == nil {
		credentialIDs = deviceIDs
	}
	return &Manager{
		store:         store,
		tokens:        tokens,
		deviceIDs:     deviceIDs,
		credentialIDs: credentialIDs,
		now:           now,
		cfg:           cfg.withDefaults(),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// AuthResult describes what Authenticate did besides returning a credential.
type AuthResult struct {
	Credential Credential
	Device     *Device
	// Rotated is true when a new credential was issued.
	Rotated bool
	// EvictedDeviceID is set when the login pushed the user over the cap.
	EvictedDeviceID string
}

// Authenticate returns a usable credential for userID on the described
// device. A live credential is reused unless forceRotate is set. Registering
// a device beyond the cap evicts the oldest other device in the same unit of
// work.
func (m *Manager) Authenticate(ctx context.Context, userID string, info DeviceInfo, forceRotate bool) (AuthResult, error) {
	if err := m.ready(); err != nil {
		return AuthResult{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AuthResult{}, ErrInvalidUser
	}
	info = info.normalized()
	if err := info.validate(); err != nil {
		return AuthResult{}, err
	}

	var result AuthResult
	err := m.store.WithinUser(ctx, userID, func(tx Tx) error {
		now := m.now()
		device, err := tx.FindDevice(ctx, userID, info.Identifier)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			device = newDevice(m.deviceIDs(), userID, info, now)
		case err != nil:
			return err
		}
		if !device.IsActive() {
			return ErrDeviceDisabled.WithRefs(RefDeviceID, device.ID())
		}
		device.touch(info, now)

		current, err := m.currentCredential(ctx, tx, device)
		if err != nil {
			return err
		}
		if current.IsZero() || !current.Valid(now) || forceRotate {
			if !current.IsZero() && current.Revoke(now) {
				if err := tx.SaveCredential(ctx, current); err != nil {
					return err
				}
			}
			current, err = m.issue(userID, device.ID(), now)
			if err != nil {
				return err
			}
			if err := tx.SaveCredential(ctx, current); err != nil {
				return err
			}
			device.attach(current.ID())
			result.Rotated = true
		}
		if err := tx.SaveDevice(ctx, device); err != nil {
			return err
		}

		evicted, err := m.enforceCap(ctx, tx, userID, device.ID(), now)
		if err != nil {
			return err
		}
		result.Credential = current
		result.Device = device
		result.EvictedDeviceID = evicted
		return nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return result, nil
}

// RefreshOwner returns the user holding refreshToken without consuming it.
func (m *Manager) RefreshOwner(ctx context.Context, refreshToken string) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", ErrInvalidToken
	}
	owner, err := m.lookup(ctx, func(tx Tx) (Credential, error) {
		return tx.FindByRefreshToken(ctx, refreshToken)
	})
	if err != nil {
		return "", err
	}
	return owner.UserID(), nil
}

// Refresh exchanges a refresh token for a new credential on the same device.
// The old credential is revoked, so a refresh token works at most once.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	if err := m.ready(); err != nil {
		return Credential{}, err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Credential{}, ErrInvalidToken
	}
	owner, err := m.lookup(ctx, func(tx Tx) (Credential, error) {
		return tx.FindByRefreshToken(ctx, refreshToken)
	})
	if err != nil {
		return Credential{}, err
	}

	var issued Credential
	err = m.store.WithinUser(ctx, owner.UserID(), func(tx Tx) error {
		now := m.now()
		old, err := tx.FindByRefreshToken(ctx, refreshToken)
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if old.IsRevoked() {
			return ErrTokenRevoked
		}
		if old.RefreshExpired(now) {
			return ErrTokenExpired
		}
		device, err := tx.GetDevice(ctx, old.DeviceID())
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if !device.IsActive() {
			return ErrDeviceDisabled.WithRefs(RefDeviceID, device.ID())
		}

		old.Revoke(now)
		if err := tx.SaveCredential(ctx, old); err != nil {
			return err
		}
		issued, err = m.issue(old.UserID(), device.ID(), now)
		if err != nil {
			return err
		}
		if err := tx.SaveCredential(ctx, issued); err != nil {
			return err
		}
		device.attach(issued.ID())
		device.touch(DeviceInfo{}, now)
		return tx.SaveDevice(ctx, device)
	})
	if err != nil {
		return Credential{}, err
	}
	return issued, nil
}

// Validate returns the credential behind a live access token.
func (m *Manager) Validate(ctx context.Context, accessToken string) (Credential, error) {
	if err := m.ready(); err != nil {
		return Credential{}, err
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Credential{}, ErrInvalidToken
	}
	now := m.now()
	if v, ok := m.tokens.(TokenVerifier); ok {
		if _, err := v.VerifyAccessToken(accessToken, now); err != nil {
			return Credential{}, err
		}
	}
	cred, err := m.lookup(ctx, func(tx Tx) (Credential, error) {
		return tx.FindByAccessToken(ctx, accessToken)
	})
	if err != nil {
		return Credential{}, err
	}
	switch {
	case cred.IsRevoked():
		return Credential{}, ErrTokenRevoked
	case cred.AccessExpired(now):
		return Credential{}, ErrTokenExpired
	}
	return cred, nil
}

// IsValid reports whether accessToken is live. Only storage failures are
// returned as errors.
func (m *Manager) IsValid(ctx context.Context, accessToken string) (bool, error) {
	_, err := m.Validate(ctx, accessToken)
	switch {
	case err == nil:
		return true, nil
	case isTokenError(err):
		return false, nil
	default:
		return false, err
	}
}

// Revoke revokes the credential behind accessToken. Revoking an already
// revoked credential succeeds.
func (m *Manager) Revoke(ctx context.Context, accessToken string) error {
	if err := m.ready(); err != nil {
		return err
	}
	cred, err := m.lookup(ctx, func(tx Tx) (Credential, error) {
		return tx.FindByAccessToken(ctx, strings.TrimSpace(accessToken))
	})
	if err != nil {
		return err
	}
	return m.store.WithinUser(ctx, cred.UserID(), func(tx Tx) error {
		current, err := tx.GetCredential(ctx, cred.ID())
		if err != nil {
			return err
		}
		if !current.Revoke(m.now()) {
			return nil
		}
		return tx.SaveCredential(ctx, current)
	})
}

// RevokeAll revokes every live credential of userID and reports how many
// were revoked. Devices stay registered.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrInvalidUser
	}
	revoked := 0
	err := m.store.WithinUser(ctx, userID, func(tx Tx) error {
		live, err := tx.ListLiveCredentials(ctx, userID)
		if err != nil {
			return err
		}
		now := m.now()
		for _, cred := range live {
			if !cred.Revoke(now) {
				continue
			}
			if err := tx.SaveCredential(ctx, cred); err != nil {
				return err
			}
			revoked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// ListDevices returns the devices registered for userID, oldest first.
func (m *Manager) ListDevices(ctx context.Context, userID string) ([]*Device, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var devices []*Device
	err := m.store.Within(ctx, func(tx Tx) error {
		var err error
		devices, err = tx.ListDevices(ctx, userID)
		return err
	})
	return devices, err
}

// RevokeDevice signs a device out and forgets it.
func (m *Manager) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.store.WithinUser(ctx, userID, func(tx Tx) error {
		device, err := m.ownedDevice(ctx, tx, userID, deviceID)
		if err != nil {
			return err
		}
		return m.evict(ctx, tx, device, m.now())
	})
}

// DisableDevice revokes the device's credential and blocks further logins
// from it.
func (m *Manager) DisableDevice(ctx context.Context, userID, deviceID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.store.WithinUser(ctx, userID, func(tx Tx) error {
		device, err := m.ownedDevice(ctx, tx, userID, deviceID)
		if err != nil {
			return err
		}
		if err := m.revokeDeviceCredentials(ctx, tx, device, m.now()); err != nil {
			return err
		}
		device.disable()
		return tx.SaveDevice(ctx, device)
	})
}

func (m *Manager) ready() error {
	if m == nil || m.store == nil || m.tokens == nil {
		return fmt.Errorf("session manager not configured")
	}
	return nil
}

func (m *Manager) lookup(ctx context.Context, find func(Tx) (Credential, error)) (Credential, error) {
	var cred Credential
	err := m.store.Within(ctx, func(tx Tx) error {
		c, err := find(tx)
		if err != nil {
			return err
		}
		cred = c
		return nil
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return Credential{}, ErrInvalidToken
	}
	return cred, err
}

func (m *Manager) issue(userID, deviceID string, now time.Time) (Credential, error) {
	// The exp claim has whole-second precision; the stored expiry matches it.
	accessExpiresAt := now.Add(m.cfg.AccessTTL).Truncate(time.Second)
	access, err := m.tokens.AccessToken(userID, deviceID, now, accessExpiresAt)
	if err != nil {
		return Credential{}, err
	}
	refresh, err := m.tokens.RefreshToken()
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		id:               m.credentialIDs(),
		userID:           userID,
		deviceID:         deviceID,
		accessToken:      access,
		refreshToken:     refresh,
		issuedAt:         now,
		accessExpiresAt:  accessExpiresAt,
		refreshExpiresAt: now.Add(m.cfg.RefreshTTL),
	}, nil
}

func (m *Manager) currentCredential(ctx context.Context, tx Tx, device *Device) (Credential, error) {
	if device.CredentialID() == "" {
		return Credential{}, nil
	}
	cred, err := tx.GetCredential(ctx, device.CredentialID())
	if errors.Is(err, persistence.ErrNotFound) {
		return Credential{}, nil
	}
	return cred, err
}

// enforceCap evicts at most one device, never keepID.
func (m *Manager) enforceCap(ctx context.Context, tx Tx, userID, keepID string, now time.Time) (string, error) {
	devices, err := tx.ListDevices(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(devices) <= m.cfg.MaxDevicesPerUser {
		return "", nil
	}
	oldest := OldestDevice(devices, keepID)
	if oldest == nil {
		return "", nil
	}
	if err := m.evict(ctx, tx, oldest, now); err != nil {
		return "", err
	}
	return oldest.ID(), nil
}

func (m *Manager) evict(ctx context.Context, tx Tx, device *Device, now time.Time) error {
	if err := m.revokeDeviceCredentials(ctx, tx, device, now); err != nil {
		return err
	}
	return tx.DeleteDevice(ctx, device.ID())
}

func (m *Manager) revokeDeviceCredentials(ctx context.Context, tx Tx, device *Device, now time.Time) error {
	live, err := tx.ListLiveCredentials(ctx, device.UserID())
	if err != nil {
		return err
	}
	for _, cred := range live {
		if cred.DeviceID() != device.ID() {
			continue
		}
		cred.Revoke(now)
		if err := tx.SaveCredential(ctx, cred); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ownedDevice(ctx context.Context, tx Tx, userID, deviceID string) (*Device, error) {
	device, err := tx.GetDevice(ctx, deviceID)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && device.UserID() != userID) {
		return nil, ErrDeviceNotFound.WithRefs(RefDeviceID, deviceID)
	}
	return device, err
}

func isTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked)
}
