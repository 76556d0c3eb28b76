package session

import "time"

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// Credential is an access/refresh token pair bound to one device. It is
// immutable after issue except for revocation, which is one-way.
type Credential struct {
	id               string
	userID           string
	deviceID         string
	accessToken      string
	refreshToken     string
	issuedAt         time.Time
	accessExpiresAt  time.Time
	refreshExpiresAt time.Time
	revokedAt        *time.Time
}

func (c Credential) ID() string                  { return c.id }
func (c Credential) UserID() string              { return c.userID }
func (c Credential) DeviceID() string            { return c.deviceID }
func (c Credential) AccessToken() string         { return c.accessToken }
func (c Credential) RefreshToken() string        { return c.refreshToken }
func (c Credential) TokenType() string           { return TokenTypeBearer }
func (c Credential) IssuedAt() time.Time         { return c.issuedAt }
func (c Credential) AccessExpiresAt() time.Time  { return c.accessExpiresAt }
func (c Credential) RefreshExpiresAt() time.Time { return c.refreshExpiresAt }

// IsZero reports whether c was never issued.
func (c Credential) IsZero() bool { return c.id == "" }

func (c Credential) IsRevoked() bool { return c.revokedAt != nil }

// RevokedAt returns the revocation instant, if any.
func (c Credential) RevokedAt() (time.Time, bool) {
	if c.revokedAt == nil {
		return time.Time{}, false
	}
	return *c.revokedAt, true
}

// AccessExpired reports whether the access token is past its expiry.
func (c Credential) AccessExpired(now time.Time) bool {
	return !now.Before(c.accessExpiresAt)
}

// RefreshExpired reports whether the refresh token is past its expiry.
func (c Credential) RefreshExpired(now time.Time) bool {
	return !now.Before(c.refreshExpiresAt)
}

// Valid reports whether the access token may be used at now.
func (c Credential) Valid(now time.Time) bool {
	return !c.IsRevoked() && !c.AccessExpired(now)
}

// Revoke marks the credential revoked. It returns false when already revoked.
func (c *Credential) Revoke(now time.Time) bool {
	if c.revokedAt != nil {
		return false
	}
	at := now
	c.revokedAt = &at
	return true
}

// CredentialRecord is the flat form stores persist.
type CredentialRecord struct {
	ID               string
	UserID           string
	DeviceID         string
	AccessToken      string
	RefreshToken     string
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RevokedAt        *time.Time
}

// Record returns the persisted form of c.
func (c Credential) Record() CredentialRecord {
	r := CredentialRecord{
		ID:               c.id,
		UserID:           c.userID,
		DeviceID:         c.deviceID,
		AccessToken:      c.accessToken,
		RefreshToken:     c.refreshToken,
		IssuedAt:         c.issuedAt,
		AccessExpiresAt:  c.accessExpiresAt,
		RefreshExpiresAt: c.refreshExpiresAt,
	}
	if c.revokedAt != nil {
		at := *c.revokedAt
		r.RevokedAt = &at
	}
	return r
}

// RestoreCredential rebuilds a credential from its persisted form.
func RestoreCredential(r CredentialRecord) Credential {
	c := Credential{
		id:               r.ID,
		userID:           r.UserID,
		deviceID:         r.DeviceID,
		accessToken:      r.AccessToken,
		refreshToken:     r.RefreshToken,
		issuedAt:         r.IssuedAt,
		accessExpiresAt:  r.AccessExpiresAt,
		refreshExpiresAt: r.RefreshExpiresAt,
	}
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		c.revokedAt = &at
	}
	return c
}
