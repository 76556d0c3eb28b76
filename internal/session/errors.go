package session

import "github.com/ksti/meeting-room/internal/domain"

// Ref keys attached to session errors.
const (
	RefDeviceID = "device_id"
	RefUserID   = "user_id"
)

var (
	ErrInvalidDevice  = domain.New(domain.KindValidation, "invalid_device", "invalid device information")
	ErrInvalidUser    = domain.New(domain.KindValidation, "invalid_user", "user id is required")
	ErrInvalidToken   = domain.New(domain.KindUnauthorized, "invalid_token", "token is not recognised")
	ErrTokenExpired   = domain.New(domain.KindExpired, "token_expired", "token has expired")
	ErrTokenRevoked   = domain.New(domain.KindRevoked, "token_revoked", "token has been revoked")
	ErrDeviceDisabled = domain.New(domain.KindInvalidState, "device_disabled", "device is disabled")
	ErrDeviceNotFound = domain.New(domain.KindNotFound, "device_not_found", "device not found")
)
