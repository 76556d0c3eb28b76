package session

import (
	"errors"
	"testing"
	"time"
)

func TestJWTIssuer(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	issuer, err := NewJWTIssuer("secret", "meeting-room")
	if err != nil {
		t.Fatalf("NewJWTIssuer failed: %v", err)
	}
	token, err := issuer.AccessToken("user-1", "device-1", issuedAt, issuedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	t.Run("round trips claims", func(t *testing.T) {
		t.Parallel()
		claims, err := issuer.VerifyAccessToken(token, issuedAt.Add(time.Minute))
		if err != nil {
			t.Fatalf("VerifyAccessToken failed: %v", err)
		}
		if claims.Subject != "user-1" || claims.DeviceID != "device-1" || claims.ID == "" {
			t.Fatalf("unexpected claims: %#v", claims)
		}
	})

	t.Run("expires at the boundary", func(t *testing.T) {
		t.Parallel()
		if _, err := issuer.VerifyAccessToken(token, issuedAt.Add(time.Hour)); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("rejects another secret", func(t *testing.T) {
		t.Parallel()
		other, _ := NewJWTIssuer("other", "meeting-room")
		if _, err := other.VerifyAccessToken(token, issuedAt); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("tokens issued together differ", func(t *testing.T) {
		t.Parallel()
		again, err := issuer.AccessToken("user-1", "device-1", issuedAt, issuedAt.Add(time.Hour))
		if err != nil {
			t.Fatalf("AccessToken failed: %v", err)
		}
		if again == token {
			t.Fatal("expected a unique token per issue")
		}
		r1, _ := issuer.RefreshToken()
		r2, _ := issuer.RefreshToken()
		if r1 == r2 || r1 == "" {
			t.Fatalf("expected unique refresh tokens, got %q and %q", r1, r2)
		}
	})

	if _, err := NewJWTIssuer("", "x"); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}

func TestOldestDevice(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	devices := []*Device{
		newDevice("d-3", "u", DeviceInfo{Identifier: "c"}, at.Add(time.Minute)),
		newDevice("d-2", "u", DeviceInfo{Identifier: "b"}, at),
		newDevice("d-1", "u", DeviceInfo{Identifier: "a"}, at),
	}
	if got := OldestDevice(devices, ""); got.ID() != "d-1" {
		t.Fatalf("expected tie broken by id to pick d-1, got %s", got.ID())
	}
	if got := OldestDevice(devices, "d-1"); got.ID() != "d-2" {
		t.Fatalf("expected d-2 when d-1 is kept, got %s", got.ID())
	}
	if got := OldestDevice(nil, ""); got != nil {
		t.Fatalf("expected nil for no devices, got %v", got)
	}
}

func TestCredentialExpiryBoundaries(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	c := RestoreCredential(CredentialRecord{
		ID:               "c-1",
		AccessExpiresAt:  at.Add(time.Hour),
		RefreshExpiresAt: at.Add(24 * time.Hour),
	})
	if !c.Valid(at.Add(59 * time.Minute)) {
		t.Fatal("expected credential valid before expiry")
	}
	if c.Valid(at.Add(time.Hour)) {
		t.Fatal("expected access token expired at its expiry instant")
	}
	if !c.RefreshExpired(at.Add(24 * time.Hour)) {
		t.Fatal("expected refresh token expired at its expiry instant")
	}
	if !c.Revoke(at) || c.Revoke(at.Add(time.Minute)) {
		t.Fatal("expected revoke to succeed once")
	}
	if revokedAt, _ := c.RevokedAt(); !revokedAt.Equal(at) {
		t.Fatalf("expected first revocation time to stick, got %v", revokedAt)
	}
	if c.TokenType() != TokenTypeBearer {
		t.Fatalf("expected Bearer, got %s", c.TokenType())
	}
}
