package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ksti/meeting-room/internal/persistence/memory"
	"github.com/ksti/meeting-room/internal/session"
	"github.com/ksti/meeting-room/internal/testfixtures"
)

type stubTokens struct {
	mu sync.Mutex
	n  int
}

func (s *stubTokens) AccessToken(userID, deviceID string, _, _ time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("access-%s-%s-%d", userID, deviceID, s.n), nil
}

func (s *stubTokens) RefreshToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("refresh-%d", s.n), nil
}

type fixture struct {
	manager *session.Manager
	clock   *testfixtures.Clock
}

func newFixture(t *testing.T, cfg session.Config) fixture {
	t.Helper()
	clock := testfixtures.NewClock(time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC))
	ids := testfixtures.NewIDGenerator("id")
	store := memory.New()
	return fixture{
		manager: session.NewManager(store.Sessions(), &stubTokens{}, ids.NextFunc(), clock.NowFunc(), cfg),
		clock:   clock,
	}
}

func device(id string) session.DeviceInfo {
	return session.DeviceInfo{Identifier: id, Name: "Device " + id, Platform: "web"}
}

func TestAuthenticateEvictsOldestDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.Config{MaxDevicesPerUser: 2})

	results := map[string]session.AuthResult{}
	for _, id := range []string{"A", "B", "C"} {
		f.clock.Advance(time.Minute)
		res, err := f.manager.Authenticate(ctx, "user-1", device(id), false)
		if err != nil {
			t.Fatalf("Authenticate(%s) failed: %v", id, err)
		}
		results[id] = res
	}

	if results["C"].EvictedDeviceID != results["A"].Device.ID() {
		t.Fatalf("expected A to be evicted, got %q", results["C"].EvictedDeviceID)
	}
	devices, err := f.manager.ListDevices(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 2 || devices[0].Identifier() != "B" || devices[1].Identifier() != "C" {
		t.Fatalf("expected devices [B C], got %d devices", len(devices))
	}

	valid, err := f.manager.IsValid(ctx, results["A"].Credential.AccessToken())
	if err != nil || valid {
		t.Fatalf("expected A's credential revoked, got valid=%v err=%v", valid, err)
	}
	if _, err := f.manager.Validate(ctx, results["A"].Credential.AccessToken()); !errors.Is(err, session.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	for _, id := range []string{"B", "C"} {
		if ok, _ := f.manager.IsValid(ctx, results[id].Credential.AccessToken()); !ok {
			t.Fatalf("expected %s to stay valid", id)
		}
	}
}

func TestAuthenticateReusesLiveCredential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.DefaultConfig())

	first, err := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	f.clock.Advance(10 * time.Minute)
	second, err := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if second.Rotated || second.Credential.ID() != first.Credential.ID() {
		t.Fatal("expected the live credential to be reused")
	}
	if !second.Device.LastActivityAt().After(first.Device.LastActivityAt()) {
		t.Fatal("expected last activity to move forward")
	}

	rotated, err := f.manager.Authenticate(ctx, "user-1", device("A"), true)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !rotated.Rotated || rotated.Credential.ID() == first.Credential.ID() {
		t.Fatal("expected forced rotation to issue a new credential")
	}
	if ok, _ := f.manager.IsValid(ctx, first.Credential.AccessToken()); ok {
		t.Fatal("expected rotated credential to be revoked")
	}

	f.clock.Advance(2 * time.Hour)
	expired, err := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !expired.Rotated {
		t.Fatal("expected an expired credential to be replaced")
	}
}

func TestStoredExpiryMatchesSignedToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testfixtures.NewClock(time.Date(2024, time.May, 1, 8, 0, 0, 500_000_000, time.UTC))
	issuer, err := session.NewJWTIssuer("secret", "meeting-room")
	if err != nil {
		t.Fatalf("NewJWTIssuer failed: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.AccessTTL = time.Hour
	manager := session.NewManager(memory.New().Sessions(), issuer, testfixtures.NewIDGenerator("id").NextFunc(), clock.NowFunc(), cfg)

	first, err := manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if want := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC); !first.Credential.AccessExpiresAt().Equal(want) {
		t.Fatalf("expected access expiry %v, got %v", want, first.Credential.AccessExpiresAt())
	}

	clock.Set(time.Date(2024, time.May, 1, 8, 59, 59, 900_000_000, time.UTC))
	if ok, err := manager.IsValid(ctx, first.Credential.AccessToken()); err != nil || !ok {
		t.Fatalf("expected token live just before expiry, got %v %v", ok, err)
	}

	clock.Set(time.Date(2024, time.May, 1, 9, 0, 0, 200_000_000, time.UTC))
	valid, err := manager.IsValid(ctx, first.Credential.AccessToken())
	if err != nil {
		t.Fatalf("IsValid failed: %v", err)
	}
	second, err := manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if valid || !second.Rotated {
		t.Fatalf("expected an expired token to be both invalid and rotated, got valid=%v rotated=%v", valid, second.Rotated)
	}
}

func TestSeparateDeviceAndCredentialIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := testfixtures.NewClock(time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC))
	manager := session.NewManagerWithIDs(memory.New().Sessions(), &stubTokens{},
		testfixtures.NewIDGenerator("dev").NextFunc(), testfixtures.NewIDGenerator("cred").NextFunc(),
		clock.NowFunc(), session.DefaultConfig())

	res, err := manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !strings.HasPrefix(res.Device.ID(), "dev") || !strings.HasPrefix(res.Credential.ID(), "cred") {
		t.Fatalf("expected dev and cred ids, got %q and %q", res.Device.ID(), res.Credential.ID())
	}
	if res.Device.CredentialID() != res.Credential.ID() {
		t.Fatalf("expected device to point at %q, got %q", res.Credential.ID(), res.Device.CredentialID())
	}
}

func TestAuthenticateValidatesInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.DefaultConfig())
	if _, err := f.manager.Authenticate(ctx, "", device("A"), false); !errors.Is(err, session.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := f.manager.Authenticate(ctx, "user-1", session.DeviceInfo{Name: "x"}, false); !errors.Is(err, session.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.DefaultConfig())
	res, err := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	owner, err := f.manager.RefreshOwner(ctx, res.Credential.RefreshToken())
	if err != nil || owner != "user-1" {
		t.Fatalf("expected owner user-1, got %q %v", owner, err)
	}
	if _, err := f.manager.RefreshOwner(ctx, "unknown"); !errors.Is(err, session.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	refreshed, err := f.manager.Refresh(ctx, res.Credential.RefreshToken())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if refreshed.DeviceID() != res.Device.ID() {
		t.Fatalf("expected same device, got %s", refreshed.DeviceID())
	}
	if _, err := f.manager.Refresh(ctx, res.Credential.RefreshToken()); !errors.Is(err, session.ErrTokenRevoked) {
		t.Fatalf("expected second refresh to fail with ErrTokenRevoked, got %v", err)
	}
	if _, err := f.manager.Refresh(ctx, "unknown"); !errors.Is(err, session.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	f.clock.Advance(8 * 24 * time.Hour)
	if _, err := f.manager.Refresh(ctx, refreshed.RefreshToken()); !errors.Is(err, session.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestConcurrentRefreshSucceedsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.DefaultConfig())
	res, err := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.Refresh(ctx, res.Credential.RefreshToken()); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("expected exactly one refresh to succeed, got %d", ok)
	}
}

func TestConcurrentLoginsConvergeOnCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.Config{MaxDevicesPerUser: 3})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.manager.Authenticate(ctx, "user-1", device(fmt.Sprintf("D%02d", i)), false); err != nil {
				t.Errorf("Authenticate failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	devices, err := f.manager.ListDevices(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
}

func TestRevokeAllAndLogout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.DefaultConfig())
	a, _ := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	b, _ := f.manager.Authenticate(ctx, "user-1", device("B"), false)

	if err := f.manager.Revoke(ctx, a.Credential.AccessToken()); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := f.manager.Revoke(ctx, a.Credential.AccessToken()); err != nil {
		t.Fatalf("expected repeated revoke to succeed, got %v", err)
	}

	n, err := f.manager.RevokeAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 live credential revoked, got %d", n)
	}
	if ok, _ := f.manager.IsValid(ctx, b.Credential.AccessToken()); ok {
		t.Fatal("expected B revoked")
	}

	again, err := f.manager.Authenticate(ctx, "user-1", device("B"), false)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !again.Rotated {
		t.Fatal("expected a fresh credential after revoke-all")
	}
}

func TestDeviceManagement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, session.DefaultConfig())
	a, _ := f.manager.Authenticate(ctx, "user-1", device("A"), false)
	b, _ := f.manager.Authenticate(ctx, "user-1", device("B"), false)

	if err := f.manager.RevokeDevice(ctx, "user-2", a.Device.ID()); !errors.Is(err, session.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound for another user's device, got %v", err)
	}
	if err := f.manager.RevokeDevice(ctx, "user-1", a.Device.ID()); err != nil {
		t.Fatalf("RevokeDevice failed: %v", err)
	}
	if ok, _ := f.manager.IsValid(ctx, a.Credential.AccessToken()); ok {
		t.Fatal("expected A signed out")
	}

	if err := f.manager.DisableDevice(ctx, "user-1", b.Device.ID()); err != nil {
		t.Fatalf("DisableDevice failed: %v", err)
	}
	if _, err := f.manager.Authenticate(ctx, "user-1", device("B"), false); !errors.Is(err, session.ErrDeviceDisabled) {
		t.Fatalf("expected ErrDeviceDisabled, got %v", err)
	}
	if _, err := f.manager.Refresh(ctx, b.Credential.RefreshToken()); !errors.Is(err, session.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}
