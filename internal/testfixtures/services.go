package testfixtures

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/session"
)

// TestSecret signs access tokens issued in tests.
const TestSecret = "testfixtures-secret"

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger sets the base logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles the application services built over one store.
type Services struct {
	Booking  *application.BookingService
	Auth     *application.AuthService
	Rooms    *application.RoomService
	Users    *application.UserService
	Sessions *session.Manager
}

// Build wires every service over h with the factory's clock and ids.
// Passwords are hashed with cheap argon2id parameters.
func (f *ServiceFactory) Build(tb testing.TB, h *StoreHarness, cfg session.Config) Services {
	tb.Helper()

	issuer, err := session.NewJWTIssuer(TestSecret, "testfixtures")
	if err != nil {
		tb.Fatalf("failed to build token issuer: %v", err)
	}
	now := f.Clock.NowFunc()
	ids := f.IDGenerator.NextFunc()
	manager := session.NewManager(h.Sessions, issuer, ids, now, cfg)

	return Services{
		Booking: application.NewBookingServiceWithLogger(h.Bookings, ids, now, nil, f.Logger),
		Auth: application.NewAuthServiceWithOptions(h.Users, manager, ids, now, application.AuthOptions{
			Hasher: application.NewArgon2idHasher(FastArgon2idParams),
			Logger: f.Logger,
		}),
		Rooms:    application.NewRoomServiceWithLogger(h.Rooms, ids, now, f.Logger),
		Users:    application.NewUserService(h.Users, manager, now),
		Sessions: manager,
	}
}

// FastArgon2idParams keeps password hashing cheap in tests.
var FastArgon2idParams = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  8,
	KeyLength:   16,
}
