package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/config"
	httptransport "github.com/ksti/meeting-room/internal/http"
	"github.com/ksti/meeting-room/internal/ids"
	"github.com/ksti/meeting-room/internal/obs"
	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/persistence/memory"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore"
	"github.com/ksti/meeting-room/internal/scheduler"
	"github.com/ksti/meeting-room/internal/session"
)

const limiterIdle = 10 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	addr        string
	migrateOnly bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("bookingd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv("BOOKING_CONFIG"), "path to a YAML configuration file")
	fs.StringVar(&opts.addr, "addr", "", "listen address, overrides http_port")
	fs.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, logOut io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "driver", cfg.Database.Driver)
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()
	if opts.migrateOnly {
		logger.Info("migrations applied, exiting", "driver", cfg.Database.Driver)
		return nil
	}

	a, err := newApp(ctx, cfg, store, logger, time.Now)
	if err != nil {
		logger.Error("failed to initialise services", "error", err)
		return err
	}

	addr := cfg.Addr()
	if opts.addr != "" {
		addr = opts.addr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go a.sweep(ctx, cfg.SweepInterval)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening", "addr", server.Addr, "driver", cfg.Database.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		return err
	}
	return nil
}

// backend is the storage surface shared by the memory and SQL stores.
type backend interface {
	persistence.UserRepository
	persistence.RoomRepository
	Bookings() scheduler.Store
	Sessions() session.Store
	Close() error
}

func openStore(ctx context.Context, db config.DatabaseConfig, logger *slog.Logger) (backend, error) {
	if db.Driver == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: db.Driver, DSN: db.DSN})
	if err != nil {
		return nil, err
	}
	applied, err := store.Migrate(ctx, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("database ready", "driver", db.Driver, "applied_migrations", applied)
	return store, nil
}

type app struct {
	handler http.Handler
	booking *application.BookingService
	limiter *httptransport.RateLimiter
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, store backend, logger *slog.Logger, now func() time.Time) (*app, error) {
	metrics := obs.NewMetrics(prometheus.NewRegistry())

	issuer, err := session.NewJWTIssuer(cfg.Session.Secret, "booking")
	if err != nil {
		return nil, err
	}
	manager := session.NewManagerWithIDs(store.Sessions(), issuer, ids.Prefixed("dev"), ids.Prefixed("cred"), now, session.Config{
		MaxDevicesPerUser: cfg.Session.MaxDevices,
		AccessTTL:         cfg.Session.AccessTTL,
		RefreshTTL:        cfg.Session.RefreshTTL,
	})

	bookingService := application.NewBookingServiceWithLogger(store.Bookings(), ids.Prefixed("mtg"), now, metrics, logger)
	authService := application.NewAuthServiceWithOptions(store, manager, ids.Prefixed("usr"), now, application.AuthOptions{
		Metrics: metrics,
		Logger:  logger,
	})
	roomService := application.NewRoomServiceWithLogger(store, ids.Prefixed("room"), now, logger)
	userService := application.NewUserService(store, manager, now)

	if cfg.Admin.Email != "" {
		admin, err := authService.EnsureAdmin(ctx, application.RegisterParams{
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure admin: %w", err)
		}
		logger.Info("administrator ready", "user_id", admin.ID)
	}

	limiter := httptransport.NewRateLimiter(cfg.LoginRate.PerSecond, cfg.LoginRate.Burst, now)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:       httptransport.NewAuthHandler(authService, logger),
		Users:      httptransport.NewUserHandler(userService, logger),
		Rooms:      httptransport.NewRoomHandler(roomService, bookingService, logger),
		Meetings:   httptransport.NewMeetingHandler(bookingService, logger),
		Metrics:    metrics.Handler(),
		Session:    httptransport.RequireSession(authService, logger),
		LoginLimit: httptransport.RateLimit(limiter, cfg.TrustProxy, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			metrics.Instrument,
		},
	})

	return &app{handler: router, booking: bookingService, limiter: limiter, logger: logger}, nil
}

// sweep advances meeting statuses every interval until ctx ends.
func (a *app) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *app) tick(ctx context.Context) {
	if _, err := a.booking.AdvanceStatuses(ctx, time.Time{}); err != nil {
		a.logger.WarnContext(ctx, "status sweep failed", "error", err)
	}
	if n := a.limiter.Prune(limiterIdle); n > 0 {
		a.logger.DebugContext(ctx, "rate limiter pruned", "clients", n)
	}
}
