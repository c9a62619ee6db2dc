package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/automation"
	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/config"
	"github.com/example/teetime-scheduler/internal/db"
	"github.com/example/teetime-scheduler/internal/executor"
	"github.com/example/teetime-scheduler/internal/logging"
	"github.com/example/teetime-scheduler/internal/migrate"
	"github.com/example/teetime-scheduler/internal/notify"
	"github.com/example/teetime-scheduler/internal/precision"
	"github.com/example/teetime-scheduler/internal/queue"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg   config.Config
	log   *logrus.Logger
	clock clock.Clock
	db    *db.DB
	store bookings.Store
	users auth.Users
	nc    *nats.Conn
	redis *precision.RedisFlag
}

func openApp(ctx context.Context, migrateUp bool) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	a := &app{cfg: cfg, log: log, clock: clock.System{}}
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("STORE=memory: booking requests are lost on restart")
		a.store = bookings.NewMemoryStore(a.clock)
		a.users = auth.NewMemoryUsers()
	default:
		d, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := d.Ping(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if migrateUp {
			if err := migrate.Up(ctx, d); err != nil {
				d.Close()
				return nil, err
			}
		}
		a.db = d
		a.store = bookings.NewPGStore(d)
		a.users = auth.PGUsers{DB: d}
	}
	return a, nil
}

func (a *app) Close() {
	if a.nc != nil {
		_ = a.nc.Drain()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) service() *bookings.Service {
	return &bookings.Service{
		Store:    a.store,
		Resolver: a.cfg.Resolver(),
		Clock:    a.clock,
		Rules: bookings.Rules{
			MaxAdvanceDays:  a.cfg.MaxAdvanceDays,
			EarliestTeeTime: a.cfg.EarliestTeeTime,
			LatestTeeTime:   a.cfg.LatestTeeTime,
		},
	}
}

// connectNATS dials NATS when NATS_URL is set. It is a no-op otherwise.
func (a *app) connectNATS(name string) error {
	if a.cfg.NATSURL == "" || a.nc != nil {
		return nil
	}
	nc, err := queue.Connect(a.cfg.NATSURL, name, a.log)
	if err != nil {
		return err
	}
	a.nc = nc
	return nil
}

func (a *app) booker() automation.Booker {
	if a.cfg.AutomationURL == "" {
		a.log.Warn("AUTOMATION_URL not set: booking attempts are dry runs")
		return automation.DryRun{}
	}
	return automation.New(a.cfg.AutomationURL, a.cfg.Club, a.cfg.AutomationTimeout)
}

func (a *app) notifier() notify.Notifier {
	n := notify.Multi{notify.Log{Log: a.log}}
	if email := notify.NewEmail(a.cfg.MailerSendAPIKey, a.cfg.MailFrom, a.cfg.AlertEmail); email.Enabled {
		n = append(n, email)
	}
	if sms := notify.NewSMS(a.cfg.TwilioAccountSID, a.cfg.TwilioAuthToken, a.cfg.TwilioFrom, a.cfg.AlertPhone); sms.Enabled {
		n = append(n, sms)
	}
	if a.nc != nil {
		n = append(n, notify.Events{Conn: a.nc, Clock: a.clock})
	}
	return n
}

func (a *app) unit() *executor.Unit {
	return &executor.Unit{
		Store:    a.store,
		Booker:   a.booker(),
		Notifier: a.notifier(),
		Clock:    a.clock,
		Mode:     a.cfg.BookingMode,
		Policy:   executor.Policy{MaxRetries: a.cfg.MaxRetries, Backoff: a.cfg.RetryBackoff},
		Log:      a.log,

		ClaimLead: a.cfg.PrecisionThreshold,
	}
}

func (a *app) flag(ctx context.Context) (precision.Flag, error) {
	if a.cfg.RedisURL == "" {
		return precision.NewMemoryFlag(a.clock), nil
	}
	f, err := precision.NewRedisFlag(a.cfg.RedisURL, precision.DefaultKey)
	if err != nil {
		return nil, err
	}
	if err := f.Ping(ctx); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.redis = f
	return f, nil
}

// health checks the backing services the server depends on.
func (a *app) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.nc != nil && !a.nc.IsConnected() {
		return fmt.Errorf("nats: %s", a.nc.Status())
	}
	if a.cfg.AutomationURL != "" {
		c := automation.New(a.cfg.AutomationURL, a.cfg.Club, 5*time.Second)
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("automation: %w", err)
		}
	}
	return nil
}
