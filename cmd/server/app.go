package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/config"
	"github.com/findosh/contactdesk/internal/handlers"
	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/metrics"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/services/audit"
	"github.com/findosh/contactdesk/internal/services/auth"
	"github.com/findosh/contactdesk/internal/services/maintenance"
	"github.com/findosh/contactdesk/internal/services/notify"
	"github.com/findosh/contactdesk/internal/services/otp"
	"github.com/findosh/contactdesk/internal/services/ratelimit"
	"github.com/findosh/contactdesk/internal/services/session"
	"github.com/findosh/contactdesk/internal/storage"
	"github.com/findosh/contactdesk/internal/storage/memory"
)

type eventStore interface {
	Insert(ctx context.Context, e *models.SecurityEvent) error
	ListRecent(ctx context.Context, eventType string, limit int) ([]models.SecurityEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type emailLogStore interface {
	Insert(ctx context.Context, l *models.EmailLog) error
	DeleteOlderThan(ctx context.Context, sentCutoff, failedCutoff time.Time) (int64, error)
}

// stores are the repositories behind the configured driver
type stores struct {
	driver     string
	otps       otp.Store
	sessions   session.Store
	rateLimits ratelimit.Store
	events     eventStore
	emailLogs  emailLogStore
	pinger     handlers.Pinger

	migrate func(ctx context.Context) error
	version func(ctx context.Context) (int64, error)
	close   func() error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseDriver == "memory" {
		m := memory.New()
		return &stores{
			driver:     cfg.DatabaseDriver,
			otps:       m.OTPs(),
			sessions:   m.Sessions(),
			rateLimits: m.RateLimits(),
			events:     m.SecurityEvents(),
			emailLogs:  m.EmailLogs(),
			pinger:     m,
			migrate:    func(context.Context) error { return nil },
			version:    func(context.Context) (int64, error) { return 0, nil },
			close:      func() error { return nil },
		}, nil
	}

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	return &stores{
		driver:     cfg.DatabaseDriver,
		otps:       storage.NewOTPRepository(db),
		sessions:   storage.NewSessionRepository(db),
		rateLimits: storage.NewRateLimitRepository(db),
		events:     storage.NewSecurityEventRepository(db),
		emailLogs:  storage.NewEmailLogRepository(db),
		pinger:     db,
		migrate:    db.Migrate,
		version:    db.Version,
		close:      db.Close,
	}, nil
}

// app is the fully wired service graph
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	stores   *stores
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	auth     *auth.Service
	sweeper  *maintenance.Sweeper
	handler  *handlers.Handler
}

// newApp wires every component. codeOut receives codes when the log notifier is configured.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, clk clock.Clock, codeOut io.Writer) (*app, error) {
	logger = logging.OrNop(logger)
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, st, logger, clk, codeOut)
	if err != nil {
		st.close()
		return nil, err
	}
	return a, nil
}

func wire(cfg *config.Config, st *stores, logger *zap.Logger, clk clock.Clock, codeOut io.Writer) (*app, error) {
	logger = logging.OrNop(logger)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	notifier, err := newNotifier(cfg, logger, codeOut)
	if err != nil {
		return nil, err
	}
	recording := notify.NewRecording(notifier, st.emailLogs, clk, logger)

	auditKey, err := hex.DecodeString(cfg.Security.AuditKey)
	if err != nil {
		return nil, fmt.Errorf("audit key: %w", err)
	}
	recorder, err := audit.NewRecorder(st.events, auditKey, clk, logger)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(st.rateLimits, ratelimit.Options{
		Limit:     cfg.RateLimit.Requests,
		Window:    cfg.RateLimit.Window,
		Retention: cfg.RateLimit.Retention,
	}, clk, logger)
	otps := otp.New(st.otps, recording, otp.Options{
		AdminIdentity: cfg.AdminEmail,
		TTL:           cfg.Security.OTPExpiry,
		MaxAttempts:   cfg.Security.OTPMaxAttempts,
	}, clk, logger)
	sessions := session.NewManager(st.sessions, cfg.Security.SessionTimeout, clk, logger)

	authService := auth.NewService(auth.Deps{
		AdminIdentity: cfg.AdminEmail,
		Limiter:       limiter,
		OTPs:          otps,
		Sessions:      sessions,
		Audit:         recorder,
		Metrics:       m,
	}, logger)

	sweeper := maintenance.NewSweeper(maintenance.Deps{
		OTPs:       otps,
		Sessions:   sessions,
		RateLimits: limiter,
		Events:     st.events,
		EmailLogs:  st.emailLogs,
	}, clk, logger)

	h := handlers.New(handlers.Deps{
		Config:   cfg,
		Auth:     authService,
		DB:       st.pinger,
		Gatherer: registry,
		Metrics:  m,
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		stores:   st,
		registry: registry,
		metrics:  m,
		auth:     authService,
		sweeper:  sweeper,
		handler:  h,
	}, nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger, codeOut io.Writer) (notify.Notifier, error) {
	switch cfg.Notifier {
	case "smtp":
		return notify.NewSMTPNotifier(cfg.SMTP, cfg.AdminName, logger)
	case "log":
		return notify.NewLogNotifier(codeOut), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

// Close releases the datastore
func (a *app) Close() error {
	return a.stores.close()
}
