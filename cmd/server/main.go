// Contact Desk - admin authentication service for the contact form dashboard
// Entry point for the server and its operator commands
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/findosh/contactdesk/internal/config"
	"github.com/findosh/contactdesk/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath  string
	eventType   string
	eventsLimit int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "contactdesk",
		Short: "Contact Desk - passwordless admin login for the contact dashboard",
		Long: `contactdesk serves the admin authentication API: one-time passcodes by email,
bearer sessions and per-client rate limiting, backed by SQLite, PostgreSQL or memory.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}

	maintenanceCmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Delete expired codes, sessions, rate windows and old logs once",
		RunE:  runMaintenance,
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the configuration and the datastore",
		RunE:  runVerify,
	}

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Print recent security events",
		RunE:  runEvents,
	}
	eventsCmd.Flags().StringVarP(&eventType, "type", "t", "", "only show events of this type")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "maximum number of events")

	root.AddCommand(serveCmd, migrateCmd, maintenanceCmd, verifyCmd, eventsCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, clock.New(), os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.stores.migrate(ctx); err != nil {
		return err
	}

	if cfg.DatabaseDriver == "memory" {
		logger.Warn("using in-memory storage, state is lost on restart")
	}

	return serve(ctx, a, net.JoinHostPort("", cfg.Port))
}

func serve(ctx context.Context, a *app, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", addr), zap.String("env", a.cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if interval := a.cfg.MaintenanceInterval; interval > 0 {
		g.Go(func() error {
			return a.sweeper.Run(ctx, interval)
		})
	}

	return g.Wait()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.migrate(cmd.Context()); err != nil {
		return err
	}
	v, err := st.version(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied, schema version %d\n", v)
	return nil
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(cmd.Context(), cfg, logger, clock.New(), io.Discard)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.sweeper.RunOnce(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		return encErr
	}
	return err
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	return verify(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
}

func verify(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger) error {
	fmt.Fprintf(out, "config:     ok (%s)\n", cfg.Environment)
	fmt.Fprintf(out, "admin:      %s\n", cfg.AdminEmail)
	fmt.Fprintf(out, "otp:        %d minutes, %d attempts\n", cfg.OTPExpiryMinutes(), cfg.Security.OTPMaxAttempts)
	fmt.Fprintf(out, "session:    %d minutes\n", cfg.SessionTimeoutMinutes())
	fmt.Fprintf(out, "rate limit: %d requests per %s\n", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	switch cfg.Notifier {
	case "smtp":
		fmt.Fprintf(out, "notifier:   smtp via %s:%d\n", cfg.SMTP.Host, cfg.SMTP.Port)
	default:
		fmt.Fprintf(out, "notifier:   %s\n", cfg.Notifier)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(out, "datastore:  FAILED\n")
		return err
	}
	defer st.close()

	if err := st.pinger.PingContext(ctx); err != nil {
		fmt.Fprintf(out, "datastore:  FAILED\n")
		return fmt.Errorf("datastore ping: %w", err)
	}
	v, err := st.version(ctx)
	if err != nil {
		fmt.Fprintf(out, "datastore:  ok (%s), schema unknown\n", st.driver)
		return err
	}
	fmt.Fprintf(out, "datastore:  ok (%s), schema version %d\n", st.driver, v)
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	return printEvents(cmd.Context(), cmd.OutOrStdout(), st.events, eventType, eventsLimit)
}

func printEvents(ctx context.Context, out io.Writer, events eventStore, eventType string, limit int) error {
	list, err := events.ListRecent(ctx, eventType, limit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSEVERITY\tEMAIL\tIP\tDETAILS")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.EventType, e.Severity, e.Identity, e.IPAddress, e.Details)
	}
	return tw.Flush()
}
