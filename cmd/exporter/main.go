package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/config"
	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
	"github.com/andreweacott/jatekukko-exporter/pkg/metrics"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
	"github.com/andreweacott/jatekukko-exporter/pkg/scheduler"
	"github.com/andreweacott/jatekukko-exporter/pkg/setup"
	"github.com/andreweacott/jatekukko-exporter/pkg/views"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	fs := flag.NewFlagSet("jatekukko-exporter", flag.ContinueOnError)
	cfg := config.Bind(fs)

	rootCmd := &cobra.Command{
		Use:   "jatekukko-exporter",
		Short: "Exports Jätekukko waste collection dates and invoices",
		Long: `jatekukko-exporter polls the Jätekukko customer portal and serves upcoming
collection dates and invoice due dates as calendars, sensors and Prometheus metrics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	rootCmd.PersistentFlags().AddGoFlagSet(fs)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Poll the portal and serve calendars and metrics (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cfg)
			},
		},
		&cobra.Command{
			Use:   "setup",
			Short: "Validate credentials and store them as an entry",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSetup(cmd.Context(), cfg, false)
			},
		},
		&cobra.Command{
			Use:   "reauth",
			Short: "Validate a new password for an existing entry",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSetup(cmd.Context(), cfg, true)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("jatekukko-exporter %s\n", version)
			},
		},
	)

	return rootCmd
}

// runSetup creates an entry, or with reauth set updates the password of an existing one
func runSetup(ctx context.Context, cfg *config.Config, reauth bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.CustomerNumber == "" || cfg.Password == "" {
		return errors.New("--customer-number and --password are required")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	store, err := setup.OpenStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	flow := setup.NewFlow(store, setup.PortalClientFactory(cfg.PortalURL, log), log)

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	if reauth {
		if _, err := flow.Reauth(ctx, cfg.CustomerNumber, cfg.Password); err != nil {
			return describeSetupError(err)
		}
		fmt.Println("Re-authentication successful")
		return nil
	}

	entry, err := flow.CreateEntry(ctx, cfg.CustomerNumber, cfg.Password)
	if errors.Is(err, setup.ErrAlreadyConfigured) {
		fmt.Printf("%s is already configured, password updated\n", entry.CustomerNumber)
		return nil
	}
	if err != nil {
		return describeSetupError(err)
	}

	fmt.Printf("Entry %q created for customer %s (stored at %s)\n", entry.Title, entry.CustomerNumber, cfg.StorePath)
	return nil
}

func describeSetupError(err error) error {
	var validationErr *setup.ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Errorf("%s: %w", validationErr.Reason(), err)
	}
	return err
}

// resolveCredentials prefers credentials from flags and falls back to the entry store.
// Without a customer number the store must hold exactly one entry.
func resolveCredentials(cfg *config.Config, store *setup.Store) (setup.Entry, error) {
	if cfg.CustomerNumber != "" && cfg.Password != "" {
		return setup.Entry{CustomerNumber: cfg.CustomerNumber, Password: cfg.Password, Title: cfg.CustomerNumber}, nil
	}

	if cfg.CustomerNumber != "" {
		entry, err := store.Get(cfg.CustomerNumber)
		if errors.Is(err, setup.ErrEntryNotFound) {
			return setup.Entry{}, fmt.Errorf("no entry for customer %s, run setup first", cfg.CustomerNumber)
		}
		return entry, err
	}

	entries, err := store.List()
	if err != nil {
		return setup.Entry{}, err
	}
	switch len(entries) {
	case 0:
		return setup.Entry{}, errors.New("no entries configured, run setup first")
	case 1:
		return entries[0], nil
	default:
		return setup.Entry{}, fmt.Errorf("%d entries configured, select one with --customer-number", len(entries))
	}
}

func runServe(cfg *config.Config) error {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log.Info("jatekukko-exporter starting", "version", version, "config", cfg.String())

	// Create context with graceful shutdown support
	ctx := SetupGracefulShutdown()

	store, err := setup.OpenStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := resolveCredentials(cfg, store)
	if err != nil {
		return err
	}
	log.WithCustomerNumber(entry.CustomerNumber).WithField("title", entry.Title).Info("Using entry")

	registry := prometheus.NewRegistry()
	metricDescs, err := metrics.NewMetricDescriptors(registry)
	if err != nil {
		return fmt.Errorf("failed to create metric descriptors: %w", err)
	}
	exporterMetrics, err := metrics.NewExporterMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to create exporter metrics: %w", err)
	}

	client, err := portal.NewClient(cfg.PortalURL, entry.CustomerNumber, entry.Password,
		&http.Client{Timeout: cfg.RequestTimeout}, log)
	if err != nil {
		return err
	}

	api := coordinator.NewPortalAPIWithCircuitBreaker(client, coordinator.DefaultCircuitBreakerConfig(), log)
	coord := coordinator.New(api, entry.CustomerNumber, log).
		WithExporterMetrics(exporterMetrics).
		WithShutdownContext(ctx)
	defer coord.Close(context.Background())

	loc := cfg.Location()
	clock := func() time.Time { return time.Now().In(loc) }
	coord.Subscribe(coordinator.NewMetricsListener(metricDescs, entry.CustomerNumber, loc, time.Now))

	sched := scheduler.New(coord, scheduler.Config{
		Interval:             cfg.UpdateInterval,
		AuthFailureThreshold: cfg.AuthFailureThreshold,
	}, log).WithReauthHook(func(err error) {
		log.WithError(err).Error("Re-authentication required: POST the new password to /api/reauth, or stop the exporter and run 'jatekukko-exporter reauth'")
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("first refresh failed: %w", err)
	}

	flow := setup.NewFlow(store, setup.PortalClientFactory(cfg.PortalURL, log), log)
	if _, err := flow.Adopt(entry); err != nil {
		log.WithError(err).Warn("Failed to store credentials, re-authentication over HTTP is unavailable")
	}

	viewSet, err := views.Build(coord, entry.CustomerNumber, clock, log)
	if err != nil {
		return err
	}
	defer viewSet.Close()

	go sched.Run(ctx)

	handler := NewHandler(Handlers{
		Registry: registry,
		Views:    viewSet,
		Status:   coord,
		Refresh:  sched,
		Reauth: &entryReauthenticator{
			flow:           flow,
			customerNumber: entry.CustomerNumber,
			client:         client,
			scheduler:      sched,
			log:            log,
		},
		Clock: clock,
		Log:   log,
	})

	return StartServer(ctx, cfg.Port, handler, log)
}

// passwordSetter is the part of the portal client swapped on re-authentication
type passwordSetter interface {
	SetPassword(password string)
}

// entryReauthenticator validates a new password, stores it and resumes polling
type entryReauthenticator struct {
	flow           *setup.Flow
	customerNumber string
	client         passwordSetter
	scheduler      *scheduler.Scheduler
	log            *logger.Logger
}

func (r *entryReauthenticator) Reauth(ctx context.Context, password string) error {
	if _, err := r.flow.Reauth(ctx, r.customerNumber, password); err != nil {
		return err
	}

	r.client.SetPassword(password)
	r.scheduler.Resume()

	if _, err := r.scheduler.Trigger(ctx); err != nil {
		r.log.WithError(err).Warn("Refresh after re-authentication failed")
	}
	return nil
}
