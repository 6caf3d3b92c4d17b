package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/rootstock"
	"github.com/petal-labs/rootstock/bus"
	"github.com/petal-labs/rootstock/core"
	"github.com/petal-labs/rootstock/daemon"
	rsotel "github.com/petal-labs/rootstock/otel"
	"github.com/petal-labs/rootstock/settings"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runtime daemon",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to rootstock.yaml config")
	cmd.Flags().String("listen", "", "Listen address (overrides config)")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.rootstock/rootstock.db)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP trace endpoint (overrides config)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

	cfg, err := resolveServeConfig(cmd, explicitConfigPath)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := setupTracing(cmd.Context(), cfg.OTLPEndpoint, cfg.InstanceID)
		if err != nil {
			return exitError(exitRuntime, "initializing tracing: %v", err)
		}
		defer shutdownTracing()
	}

	backend, err := settings.NewSQLiteBackend(settings.SQLiteBackendConfig{
		DSN: cfg.SQLitePath,
	})
	if err != nil {
		return exitError(exitStorage, "opening settings database: %v", err)
	}
	defer func() {
		_ = backend.Close()
	}()

	app := &core.App{
		Logger:     logger,
		InstanceID: cfg.InstanceID,
		Primary:    cfg.Primary,
	}

	tracer := otelapi.GetTracerProvider().Tracer("rootstock")
	rt := rootstock.New(rootstock.Config{
		App:             app,
		Sink:            rsotel.SpanSink{Tracer: tracer, Next: core.LogSink{Logger: logger}},
		SettingsBackend: backend,
	})

	refreshBus := bus.New[settingsRefreshed](bus.Config{
		Name:          "settings.refreshed",
		QueueSize:     cfg.Bus.QueueSize,
		MaxConcurrent: int64(cfg.Bus.MaxConcurrent),
		Logger:        logger,
		Sink:          rt.Sink(),
	})
	if err := rootstock.RegisterBus(rt.Hub, refreshBus); err != nil {
		return exitError(exitRuntime, "registering bus: %v", err)
	}

	if err := rt.LoadExtensions(cmd.Context(), settingsRefresh{bus: refreshBus}); err != nil {
		return exitError(exitRuntime, "loading extensions: %v", err)
	}

	metrics, err := rsotel.NewMetrics(
		otelapi.GetMeterProvider().Meter("rootstock"),
		rt.Hub,
		rt.Supervisor,
	)
	if err != nil {
		return exitError(exitRuntime, "initializing metrics: %v", err)
	}
	defer func() {
		_ = metrics.Close()
	}()

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      daemon.NewServer(rt).Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "rootstock daemon listening on %s\n", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		rt.Close(shutdownCtx)
		return nil
	case err := <-errCh:
		rt.Close(context.Background())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// resolveServeConfig merges the discovered config file with flag overrides
// and fills remaining defaults.
func resolveServeConfig(cmd *cobra.Command, explicitPath string) (daemon.Config, error) {
	path, found, err := daemon.DiscoverConfigPath(explicitPath)
	if err != nil {
		return daemon.Config{}, err
	}

	cfg := daemon.DefaultConfig()
	if found {
		cfg, err = daemon.LoadConfig(path)
		if err != nil {
			return daemon.Config{}, err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded config from %s\n", path)
	}

	if listen, _ := cmd.Flags().GetString("listen"); strings.TrimSpace(listen) != "" {
		cfg.Listen = strings.TrimSpace(listen)
	}
	if sqlitePath, _ := cmd.Flags().GetString("sqlite-path"); strings.TrimSpace(sqlitePath) != "" {
		cfg.SQLitePath = strings.TrimSpace(sqlitePath)
	}
	if otlp, _ := cmd.Flags().GetString("otlp-endpoint"); strings.TrimSpace(otlp) != "" {
		cfg.OTLPEndpoint = strings.TrimSpace(otlp)
	}

	if strings.TrimSpace(cfg.SQLitePath) == "" {
		defaultPath, err := settings.DefaultSQLitePath()
		if err != nil {
			return daemon.Config{}, err
		}
		cfg.SQLitePath = defaultPath
	}
	if strings.TrimSpace(cfg.InstanceID) == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.InstanceID = host
		} else {
			cfg.InstanceID = uuid.NewString()
		}
	}

	if err := cfg.Validate(); err != nil {
		return daemon.Config{}, err
	}
	return cfg, nil
}

// setupTracing installs a global OTLP trace provider and returns its
// teardown.
func setupTracing(ctx context.Context, endpoint, instanceID string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "rootstock"),
			attribute.String("service.instance.id", instanceID),
		)),
	)
	otelapi.SetTracerProvider(provider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}

// settingsRefreshed announces that persisted settings were re-read from
// the database.
type settingsRefreshed struct {
	Keys int `json:"keys"`
}

// settingsRefresh is the built-in extension every daemon carries. On the
// primary instance it re-reads persisted settings on a fixed cadence so
// edits made through the CLI land without a restart, then announces the
// reload on the settings.refreshed bus.
type settingsRefresh struct {
	bus *bus.Bus[settingsRefreshed]
}

func (settingsRefresh) Name() string { return "settings-refresh" }

func (s settingsRefresh) Register(rt *rootstock.Runtime) error {
	return rt.Supervisor.AddCron("settings.refresh", "*/10 * * * *",
		func(ctx context.Context, app *core.App) error {
			if err := rt.Settings.Load(ctx); err != nil {
				return err
			}
			s.bus.Emit(app, settingsRefreshed{Keys: len(rt.Settings.Raw())})
			return nil
		})
}
