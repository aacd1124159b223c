// Command openactd runs the OpenAct daemon: the REST surface (registry
// discovery/execution, inline execution, and the Stepflow command
// orchestrator) and, as a separate mode, the MCP stdio tool server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/openact/openact/internal/openact/config"
	"github.com/openact/openact/internal/openact/httpconn"
	"github.com/openact/openact/internal/openact/mcpsurface"
	"github.com/openact/openact/internal/openact/orchestrator"
	"github.com/openact/openact/internal/openact/registry"
	"github.com/openact/openact/internal/openact/restapi"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/storebridge"
	"github.com/openact/openact/internal/openact/telemetry"
)

var (
	version = "dev"

	traceExporter string
)

func main() {
	root := &cobra.Command{
		Use:     "openactd",
		Short:   "OpenAct action registry, executor, and Stepflow command orchestrator daemon",
		Version: version,
	}
	root.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "OTel trace exporter: none, stdout, otlphttp, otlpgrpc")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMCPCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles every wired collaborator shared by the serve and mcp commands.
type app struct {
	cfg        *config.Config
	st         store.Store
	reg        *registry.Registry
	governance *orchestrator.Governance
	commands   *orchestrator.CommandAdapter
	supervisor *orchestrator.HeartbeatSupervisor
	inline     *httpconn.Connector
	logger     *slog.Logger
}

func buildApp() (*app, error) {
	cfg := config.Load()
	logger := slog.Default().With("component", "openactd")

	var st store.Store
	var err error
	if cfg.StorePath == "" || cfg.StorePath == ":memory:" {
		st, err = store.NewMemory(cfg.MasterKeyHex)
	} else {
		st, err = store.NewSQLite(store.SQLiteConfig{
			Path:         cfg.StorePath,
			MaxOpenConns: cfg.DBMaxConnections,
			MasterKeyHex: cfg.MasterKeyHex,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("openactd: failed to open store: %w", err)
	}

	authStore := storebridge.NewAuthConnectionStore(st)
	authMgr := httpconn.NewAuthManager(authStore, httpconn.DefaultTokenRefresher)
	executor := httpconn.NewExecutor(authMgr)
	httpConnector := httpconn.NewConnector(executor)

	reg := registry.New(st, cfg.MCPSchemaCacheTTL)
	reg.RegisterConnector("http", httpConnector.ConnectionFactory, httpConnector.ActionFactory)

	governance := orchestrator.NewGovernance(nil, nil, cfg.GovernanceTimeout, cfg.GovernanceMaxConcurrency)
	runs := orchestrator.NewRunService(st)
	outbox := orchestrator.NewOutboxService(st)
	async := orchestrator.NewAsyncTaskManager(runs, outbox)
	commands := orchestrator.NewCommandAdapter(reg, governance, runs, outbox, async, st)
	supervisor := orchestrator.NewHeartbeatSupervisor(st, runs, outbox, 30*time.Second)

	return &app{
		cfg: cfg, st: st, reg: reg, governance: governance,
		commands: commands, supervisor: supervisor, inline: httpConnector, logger: logger,
	}, nil
}

func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	switch traceExporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	case "otlphttp":
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	case "otlpgrpc":
		exp, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return func(context.Context) error { return nil }, nil
	}
}

func newServeCommand() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST surface (registry, execution, Stepflow commands)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.st.Close()

			shutdownTracing, err := setupTracing(ctx)
			if err != nil {
				return fmt.Errorf("openactd: failed to set up tracing: %w", err)
			}
			defer shutdownTracing(context.Background())

			promReg := prometheus.NewRegistry()
			telemetry.MustRegister(promReg)

			addr := a.cfg.ListenAddr
			if listenAddr != "" {
				addr = listenAddr
			}

			api := restapi.New(a.cfg, a.reg, a.st, a.governance, a.commands, a.inline, a.logger)
			mux := api.Routes()
			mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

			go a.supervisor.Run(ctx)

			srv := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("openactd: listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides OPENACT_LISTEN_ADDR)")
	return cmd
}

// newMigrateCommand applies the store's schema+index migrations and exits.
// Running it twice, or letting "serve"/"mcp" run it again implicitly on
// open, is a no-op per §4.2.
func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.StorePath == "" || cfg.StorePath == ":memory:" {
				return fmt.Errorf("openactd: migrate requires OPENACT_STORE_PATH to point at a persistent store")
			}
			st, err := store.NewSQLite(store.SQLiteConfig{
				Path:         cfg.StorePath,
				MaxOpenConns: cfg.DBMaxConnections,
				MasterKeyHex: cfg.MasterKeyHex,
			})
			if err != nil {
				return fmt.Errorf("openactd: migrate failed: %w", err)
			}
			defer st.Close()
			fmt.Fprintln(os.Stdout, "openactd: migrations applied")
			return nil
		},
	}
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP stdio tool server exposing registered actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.st.Close()

			srv, err := mcpsurface.New(ctx, "openact", version, a.reg, a.st)
			if err != nil {
				return fmt.Errorf("openactd: failed to build MCP server: %w", err)
			}
			return srv.Run(ctx)
		},
	}
}
