package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heriberto777/transferengine/api"
	"github.com/heriberto777/transferengine/connection"
	"github.com/heriberto777/transferengine/executor"
	"github.com/heriberto777/transferengine/group"
	"github.com/heriberto777/transferengine/internal/config"
	"github.com/heriberto777/transferengine/internal/version"
	"github.com/heriberto777/transferengine/metrics"
	"github.com/heriberto777/transferengine/progress"
	"github.com/heriberto777/transferengine/registry"
	"github.com/heriberto777/transferengine/retry"
	"github.com/heriberto777/transferengine/scheduler"
	"github.com/heriberto777/transferengine/store"
	"github.com/heriberto777/transferengine/store/db/postgres"
	"github.com/heriberto777/transferengine/store/db/sqlite"
)

// Exit codes (spec §6).
const (
	exitOK             = 0
	exitInvalidConfig  = 1
	exitSchedulerStart = 2
	exitStoreUnavail   = 3
	exitRuntimeFatal   = 4
)

var rootCmd = &cobra.Command{
	Use:   "transferengine",
	Short: "Runs scheduled and on-demand table-to-table data transfers between a Source and Target database.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `engine mode, "dev" or "prod"`)
	flags.String("store-driver", "sqlite", "document-store driver: postgres or sqlite")
	flags.String("store-dsn", "", "document-store DSN (sqlite file path or postgres DSN)")
	flags.String("source-dsn", "", "Source database DSN a task reads from")
	flags.String("target-dsn", "", "Target database DSN a task writes to")
	flags.String("schedule-hour", "02:00", `daily auto-trigger time, "HH:MM" 24h local`)
	flags.Bool("schedule-enabled", true, "whether the daily auto-trigger is armed")

	for _, name := range []string{"mode", "store-driver", "store-dsn", "source-dsn", "target-dsn", "schedule-hour", "schedule-enabled"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("transfer")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func loadConfig() *config.Config {
	cfg := &config.Config{
		Mode:            viper.GetString("mode"),
		StoreDriver:     viper.GetString("store-driver"),
		StoreDSN:        viper.GetString("store-dsn"),
		SourceDSN:       viper.GetString("source-dsn"),
		TargetDSN:       viper.GetString("target-dsn"),
		ScheduleHour:    viper.GetString("schedule-hour"),
		ScheduleEnabled: viper.GetBool("schedule-enabled"),
	}
	cfg.FromEnv()
	return cfg
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(exitInvalidConfig)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	driver, err := openStoreDriver(cfg)
	if err != nil {
		slog.Error("failed to open document store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(exitStoreUnavail)
	}
	st := store.New(driver)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to migrate document store", "error", err)
		os.Exit(exitStoreUnavail)
	}
	defer st.Close()

	conns := connection.NewManager()
	poolCfg := connection.PoolConfig{
		MinConns:       cfg.PoolMinConns,
		MaxConns:       cfg.PoolMaxConns,
		IdleTimeout:    cfg.PoolIdleTimeout,
		AcquireTimeout: cfg.PoolAcquireTimeout,
		HealthInterval: cfg.PoolHealthInterval,
	}
	if err := conns.AddPool("source", cfg.SourceDSN, poolCfg); err != nil {
		slog.Error("failed to open Source pool", "error", err)
		os.Exit(exitStoreUnavail)
	}
	if err := conns.AddPool("target", cfg.TargetDSN, poolCfg); err != nil {
		slog.Error("failed to open Target pool", "error", err)
		os.Exit(exitStoreUnavail)
	}
	defer conns.CloseAll()

	metricsReg := metrics.New(nil)

	reg := registry.New()
	bus := progress.New()
	retryExec := retry.New(retry.Policy{
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Factor:       cfg.RetryFactor,
		MaxAttempts:  cfg.RetryMaxAttempts,
	}).WithMetrics(metricsReg)

	var exec *executor.Executor
	exec = executor.New(executor.Deps{
		Conns:    conns,
		Store:    st,
		Registry: reg,
		Bus:      bus,
		Retry:    retryExec,
		Metrics:  metricsReg,
		Chain: func(ctx context.Context, taskID string) error {
			next, err := st.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			_, err = exec.Run(ctx, next, nil)
			return err
		},
	})

	groupCoord := group.New(exec)
	sched := scheduler.New(scheduler.Deps{
		Store:      st,
		Registry:   reg,
		Exec:       exec,
		GroupCoord: groupCoord,
		Metrics:    metricsReg,
	})

	svc := api.New(st, reg, bus, exec, groupCoord, sched)
	_ = svc // wired for embedding callers (HTTP/gRPC front ends are out of scope, spec.md Non-goals)

	if err := sched.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(exitSchedulerStart)
	}

	printGreetings(cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, terminationSignals...)

	go func() {
		<-sig
		slog.Info("shutting down")
		sched.Stop()
		bus.CloseAll()
		cancel()
	}()

	<-ctx.Done()
	return nil
}

func openStoreDriver(cfg *config.Config) (store.Driver, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return postgres.NewDB(cfg.StoreDSN)
	case "sqlite":
		return sqlite.NewDB(cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func printGreetings(cfg *config.Config) {
	fmt.Printf("transferengine %s started (mode=%s)\n", version.String(), cfg.Mode)
	fmt.Printf("Document store: %s\n", cfg.StoreDriver)
	fmt.Printf("Daily auto-trigger: %s (enabled=%v)\n", cfg.ScheduleHour, cfg.ScheduleEnabled)
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeFatal)
	}
}
