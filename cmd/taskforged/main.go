// Command taskforged runs the background task orchestration daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskforge/internal/background"
	"taskforge/internal/config"
	"taskforge/internal/dispatch"
	"taskforge/internal/execute"
	"taskforge/internal/logging"
	"taskforge/internal/metrics"
	"taskforge/internal/notify"
	"taskforge/internal/orchestrator"
	"taskforge/internal/provider"
	"taskforge/internal/server"
	"taskforge/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var configPath string

	root := &cobra.Command{
		Use:           "taskforged",
		Short:         "Background AI task orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, v)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to config file")
	flags.String("listen", "", "listen address")
	flags.String("store", "", "store backend: file or postgres")
	flags.String("store-dir", "", "directory for the file store")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.String("model", "", "model id sent to the provider")
	flags.String("log-level", "", "debug, info, warn or error")
	for _, name := range []string{"listen", "store", "store-dir", "postgres-dsn", "model", "log-level"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(newCredentialCommand(&configPath))
	return root
}

// applyFlags folds flag values over the layered file/env configuration.
// Flags are the outermost layer.
func applyFlags(cfg *config.Config, v *viper.Viper) {
	set := func(key string, dst *string) {
		if value := strings.TrimSpace(v.GetString(key)); value != "" {
			*dst = value
		}
	}
	set("listen", &cfg.ListenAddr)
	set("store", &cfg.StoreBackend)
	set("store-dir", &cfg.StoreDir)
	set("postgres-dsn", &cfg.PostgresDSN)
	set("model", &cfg.Model)
	set("log-level", &cfg.LogLevel)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return store.OpenPostgresStore(ctx, cfg.PostgresDSN)
	default:
		st := store.NewFileStore(cfg.StoreDir)
		if err := st.Open(ctx); err != nil {
			return nil, err
		}
		return st, nil
	}
}

func runServe(ctx context.Context, configPath string, v *viper.Viper) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, v)

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("Main")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	emitter := notify.NewEmitter(logging.NewComponentLogger("Emitter"))

	client := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderName, st)
	executor := orchestrator.NewModelExecutor(client, cfg.Model, logging.NewComponentLogger("Executor"))

	runner := &execute.Runner{
		Store:    st,
		Executor: executor,
		Emitter:  emitter,
		Metrics:  m,
		Logger:   logging.NewComponentLogger("Runner"),
	}
	manager := background.NewManager(st, runner, logging.NewComponentLogger("Background"),
		background.WithPeriodicWake(cfg.WakeInterval))
	dispatcher := dispatch.NewDispatcher(st, runner, manager, emitter, m, logging.NewComponentLogger("Dispatch"))
	service := orchestrator.NewService(st, dispatcher, manager, emitter, logging.NewComponentLogger("Service"))

	srv := server.New(cfg.ListenAddr, service, registry, logging.NewComponentLogger("Server"))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		manager.Run(ctx)
		return nil
	})
	group.Go(srv.ListenAndServe)
	group.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})

	logger.Info("taskforged up, store=%s listen=%s model=%s", cfg.StoreBackend, cfg.ListenAddr, cfg.Model)
	return group.Wait()
}

// newCredentialCommand manages provider secrets in the store so the daemon
// never reads API keys from its own environment.
func newCredentialCommand(configPath *string) *cobra.Command {
	credential := &cobra.Command{
		Use:   "credential",
		Short: "Manage provider credentials",
	}

	set := &cobra.Command{
		Use:   "set <provider> <secret>",
		Short: "Store the secret for a provider, replacing any previous value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := st.PutCredential(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential for %s saved\n", args[0])
			return nil
		},
	}

	credential.AddCommand(set)
	return credential
}
