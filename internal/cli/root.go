// Package cli implements the command-line interface for the vitals CLI.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/colthorp/vitals-cli-go/internal/api"
	"github.com/colthorp/vitals-cli-go/internal/cache"
	"github.com/colthorp/vitals-cli-go/internal/core"
	"github.com/colthorp/vitals-cli-go/internal/observe"
)

// Global flags
var (
	verbose      bool
	quiet        bool
	raw          bool
	noCache      bool
	cacheDir     string
	baseURL      string
	cacheBackend string
	telemetry    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "vitals",
	Short:         "Vitals CLI – community vital-sign metrics from a FHIR server",
	Long:          `A command-line utility that reads every patient's vital signs from a FHIR server, caches them locally and reports how often each kind of measurement occurs.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit JSON instead of text")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Ignore cached entries (results are still stored)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: ~/.vitals/cache)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", fmt.Sprintf("FHIR server base URL (default: %s)", core.DefaultBaseURL))
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache-backend", "", "Cache backend: filesystem or redis")
	rootCmd.PersistentFlags().StringVar(&telemetry, "telemetry", "", "Telemetry exporter: none or stdout")
}

// environment is the wiring shared by every command.
type environment struct {
	cfg     core.Config
	logger  *slog.Logger
	fetcher *api.Fetcher
	manager *cache.Manager

	closers []func(context.Context) error
}

// newTransport builds the remote transport; tests replace it.
var newTransport = func(cfg core.Config, logger *slog.Logger) api.Transport {
	return api.NewClient(cfg.BaseURL, cfg.HTTPTimeout, logger)
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return core.Config{}, err
	}
	if noCache {
		cfg.CacheEnabled = false
	}
	if cacheDir != "" {
		cfg.CacheRoot = cacheDir
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if cacheBackend != "" {
		cfg.CacheBackend = cacheBackend
	}
	if telemetry != "" {
		cfg.Telemetry = telemetry
	}
	return cfg, nil
}

// newEnvironment builds the logger, telemetry, cache and fetcher for cfg.
func newEnvironment(ctx context.Context, cfg core.Config) (*environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := core.NewLogger(cfg.LogLevel, verbose)
	env := &environment{cfg: cfg, logger: logger}

	shutdown, err := observe.Setup(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, shutdown)

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	if rb, ok := backend.(*cache.RedisBackend); ok {
		env.closers = append(env.closers, func(context.Context) error { return rb.Close() })
	}

	keyed := cache.NewKeyedCache(backend, cfg.CacheEnabled, logger, nil)
	env.fetcher = api.NewFetcher(newTransport(cfg, logger), logger, nil, nil)
	env.manager = cache.NewManager(env.fetcher, keyed, cfg.IdentifierLabel, logger)
	logger.Debug("cache ready", "backend", cfg.CacheBackend, "enabled", env.manager.Cache().Enabled())
	return env, nil
}

func newBackend(ctx context.Context, cfg core.Config, logger *slog.Logger) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case core.CacheBackendRedis:
		return cache.NewRedisBackend(ctx, cfg.Redis, logger)
	default:
		return cache.NewFilesystemBackend(cfg.CacheRoot), nil
	}
}

// Close flushes telemetry and releases backend connections.
func (e *environment) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			e.logger.Warn("shutdown failed", "error", err)
		}
	}
}

// progressf prints a progress line unless --quiet is set.
func (e *environment) progressf(format string, args ...any) {
	core.ProgressPrint(fmt.Sprintf(format, args...), quiet)
}

// withEnvironment loads configuration, builds the environment and runs fn.
func withEnvironment(cmd *cobra.Command, adjust func(*core.Config), fn func(context.Context, *environment) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if adjust != nil {
		adjust(&cfg)
	}

	ctx := cmd.Context()
	env, err := newEnvironment(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	return fn(ctx, env)
}
