// Command cm-export pages through Coin Metrics API endpoints and writes the
// records as CSV or JSON Lines.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/coinmetrics-client/pkg/client"
	"github.com/Sternrassler/coinmetrics-client/pkg/config"
	"github.com/Sternrassler/coinmetrics-client/pkg/logging"
	"github.com/Sternrassler/coinmetrics-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

// app carries state shared by all subcommands.
type app struct {
	configPath  string
	logLevel    string
	pretty      bool
	metricsAddr string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cm-export",
		Short: "Export market data from the Coin Metrics API",
		Long: `cm-export pages through Coin Metrics API endpoints and writes the records
as CSV or JSON Lines.

Large queries can be split by entity, time window or block height and run
in parallel. Results are merged in plan order or written one file per split.

Settings come from --config, then CM_API_KEY, CM_BASE_URL, REDIS_URL,
LOG_LEVEL and LOG_PRETTY, then flags.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.BoolVar(&a.pretty, "pretty", false, "Human-readable log output")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	root.AddCommand(newGetCmd(a), newCatalogCmd(a), newKindsCmd())
	return root
}

// setup loads configuration and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = a.pretty
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Logging()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	a.cfg = cfg
	a.logger = logging.NewLogger("cm-export")
	return nil
}

// withClient runs fn with a client built from the loaded configuration,
// serving metrics for the duration when configured.
func (a *app) withClient(ctx context.Context, fn func(context.Context, *client.Client) error) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(ctx, addr); err != nil {
				a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	rdb, err := a.cfg.Redis()
	if err != nil {
		return err
	}
	if rdb != nil {
		defer a.closeRedis(rdb)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.logger.Info().Str("addr", rdb.Options().Addr).Msg("Connected to Redis")
	}

	c, err := client.New(a.cfg.Client(rdb))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()

	return fn(ctx, c)
}

func (a *app) closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close Redis client")
	}
}
