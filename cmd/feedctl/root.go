package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/message-feed-client/internal/config"
	"github.com/Sternrassler/message-feed-client/pkg/client"
	"github.com/Sternrassler/message-feed-client/pkg/logging"
	"github.com/Sternrassler/message-feed-client/pkg/messages"
	"github.com/Sternrassler/message-feed-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what the subcommands share. It is filled by the root command's
// pre-run hook.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	redis   *redis.Client
	client  *client.Client
	metrics *http.Server
}

// service returns the message API accessor configured for this run.
func (a *app) service() *messages.Service {
	return messages.NewService(a.client).WithPageSize(a.cfg.Loader.PageSize)
}

func (a *app) open(ctx context.Context, cfg *config.Config) error {
	a.cfg = cfg
	logging.Setup(cfg.LoggerConfig())
	a.logger = logging.NewLogger("feedctl")

	if opts := cfg.RedisOptions(); opts != nil {
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	c, err := client.New(cfg.ClientConfig(a.redis))
	if err != nil {
		a.close()
		return fmt.Errorf("create client: %w", err)
	}
	a.client = c

	if cfg.Metrics.Addr != "" {
		a.metrics = metrics.NewServer(cfg.Metrics.Addr)
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
			}
		}(a.metrics)
		a.logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
	}

	return nil
}

// close releases what open acquired. It is safe to call more than once.
func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.metrics.Shutdown(ctx)
		a.metrics = nil
	}
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.redis != nil {
		a.redis.Close()
		a.redis = nil
	}
}

// execute runs cmd and then closes the app. cobra skips post-run hooks
// when a command fails, so cleanup cannot live there.
func (a *app) execute(ctx context.Context, cmd *cobra.Command) error {
	defer a.close()
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(a *app, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedctl",
		Short: "Read a paginated message feed",
		Long: `feedctl reads the message feed of a chat API page by page.

Configuration is read from --config (or config.yaml in the user config
directory), overridden by FEED_* environment variables and then by flags.

Quick start:
  feedctl watch --base-url https://chat.example.com/api   # follow the feed page by page
  feedctl dump --concurrency 8 > feed.jsonl               # export every message`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path, cmd.Flags())
			if err != nil {
				return err
			}
			return a.open(cmd.Context(), cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("base-url", "", "Message API base URL")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.Bool("pretty", false, "Human readable log output")
	flags.String("redis-addr", "", "Redis address enabling the response cache and error budget")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")

	cmd.AddCommand(newWatchCommand(a))
	cmd.AddCommand(newDumpCommand(a))
	cmd.AddCommand(newVersionCommand(version))

	return cmd
}
