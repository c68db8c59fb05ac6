package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/HongKai-hskd/vibeMusic/cache"
	"github.com/HongKai-hskd/vibeMusic/config"
	"github.com/HongKai-hskd/vibeMusic/env"
	"github.com/HongKai-hskd/vibeMusic/logger"
)

// app holds what every subcommand needs. It is filled in by the root
// command's pre-run hook.
type app struct {
	cfg      *config.Config
	logger   logger.Logger
	redis    *redis.Client
	store    cache.Store
	client   *cache.Client
	closeLog func() error
}

func (a *app) close(ctx context.Context) {
	if a.client != nil {
		a.client.Close(ctx)
	}
	if a.store != nil {
		a.store.CloseContext(ctx)
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and maintain the vibeMusic catalog cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "path to the YAML config file (env VIBEMUSIC_CONFIG)")
	flags.String("env-file", ".env", "dotenv file with VIBEMUSIC_* overrides")
	flags.String("redis-addr", "", "redis address, overrides the config")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("log-file", "", "also write logs to this file, rotated by size")

	root.AddCommand(
		newConfigCmd(a),
		newPingCmd(a),
		newInspectCmd(a),
		newEvictCmd(a),
		newWarmCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(env.FlagOrEnv(cmd, "config", "VIBEMUSIC_CONFIG", ""), envFile)
	if err != nil {
		return a.fail(cmd, err)
	}
	if addr, _ := cmd.Flags().GetString("redis-addr"); addr != "" {
		cfg.Redis.URL = ""
		cfg.Redis.Addr = addr
	}
	a.cfg = cfg
	a.logger, a.closeLog = env.NewLoggerWithDefaults(cmd, cfg.LogDefaults())
	a.logger = a.logger.WithPrefix("[cachectl]")
	a.logger.Debug("using redis at %s", cfg.RedisTarget())

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return a.fail(cmd, err)
	}
	a.redis = redis.NewClient(redisOpts)
	a.store = cfg.NewStore(cmd.Context(), a.redis, a.logger)
	opts, err := cfg.ClientOptions(a.logger)
	if err != nil {
		return a.fail(cmd, err)
	}
	a.client = cache.NewClient(a.store, opts...)
	return nil
}

// run wraps a subcommand so the connections opened by setup are released
// whether or not it succeeds.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close(context.WithoutCancel(cmd.Context()))
		return fn(cmd, args)
	}
}

// fail reports err before a logger exists.
func (a *app) fail(cmd *cobra.Command, err error) error {
	cmd.PrintErrln("error:", err)
	return errors.Wrap(err, "cachectl")
}

// report logs err and returns it so cobra exits non-zero.
func (a *app) report(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, format, args...)
	a.logger.Error("%s", err)
	return err
}
