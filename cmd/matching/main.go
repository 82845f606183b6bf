package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bkohler93/peermatch/internal/shared/config"
	"github.com/bkohler93/peermatch/internal/shared/logging"
	"github.com/bkohler93/peermatch/internal/shared/utils"
	"github.com/bkohler93/peermatch/internal/shared/utils/redisutils"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	utils.LoadEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "matching",
		Short: "Pairs match requests and confirms them after verification",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			log := logging.New(os.Stderr, cfg.LogLevel)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))
			return nil
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	return cmd
}

func (o *rootOptions) redisClient(ctx context.Context) (*redis.Client, error) {
	rdb, err := redisutils.NewRedisClient(ctx, redisutils.Options{
		Addr:     o.cfg.RedisAddr,
		Password: o.cfg.RedisPassword,
		DB:       o.cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", o.cfg.RedisAddr, err)
	}
	return rdb, nil
}
