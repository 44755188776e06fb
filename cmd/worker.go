package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/jobs"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process background provider searches from the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "worker", false)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		opt, err := jobs.RedisOpt(cfg.Redis.URL)
		if err != nil {
			return err
		}

		go newChecker(env).Run(ctx)

		concurrency := workerConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Queue.Workers
		}
		zap.L().Info("starting worker",
			zap.String("queue", cfg.Queue.QueueName),
			zap.Int("concurrency", concurrency),
		)
		return jobs.NewAsynqWorker(opt, cfg.Queue.QueueName, concurrency, env.Runner).Run(ctx)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent jobs (default queue.workers)")
	rootCmd.AddCommand(workerCmd)
}
