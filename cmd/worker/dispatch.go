package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lojinha/sms-dispatcher/internal/config"
	"github.com/lojinha/sms-dispatcher/internal/db"
	"github.com/lojinha/sms-dispatcher/internal/gateway"
	"github.com/lojinha/sms-dispatcher/internal/logger"
	"github.com/lojinha/sms-dispatcher/internal/metrics"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
	"github.com/lojinha/sms-dispatcher/internal/worker"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the SMS dispatch worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		if cfg.Gateway.URL == "" || cfg.Gateway.Key == "" {
			return fmt.Errorf("gateway url and key must be configured")
		}

		// 2) storage
		dbx, err := db.NewSQLiteConnection(cfg.SQLite.Path, db.SQLiteOpts{
			BusyTimeout: cfg.SQLite.BusyTimeout,
			PingTimeout: cfg.SQLite.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer dbx.Close()

		rds, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer rds.Close()

		// 3) queue + store + gateway client
		q := queue.New(rds, cfg.Queue.Prefix, cfg.Queue.Visibility)
		s := store.New(dbx)
		gw := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Key, cfg.Gateway.Type, cfg.Gateway.Timeout)

		d := worker.NewDispatcher(q, s, gw)

		// tune knobs
		if cfg.Dispatcher.WorkerCount > 0 {
			d.Workers = cfg.Dispatcher.WorkerCount
		}
		if cfg.Dispatcher.MaxRetries > 0 {
			d.MaxRetries = cfg.Dispatcher.MaxRetries
		}
		if cfg.Dispatcher.RetryBackoff > 0 {
			d.RetryBackoff = cfg.Dispatcher.RetryBackoff
		}
		if cfg.Dispatcher.PollInterval > 0 {
			d.PollInterval = cfg.Dispatcher.PollInterval
		}

		// 4) graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> dispatch worker started workers=%d maxRetries=%d backoff=%s",
			d.Workers, d.MaxRetries, d.RetryBackoff)

		return d.Run(ctx)
	},
}
