package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lojinha/sms-dispatcher/internal/config"
	"github.com/lojinha/sms-dispatcher/internal/db"
	"github.com/lojinha/sms-dispatcher/internal/kafka"
	"github.com/lojinha/sms-dispatcher/internal/logger"
	"github.com/lojinha/sms-dispatcher/internal/metrics"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
	"github.com/lojinha/sms-dispatcher/internal/worker"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Consume store-front business events and enqueue sends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("no kafka brokers configured")
		}

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

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "smsd-events"
		}

		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := worker.NewEvents(consumer, store.New(dbx), queue.New(rds, cfg.Queue.Prefix, cfg.Queue.Visibility))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> events worker started topic=%s group=%s", cfg.Kafka.Topic, groupID)

		return w.Run(ctx)
	},
}
