package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aquabase/tanklink/internal/pkg/config"
	"github.com/aquabase/tanklink/internal/pkg/contxt"
	"github.com/aquabase/tanklink/internal/pkg/correlator"
	"github.com/aquabase/tanklink/internal/pkg/database"
	"github.com/aquabase/tanklink/internal/pkg/database/migration"
	"github.com/aquabase/tanklink/internal/pkg/history"
	"github.com/aquabase/tanklink/internal/pkg/ingest"
	"github.com/aquabase/tanklink/internal/pkg/liveness"
	"github.com/aquabase/tanklink/internal/pkg/metrics"
	"github.com/aquabase/tanklink/internal/pkg/mqtt"
	"github.com/aquabase/tanklink/internal/pkg/notifier"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
	"github.com/aquabase/tanklink/internal/pkg/rules"
	"github.com/aquabase/tanklink/internal/pkg/server"
	"github.com/aquabase/tanklink/internal/pkg/topology"
	"github.com/aquabase/tanklink/pkg/wshub"
)

func ControllerCommand(ctx *cli.Context) error {
	tuning, err := config.TuningFromEnv()
	if err != nil {
		return err
	}
	cfg := &config.Config{
		DatabaseURL:      ctx.String("database-url"),
		MigrationsFolder: ctx.String("migrations-folder"),
		RedisCfg: &config.RedisConfig{
			Address:  ctx.String("redis-address"),
			Password: ctx.String("redis-password"),
			DB:       ctx.Int("redis-db"),
		},
		MqttCfg: &config.MqttConfig{
			BrokerURL: ctx.String("mqtt-broker-url"),
			ClientID:  ctx.String("mqtt-client-id"),
			Username:  ctx.String("mqtt-user"),
			Password:  ctx.String("mqtt-pass"),
		},
		InfluxCfg: &config.InfluxConfig{
			URL:    ctx.String("influx-url"),
			Token:  ctx.String("influx-token"),
			Org:    ctx.String("influx-org"),
			Bucket: ctx.String("influx-bucket"),
		},
		WebhookURL: ctx.String("webhook-url"),
		HTTPAddr:   ctx.String("http-addr"),
		LogLevel:   ctx.String("log-level"),
		Tuning:     tuning,
	}

	return run(ctx.Context, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	errorChan := make(chan error, 1000)
	var err error

	eg, ctx := errgroup.WithContext(ctx)
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	if err := migration.Migrate(cfg.DatabaseURL, cfg.MigrationsFolder); err != nil {
		return err
	}
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisCfg.Address,
		Password: cfg.RedisCfg.Password,
		DB:       cfg.RedisCfg.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	defer redisClient.Close()
	store := respstore.New(redisClient, cfg.Tuning.ResponseTTL)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hub := wshub.New(wshub.OnError(func(err error) {
		logger.Warn("websocket error", zap.Error(err))
	}))
	defer hub.Close()

	notifications := notifier.New()
	if err := notifications.Register("store", notifier.NewStoreSink(db)); err != nil {
		return err
	}
	if err := notifications.Register("websocket", notifier.NewSocketSink(hub)); err != nil {
		return err
	}
	if cfg.WebhookURL != "" {
		if err := notifications.Register("webhook", notifier.NewWebhookSink(cfg.WebhookURL)); err != nil {
			return err
		}
	}

	mqttOpts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.MqttCfg.BrokerURL).
		SetClientID(cfg.MqttCfg.ClientID).
		SetUsername(cfg.MqttCfg.Username).
		SetPassword(cfg.MqttCfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	broker := mqtt.New(paho_mqtt.NewClient(mqttOpts), m)
	if err := broker.Connect(); err != nil {
		return err
	}
	defer broker.Disconnect()

	recorder := history.New(cfg.InfluxCfg)
	defer recorder.Close()

	awaiter := correlator.New(store, cfg.Tuning.PollInterval, m)
	topo := topology.New(db, broker, awaiter, notifications, cfg.Tuning)
	engine := rules.New(db, broker, notifications)
	setups := rules.NewService(db)
	tracker := liveness.New(db, notifications, cfg.Tuning.OfflineTimeout, m)

	pipeline := ingest.New(store, topo, engine, tracker, recorder, m)
	if err := pipeline.Start(broker); err != nil {
		return err
	}

	eg.Go(func() error {
		return cronJobs(db, tracker, cfg.Tuning, errorChan)
	})

	srv := &http.Server{
		Handler:      server.New(topo, setups, db, recorder, hub, m, registry).Router(),
		Addr:         cfg.HTTPAddr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	eg.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		// handle any async errors from service
		for {
			select {
			case err := <-errorChan:
				if errors.Is(err, errCron) {
					logger.Error("cron error", zap.Error(err))
					return err
				}
				if strings.Contains(err.Error(), "failed to deallocate") {
					return err
				}
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

var errCron = errors.New("cron error")

// cronJobs owns the periodic work: the liveness sweep on its tuned interval
// and a nightly purge of old notifications, run once at start as well.
func cronJobs(db *database.Database, tracker *liveness.Tracker, tuning *config.Tuning, errChan chan error) error {
	if _, err := db.Cleanup(contxt.NewContext(time.Minute), tuning.NotificationRetention); err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", tuning.SweepInterval), func() {
		tracker.Sweep(contxt.NewContext(time.Minute))
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("0 3 * * *", func() {
		removed, err := db.Cleanup(contxt.NewContext(time.Minute), tuning.NotificationRetention)
		if err != nil {
			zap.L().Error("notification cleanup failed", zap.Error(err))
			errChan <- errCron
			return
		}
		zap.L().Info("cleaned up notifications", zap.Int64("removed", removed))
	}); err != nil {
		return err
	}

	c.Run()
	return nil
}
