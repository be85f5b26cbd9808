package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"max.com/margin/pkg/config"
	"max.com/margin/pkg/kafka"
	"max.com/margin/pkg/logger"
	"max.com/margin/pkg/monitor"
	"max.com/margin/pkg/nats"
	"max.com/margin/pkg/risk"
	"max.com/margin/pkg/store"
)

func monitorCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "monitor",
		Short: "Run the risk monitor: NATS feed in, Kafka alerts out, Redis/MySQL reports",
		RunE:  runMonitor,
	}
	c.Flags().String("config", "configs/margin.yaml", "service config")
	c.Flags().String("env", ".env", "dotenv file loaded before the config")
	return c
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	envPath, _ := cmd.Flags().GetString("env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		logger.L().WithError(err).Warn("error loading .env file")
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	l, err := logger.Configure(cfg.Log)
	if err != nil {
		return err
	}
	logger.SetGlobal(l)
	log := logger.WithComponent("marginctl")
	log.WithFields(logger.Fields{
		"service": cfg.Service.Name,
		"env":     cfg.Service.Env,
		"pools":   len(cfg.Pools),
		"markets": len(cfg.Markets),
	}).Info("starting margin monitor")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)

	engine, err := risk.NewEngineWithBands(cfg.RiskBands())
	if err != nil {
		return err
	}
	ids, err := store.NewIDGenerator(cfg.Monitor.NodeID)
	if err != nil {
		return err
	}
	markets := make(map[string]risk.MarketRisk, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets[m.ID] = m.Risk
	}

	opts := monitor.Options{
		Engine:      engine,
		Markets:     markets,
		Metrics:     metrics,
		NextID:      ids.Next,
		MaxPriceAge: cfg.Monitor.MaxPriceAge,
		Workers:     cfg.Monitor.Workers,
	}

	var reports store.Fanout
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Redis 最新状态
	if cfg.Redis.Addr != "" {
		client := store.NewRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		closers = append(closers, func() { _ = client.Close() })
		reports = append(reports, store.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL))
	}

	// MySQL 历史
	if cfg.MySQL.DSN != "" {
		db, err := store.OpenMySQL(cfg.MySQL.DSN)
		if err != nil {
			return err
		}
		repo := store.NewMySQLRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		reports = append(reports, repo)
	}

	// NATS 报告
	var nc *nats.Publisher
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			return err
		}
		nc = nats.NewPublisher(conn)
		closers = append(closers, nc.Close)
		reports = append(reports, nats.NewReportPublisher(nc, cfg.NATS.ReportSubject))
	}
	if len(reports) > 0 {
		opts.Store = reports
	}

	// Kafka 告警
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka))
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = producer.Close() })
		opts.Sink = kafka.NewAlertProducer(producer, cfg.Kafka.AlertTopic)
	}

	svc := monitor.NewService(opts)

	// 用配置里的静态参数先登记池子，实时数量由 NATS 推送覆盖
	for _, p := range cfg.Pools {
		if err := svc.HandlePool(ctx, p.State()); err != nil {
			log.WithField("pool", p.ID).WithError(err).Warn("seed pool failed")
		}
	}

	// Kafka 账本事件
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(kafka.LedgerConsumerConfig(cfg.Kafka, strconv.FormatInt(cfg.Monitor.NodeID, 10)), kafka.LedgerHandler(svc))
		if err != nil {
			return err
		}
		consumer.Start()
		closers = append(closers, func() { _ = consumer.Stop() })
	}

	// NATS 快照
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, cfg.Service.Name+"-feed")
		if err != nil {
			return err
		}
		sub := nats.NewSubscriber(conn, nats.FeedRouter(ctx, cfg.NATS, svc))
		closers = append(closers, func() { _ = sub.Close() })
		if cfg.NATS.Queue != "" {
			err = sub.SubscribeQueue(cfg.NATS.Queue, nats.Subjects(cfg.NATS)...)
		} else {
			err = sub.Subscribe(nats.Subjects(cfg.NATS)...)
		}
		if err != nil {
			return err
		}
	}

	// /metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Monitor.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
			stop()
		}
	}()
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	return svc.Run(ctx, cfg.Monitor.RescanInterval)
}
