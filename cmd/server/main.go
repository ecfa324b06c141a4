package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/RichardoC/mentorfy/internal/api"
	"github.com/RichardoC/mentorfy/internal/botcache"
	"github.com/RichardoC/mentorfy/internal/config"
	"github.com/RichardoC/mentorfy/internal/db"
	"github.com/RichardoC/mentorfy/internal/events"
	"github.com/RichardoC/mentorfy/internal/relay"
	"github.com/RichardoC/mentorfy/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	path, err := config.Path(*configFlag)
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
	}

	hub := relay.NewHub(0, logger)
	observers := []relay.Observer{hub}

	var closers []func() error
	closers = append(closers, database.Close)

	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
		closers = append(closers, nc.Drain)
		observers = append(observers, events.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger))
		logger.Info("Publishing live streams to NATS", zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	agent := upstream.New(cfg.Upstream.URL, cfg.Upstream.APIKey, cfg.Upstream.ConnectTimeout.Duration, logger)
	rl := relay.New(
		agent,
		relay.NewSink(database, cfg.Upstream.PersistTimeout.Duration, logger),
		relay.NewRegistry(),
		logger,
		relay.Options{IdleTimeout: cfg.Upstream.IdleTimeout.Duration, Observers: observers},
	)
	bots := botcache.New(database.ListBots, cfg.Cache.TTL.Duration, cfg.Cache.MaxTenants)

	handler := api.NewHandler(database, rl, hub, bots, logger, api.Options{
		HeartbeatInterval: cfg.Server.HeartbeatInterval.Duration,
		HistoryLimit:      cfg.Server.HistoryLimit,
		SendsPerSecond:    cfg.RateLimit.PerSecond,
		SendBurst:         cfg.RateLimit.Burst,
	})

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)

	// Serve static files
	if cfg.Server.StaticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.Server.StaticDir))))
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr), zap.String("upstream", cfg.Upstream.URL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	if err != nil {
		logger.Error("Unclean shutdown", zap.Error(err))
	}
}
