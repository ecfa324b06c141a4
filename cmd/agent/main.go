package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/RichardoC/mentorfy/internal/agent"
	"github.com/RichardoC/mentorfy/internal/config"
	"github.com/RichardoC/mentorfy/internal/db"
	"github.com/RichardoC/mentorfy/internal/llm"
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

	model, err := llm.NewOpenAI(cfg.Agent.BaseURL, cfg.Agent.APIKey, cfg.Agent.Model)
	if err != nil {
		logger.Fatal("failed to initialize LLM client", zap.Error(err))
	}

	counter, err := llm.NewCounter("cl100k_base")
	if err != nil {
		logger.Warn("Token encoding unavailable, estimating history size", zap.Error(err))
	}

	svc := llm.New(model, database, logger, llm.Options{
		Temperature:      cfg.Agent.Temperature,
		MaxHistoryTokens: cfg.Agent.MaxHistoryTokens,
		KnowledgeResults: cfg.Agent.KnowledgeResults,
		Timeout:          cfg.Agent.Timeout.Duration,
		Counter:          counter,
	})

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	agent.NewHandler(svc, cfg.Upstream.APIKey, logger).Register(router)

	srv := &http.Server{Addr: cfg.Agent.Addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting agent",
			zap.String("addr", cfg.Agent.Addr),
			zap.String("model", cfg.Agent.Model),
			zap.String("base_url", cfg.Agent.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start agent", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := multierr.Combine(srv.Shutdown(shutdownCtx), database.Close()); err != nil {
		logger.Error("Unclean shutdown", zap.Error(err))
	}
}
