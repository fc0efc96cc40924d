package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/llm"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/logger"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/server"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.Env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	if envErr != nil {
		log.Debug("no .env file found, using environment")
	}
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	d, err := driver.Open(cfg)
	if err != nil {
		log.Fatal("failed to open graph store", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	ctx := context.Background()
	if err := d.BuildIndices(ctx); err != nil {
		log.Warn("failed to build indices", zap.Error(err))
	}

	llmClient, embedder, err := llm.NewClient(ctx, cfg.LLM, cfg.Breaker, log.Named("llm"))
	if err != nil {
		log.Fatal("failed to initialize LLM client", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}
	if llmClient == nil {
		log.Warn("no language model configured; only /build-graph can add episodes")
	}
	if embedder == nil {
		log.Warn("no embedder configured; search is lexical only")
	}

	g := core.NewGraphiti(d, llmClient, embedder, cfg, log)
	router := server.New(g, log.Named("http")).SetupRouter()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("Starting server",
			zap.String("port", cfg.Server.Port),
			zap.String("backend", d.Backend()),
			zap.String("llm_provider", cfg.LLM.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := g.Close(shutdownCtx); err != nil {
		log.Error("failed to close graph store", zap.Error(err))
	}

	log.Info("Server exited")
}
