package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "customer-twin-api/configs"
	"customer-twin-api/pkg/logger"
	"customer-twin-api/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	// 設定の読み込み
	cfg := config.LoadConfig()

	zl, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	fx, err := config.LoadFixtures(cfg.FixturesPath)
	if err != nil {
		zl.Fatal("failed to load fixtures", zap.String("path", cfg.FixturesPath), zap.Error(err))
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	app := server.NewRouter(cfg, fx, zl)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: app.Engine,
	}

	go func() {
		zl.Info("starting Customer Twin API server",
			zap.String("addr", srv.Addr),
			zap.Duration("processing_delay", cfg.ProcessingDelay),
			zap.Int("history_limit", cfg.HistoryLimit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
	// バックグラウンドで処理中の質問を反映し終えてから終了します
	app.Twin.Wait()
}
