package handler

import (
	"log"
	"net/http"
	"sync"

	config "customer-twin-api/configs"
	"customer-twin-api/pkg/logger"
	"customer-twin-api/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	app  *gin.Engine
	once sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() *gin.Engine {
	once.Do(func() {
		// .envファイルはVercelの環境変数設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()

		zl, err := logger.New(cfg.Environment, cfg.LogLevel)
		if err != nil {
			log.Printf("Warning: falling back to no-op logger: %v", err)
			zl = zap.NewNop()
		}

		fx, err := config.LoadFixtures(cfg.FixturesPath)
		if err != nil {
			zl.Error("failed to load fixtures, using embedded defaults", zap.Error(err))
			fx, err = config.LoadFixtures("")
			if err != nil {
				zl.Fatal("embedded fixtures are invalid", zap.Error(err))
			}
		}

		gin.SetMode(gin.ReleaseMode)
		app = server.NewRouter(cfg, fx, zl).Engine
	})
	return app
}

// Handler はVercelからのすべてのリクエストを処理するエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	setupApp().ServeHTTP(w, r)
}
