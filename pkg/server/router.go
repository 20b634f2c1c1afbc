package server

import (
	"net/http"

	config "customer-twin-api/configs"
	"customer-twin-api/pkg/handlers"
	"customer-twin-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// App は組み立て済みのGinエンジンと、テストや終了処理で参照するコンポーネントです。
type App struct {
	Engine     *gin.Engine
	Store      *services.TwinStore
	Catalog    *services.QuestionCatalog
	Monitoring *services.MonitoringService
	Twin       *handlers.TwinHandler
	Admin      *handlers.AdminHandler
}

// NewRouter はサービスとハンドラーを初期化し、ルートを登録したアプリケーションを返します。
// opts はストアの設定に追加で適用されます（テストでの時計の差し替えなど）。
func NewRouter(cfg *config.Config, fx *config.Fixtures, logger *zap.Logger, opts ...services.StoreOption) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	// サービスの初期化
	storeOpts := []services.StoreOption{
		services.WithProcessingDelay(cfg.ProcessingDelay),
		services.WithHistoryLimit(cfg.HistoryLimit),
		services.WithLogger(logger.Named("twin")),
	}
	store := services.NewTwinStore(fx.TwinSeed(), append(storeOpts, opts...)...)
	catalog := services.NewQuestionCatalog(fx.SampleQuestions, fx.FallbackQuestion, fx.FallbackAnswer)
	monitoringService := services.NewMonitoringService(logger.Named("http"))
	reportService := services.NewReportService()

	// ハンドラーの初期化
	twinHandler := handlers.NewTwinHandler(store, catalog, reportService, logger.Named("twin"))
	sourceHandler := handlers.NewSourceHandler(store)
	questionHandler := handlers.NewQuestionHandler(catalog, store, logger.Named("questions"))
	automationHandler := handlers.NewAutomationHandler(store, fx.Agents, fx.ImpactMetrics)
	adminHandler := handlers.NewAdminHandler(cfg, logger.Named("admin"))
	monitoringHandler := handlers.NewMonitoringHandler(monitoringService)

	r := gin.New()
	r.Use(gin.Recovery())
	// ミドルウェアの登録
	r.Use(monitoringService.LoggingMiddleware())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("X-API-KEY")
	r.Use(cors.New(corsConfig))

	// ヘルスチェックエンドポイント
	r.GET("/health", adminHandler.HealthCheck)

	v1 := r.Group("/api/v1")
	v1.Use(APIKeyAuth(cfg.APIKey))
	{
		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/logs", monitoringHandler.GetLogs)
		}

		guard := adminHandler.MaintenanceGuard()

		// Twin API
		twin := v1.Group("/twin")
		{
			twin.GET("/state", twinHandler.GetState)
			twin.GET("/vectors", twinHandler.GetVectors)
			twin.GET("/plan", twinHandler.GetPlan)
			twin.GET("/recent-gains", twinHandler.GetRecentGains)
			twin.GET("/history", twinHandler.GetHistory)
			twin.GET("/history/export", twinHandler.ExportHistory)
			twin.GET("/history/:id", twinHandler.GetHistoryEntry)
			twin.GET("/events", twinHandler.StreamEvents)

			twin.POST("/ask", guard, twinHandler.Ask)
			twin.POST("/reset", guard, twinHandler.Reset)
			twin.POST("/history/select", guard, twinHandler.SelectHistory)
		}

		// ソース接続API
		sources := v1.Group("/sources")
		{
			sources.GET("/:kind", sourceHandler.ListSources)
			sources.POST("/:kind/:id/toggle", guard, sourceHandler.ToggleSource)
		}

		// サンプル質問API
		questions := v1.Group("/questions")
		{
			questions.GET("", questionHandler.ListQuestions)
			questions.POST("/match", questionHandler.MatchQuestion)
			questions.POST("/import", guard, questionHandler.ImportQuestions)
		}

		// オートメーションAPI
		automations := v1.Group("/automations")
		{
			automations.GET("/logs", automationHandler.GetLogs)
			automations.GET("/agents", automationHandler.GetAgents)
		}
	}

	return &App{
		Engine:     r,
		Store:      store,
		Catalog:    catalog,
		Monitoring: monitoringService,
		Twin:       twinHandler,
		Admin:      adminHandler,
	}
}

// APIKeyAuth は X-API-KEY ヘッダーを検証するミドルウェアです。
// apiKey が未設定の場合は認証を行いません。
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" || apiKey == "default_secret_key" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
