package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port            string
	Environment     string
	APIKey          string
	AdminUsername   string
	AdminPassword   string
	ProcessingDelay time.Duration // 質問処理のシミュレーション遅延
	HistoryLimit    int           // 保持する履歴の最大件数
	FixturesPath    string        // 空の場合は埋め込みフィクスチャを使用
	LogLevel        string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		APIKey:          getEnv("API_KEY", ""),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		ProcessingDelay: time.Duration(getEnvInt("PROCESSING_DELAY_MS", 1500)) * time.Millisecond,
		HistoryLimit:    getEnvInt("HISTORY_LIMIT", 20),
		FixturesPath:    getEnv("TWIN_FIXTURES_PATH", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt は整数の環境変数を読み込みます。負数や不正な値はデフォルト値になります。
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}
