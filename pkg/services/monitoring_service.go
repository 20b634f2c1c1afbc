package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxRequestLogs はメモリに保持するリクエストログの上限です。超えた分は古い順に捨てます。
const maxRequestLogs = 5000

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
}

// MonitoringService はAPIのモニタリング機能を提供します。
type MonitoringService struct {
	logs     []LogEntry
	mu       sync.RWMutex
	logger   *zap.Logger
	now      func() time.Time
	excluded []string
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
func NewMonitoringService(logger *zap.Logger) *MonitoringService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringService{
		logs:     make([]LogEntry, 0),
		logger:   logger,
		now:      time.Now,
		excluded: []string{"/api/v1/admin", "/api/v1/monitoring", "/api/v1/twin/events"},
	}
}

// LogRequest はリクエストを記録します。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if over := len(s.logs) - maxRequestLogs; over > 0 {
		s.logs = append([]LogEntry(nil), s.logs[over:]...)
	}
}

// LoggingMiddleware はリクエスト情報を記録するGinミドルウェアです。
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()

		// 次のミドルウェア/ハンドラを実行
		c.Next()

		path := c.Request.URL.Path
		entry := LogEntry{
			Timestamp:    start,
			Path:         path,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: s.now().Sub(start),
		}

		fields := []zap.Field{
			zap.String("method", entry.Method),
			zap.String("path", path),
			zap.Int("status", entry.StatusCode),
			zap.Duration("latency", entry.ResponseTime),
		}
		if entry.StatusCode >= 500 {
			s.logger.Error("request", fields...)
		} else {
			s.logger.Info("request", fields...)
		}

		// 管理系・モニタリング系・ストリームは集計から除外
		for _, prefix := range s.excluded {
			if strings.HasPrefix(path, prefix) {
				return
			}
		}
		s.LogRequest(entry)
	}
}

// EndpointStat はエンドポイントごとの集計です。
type EndpointStat struct {
	Endpoint       string `json:"endpoint"`
	Requests       int    `json:"requests"`
	AvgResponseMs  int64  `json:"avg_response_ms"`
	ServerErrorCnt int    `json:"server_errors"`
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	PeriodHours      int            `json:"period_hours"`
	TotalRequests    int            `json:"total_requests"`
	RequestsOverTime []HourlyCount  `json:"requests_over_time"`
	Endpoints        []EndpointStat `json:"endpoints"`
	StatusCodes      map[string]int `json:"status_codes"`
	RecentErrors     []LogEntry     `json:"recent_errors"`
}

// HourlyCount は1時間あたりのリクエスト数です。
type HourlyCount struct {
	Time     string `json:"time"`
	Requests int    `json:"requests"`
}

// GetDashboardData は指定された期間のログを集計してダッシュボード用データを返します。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	if periodHours <= 0 {
		periodHours = 24
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filtered := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filtered = append(filtered, entry)
		}
	}

	// 時間バケットを過去から現在の順で初期化
	buckets := make([]HourlyCount, periodHours)
	index := make(map[int64]int, periodHours)
	for i := 0; i < periodHours; i++ {
		t := now.Add(-time.Duration(periodHours-1-i) * time.Hour).Truncate(time.Hour)
		buckets[i] = HourlyCount{Time: t.Format("15:00")}
		index[t.Unix()] = i
	}

	statusCodes := map[string]int{"2xx": 0, "4xx": 0, "5xx": 0}
	type acc struct {
		count  int
		total  time.Duration
		errors int
	}
	perEndpoint := make(map[string]*acc)
	recentErrors := make([]LogEntry, 0)

	for _, entry := range filtered {
		if i, ok := index[entry.Timestamp.Truncate(time.Hour).Unix()]; ok {
			buckets[i].Requests++
		}

		switch {
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			statusCodes["2xx"]++
		case entry.StatusCode >= 400 && entry.StatusCode < 500:
			statusCodes["4xx"]++
		case entry.StatusCode >= 500:
			statusCodes["5xx"]++
		}

		a, ok := perEndpoint[entry.Path]
		if !ok {
			a = &acc{}
			perEndpoint[entry.Path] = a
		}
		a.count++
		a.total += entry.ResponseTime
		if entry.StatusCode >= 500 {
			a.errors++
		}
	}

	// 直近のサーバーエラー（新しい順に最大10件）
	for i := len(filtered) - 1; i >= 0 && len(recentErrors) < 10; i-- {
		if filtered[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filtered[i])
		}
	}

	endpoints := make([]EndpointStat, 0, len(perEndpoint))
	for path, a := range perEndpoint {
		endpoints = append(endpoints, EndpointStat{
			Endpoint:       path,
			Requests:       a.count,
			AvgResponseMs:  a.total.Milliseconds() / int64(a.count),
			ServerErrorCnt: a.errors,
		})
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Requests != endpoints[j].Requests {
			return endpoints[i].Requests > endpoints[j].Requests
		}
		return endpoints[i].Endpoint < endpoints[j].Endpoint
	})

	return DashboardData{
		PeriodHours:      periodHours,
		TotalRequests:    len(filtered),
		RequestsOverTime: buckets,
		Endpoints:        endpoints,
		StatusCodes:      statusCodes,
		RecentErrors:     recentErrors,
	}
}
