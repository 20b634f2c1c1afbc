package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	config "customer-twin-api/configs"
	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	router *gin.Engine
	store  *services.TwinStore
	twin   *TwinHandler
	admin  *AdminHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fx, err := config.LoadFixtures("")
	require.NoError(t, err)

	store := services.NewTwinStore(fx.TwinSeed(), services.WithProcessingDelay(0))
	catalog := services.NewQuestionCatalog(fx.SampleQuestions, fx.FallbackQuestion, fx.FallbackAnswer)
	twin := NewTwinHandler(store, catalog, services.NewReportService(), nil)
	admin := NewAdminHandler(&config.Config{AdminUsername: "admin", AdminPassword: "pw"}, nil)
	sources := NewSourceHandler(store)
	questions := NewQuestionHandler(catalog, store, nil)
	automation := NewAutomationHandler(store, fx.Agents, fx.ImpactMetrics)
	monitoring := NewMonitoringHandler(services.NewMonitoringService(nil))

	r := gin.New()
	r.GET("/health", admin.HealthCheck)
	guard := admin.MaintenanceGuard()
	r.GET("/admin/health-status", admin.GetHealthStatus)
	r.POST("/admin/maintenance/start", admin.StartMaintenance)
	r.POST("/admin/maintenance/stop", admin.StopMaintenance)
	r.GET("/monitoring/logs", monitoring.GetLogs)
	r.GET("/twin/state", twin.GetState)
	r.GET("/twin/vectors", twin.GetVectors)
	r.GET("/twin/plan", twin.GetPlan)
	r.GET("/twin/recent-gains", twin.GetRecentGains)
	r.GET("/twin/history", twin.GetHistory)
	r.GET("/twin/history/export", twin.ExportHistory)
	r.GET("/twin/history/:id", twin.GetHistoryEntry)
	r.POST("/twin/ask", guard, twin.Ask)
	r.POST("/twin/reset", guard, twin.Reset)
	r.POST("/twin/history/select", guard, twin.SelectHistory)
	r.GET("/sources/:kind", sources.ListSources)
	r.POST("/sources/:kind/:id/toggle", guard, sources.ToggleSource)
	r.GET("/questions", questions.ListQuestions)
	r.POST("/questions/match", questions.MatchQuestion)
	r.POST("/questions/import", guard, questions.ImportQuestions)
	r.GET("/automations/logs", automation.GetLogs)
	r.GET("/automations/agents", automation.GetAgents)

	return &testEnv{router: r, store: store, twin: twin, admin: admin}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestAskMatchesSampleQuestion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "Why do customers abandon during pricing review?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.AskResponse
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	require.Len(t, resp.Gains, 2)
	assert.Equal(t, models.VectorPricing, resp.Gains[0].Key)
	assert.Equal(t, 15, resp.Gains[0].Gain)
	assert.Contains(t, resp.Answer, "147 deals")

	v, _ := env.store.Vectors().Get(models.VectorPricing)
	assert.Equal(t, 30, v.Value)
}

func TestAskFreeTextUsesFallback(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "How do renewals differ by region?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AskResponse
	decode(t, w, &resp)
	assert.Equal(t, "How do renewals differ by region?", resp.Entry.Question)
	assert.Equal(t, []string{"Connected Data Sources"}, resp.Entry.Sources)
	assert.Equal(t, map[models.VectorKey]int{models.VectorSatisfaction: 8, models.VectorFeatures: 5}, resp.Entry.Boosts)
}

func TestAskWithCustomBoosts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/twin/ask", gin.H{
		"question": "Custom question",
		"boosts":   gin.H{"support": 100},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AskResponse
	decode(t, w, &resp)
	require.Len(t, resp.Gains, 1)
	assert.Equal(t, 92, resp.Gains[0].Gain)
	assert.NotEmpty(t, resp.Answer)
}

func TestAskValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing question", gin.H{}},
		{"blank question", gin.H{"question": "   "}},
		{"negative boost", gin.H{"question": "q", "boosts": gin.H{"pricing": -1}}},
		{"unknown dimension", gin.H{"question": "q", "boosts": gin.H{"latency": 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/twin/ask", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, env.store.History())
}

func TestAskAsync(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/twin/ask?async=true", gin.H{"question": "Which features drive the most engagement?"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Accepted bool                `json:"accepted"`
		Matched  bool                `json:"matched"`
		Plan     models.QuestionPlan `json:"plan"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Accepted)
	assert.True(t, resp.Matched)
	assert.NotEmpty(t, resp.Plan.DataSources)

	env.twin.Wait()
	assert.Len(t, env.store.History(), 1)
}

func TestStateAndHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "Why do customers abandon during pricing review?"})
	require.Equal(t, http.StatusOK, w.Code)
	var first models.AskResponse
	decode(t, w, &first)

	w = env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "What triggers customers to contact support?"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/twin/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st models.TwinState
	decode(t, w, &st)
	assert.Len(t, st.History, 2)
	assert.False(t, st.IsProcessing)
	require.NotNil(t, st.Plan)

	w = env.do(t, http.MethodGet, "/twin/history/"+first.Entry.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entry models.HistoryEntry
	decode(t, w, &entry)
	assert.True(t, first.Entry.After.Equal(entry.After))

	w = env.do(t, http.MethodGet, "/twin/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/twin/vectors?history_id="+first.Entry.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var vr struct {
		Vectors models.VectorSet `json:"vectors"`
	}
	decode(t, w, &vr)
	assert.True(t, first.Entry.After.Equal(vr.Vectors))

	w = env.do(t, http.MethodPost, "/twin/history/select", gin.H{"id": first.Entry.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.Entry.ID, env.store.SelectedHistoryID())

	w = env.do(t, http.MethodGet, "/twin/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "needs_input")

	w = env.do(t, http.MethodGet, "/twin/recent-gains", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"support"`)
}

func TestResetEndpoint(t *testing.T) {
	env := newTestEnv(t)
	initial := env.store.Vectors()

	env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "Why do customers abandon during pricing review?"})
	w := env.do(t, http.MethodPost, "/twin/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, initial.Equal(env.store.Vectors()))
	assert.Empty(t, env.store.History())

	w = env.do(t, http.MethodGet, "/twin/plan", nil)
	assert.JSONEq(t, `{"plan":null}`, w.Body.String())
}

func TestExportHistory(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "Why do customers abandon during pricing review?"})

	w := env.do(t, http.MethodGet, "/twin/history/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "twin-history.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("History")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSourceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/sources/data", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sources   []models.SourceConnection `json:"sources"`
		Connected int                       `json:"connected"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Sources, 6)
	assert.Equal(t, 4, list.Connected)

	w = env.do(t, http.MethodPost, "/sources/data/5/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var toggled struct {
		Found  bool                    `json:"found"`
		Source models.SourceConnection `json:"source"`
	}
	decode(t, w, &toggled)
	assert.True(t, toggled.Found)
	assert.True(t, toggled.Source.Connected)
	assert.Equal(t, "Just now", toggled.Source.LastSync)

	w = env.do(t, http.MethodPost, "/sources/code/999/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"found":false}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/sources/email", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, "/sources/email/1/toggle", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuestionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/questions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":5`)

	w = env.do(t, http.MethodPost, "/questions/match", gin.H{"question": "what makes customers stop"})
	require.Equal(t, http.StatusOK, w.Code)
	var match models.MatchResponse
	decode(t, w, &match)
	assert.True(t, match.Matched)
	assert.Equal(t, "What makes customers stop the onboarding process?", match.Spec.Question)
	assert.NotEmpty(t, match.Plan.SMEInterviews)

	w = env.do(t, http.MethodPost, "/questions/match", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// プレビューはストアを変更しない
	assert.Empty(t, env.store.History())
	_, ok := env.store.Plan()
	assert.False(t, ok)
}

func upload(t *testing.T, env *testEnv, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, "/questions/import", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestImportQuestions(t *testing.T) {
	env := newTestEnv(t)

	csv := strings.Join([]string{
		"question,churn,support,sources,answer",
		"Why do accounts downgrade?,9,4,Billing Logs,Downgrades follow seat reductions.",
	}, "\n")
	w := upload(t, env, "questions.csv", csv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"imported":1`)
	assert.Contains(t, w.Body.String(), `"total":6`)

	w = env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "Why do accounts downgrade?"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.AskResponse
	decode(t, w, &resp)
	assert.Equal(t, "Downgrades follow seat reductions.", resp.Answer)

	w = upload(t, env, "questions.txt", csv)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, env, "questions.csv", "question,pricing\nq,-5\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutomationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/automations/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sarah Chen")

	w = env.do(t, http.MethodGet, "/automations/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active_agents":3`)
	assert.Contains(t, w.Body.String(), "$847,000")
}

func TestMaintenanceMode(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/admin/maintenance/start", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodPost, "/admin/maintenance/start", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/admin/maintenance/start", gin.H{"username": "admin", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.admin.InMaintenance())

	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = env.do(t, http.MethodPost, "/twin/ask", gin.H{"question": "q"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = env.do(t, http.MethodPost, "/sources/data/5/toggle", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// 参照系は引き続き利用できる
	w = env.do(t, http.MethodGet, "/twin/state", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/admin/health-status", nil)
	assert.JSONEq(t, `{"isMaintenanceMode":true}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/admin/maintenance/stop", gin.H{"username": "admin", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.store.History())
}

func TestMaintenanceRequiresConfiguredPassword(t *testing.T) {
	admin := NewAdminHandler(&config.Config{AdminUsername: "admin"}, nil)
	r := gin.New()
	r.POST("/start", admin.StartMaintenance)

	body, _ := json.Marshal(gin.H{"username": "admin", "password": "anything"})
	req, _ := http.NewRequest(http.MethodPost, "/start", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, admin.InMaintenance())
}

func TestMonitoringPeriod(t *testing.T) {
	assert.Equal(t, 1, periodHours("1h"))
	assert.Equal(t, 24, periodHours("24h"))
	assert.Equal(t, 168, periodHours("7d"))
	assert.Equal(t, 24, periodHours("bogus"))

	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/monitoring/logs?period=7d", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"period_hours":168`)
}
