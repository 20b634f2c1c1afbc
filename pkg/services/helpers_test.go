package services

import (
	"sync"
	"testing"
	"time"

	"customer-twin-api/pkg/models"

	"github.com/stretchr/testify/require"
)

// fakeClock は固定時刻から1秒ずつ進む時計です。
// release が設定されている場合、Sleep は release を受信するまでブロックします。
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	entered chan struct{}
	release chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

// newBlockingClock は Sleep 開始を entered に通知し、release まで待機する時計を返します。
func newBlockingClock() *fakeClock {
	c := newFakeClock()
	c.entered = make(chan struct{}, 16)
	c.release = make(chan struct{})
	return c
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		<-c.release
	}
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func testVectors(t *testing.T, overrides map[models.VectorKey]int) models.VectorSet {
	t.Helper()
	m := map[models.VectorKey]models.Vector{
		models.VectorPricing:      {Value: 15, Max: 100, Label: "Pricing Decisions", Color: "#F59E0B"},
		models.VectorChurn:        {Value: 10, Max: 100, Label: "Churn Signals", Color: "#EF4444"},
		models.VectorOnboarding:   {Value: 20, Max: 100, Label: "Onboarding Journey", Color: "#10B981"},
		models.VectorFeatures:     {Value: 12, Max: 100, Label: "Feature Adoption", Color: "#8B5CF6"},
		models.VectorSupport:      {Value: 8, Max: 100, Label: "Support Patterns", Color: "#3B82F6"},
		models.VectorSatisfaction: {Value: 18, Max: 100, Label: "Satisfaction Drivers", Color: "#EC4899"},
	}
	for key, value := range overrides {
		v := m[key]
		v.Value = value
		m[key] = v
	}
	vs, err := models.NewVectorSet(m)
	require.NoError(t, err)
	return vs
}

func testTemplates() PlanTemplates {
	templates := PlanTemplates{}
	for _, key := range models.VectorKeys {
		templates[key] = []models.StepTemplate{
			{Category: models.PlanCategoryDataSources, Title: string(key) + " data", Status: models.PlanStatusCompleted, Source: "Salesforce"},
		}
	}
	templates[models.VectorChurn] = append(templates[models.VectorChurn],
		models.StepTemplate{Category: models.PlanCategoryCodeExtraction, Title: "renewal logic", Status: models.PlanStatusNeedsInput, ActionRequired: "grant access"},
		models.StepTemplate{Category: models.PlanCategoryDataSources, Title: "exit surveys", Status: models.PlanStatusCompleted},
	)
	templates[models.VectorPricing] = append(templates[models.VectorPricing],
		models.StepTemplate{Category: models.PlanCategorySMEInterviews, Title: "deal desk", Status: models.PlanStatusNeedsInput, ActionRequired: "schedule call"},
	)
	return templates
}

func testSeed(t *testing.T, overrides map[models.VectorKey]int) TwinSeed {
	t.Helper()
	return TwinSeed{
		Vectors:       testVectors(t, overrides),
		PlanTemplates: testTemplates(),
		DataSources: []models.SourceConnection{
			{ID: "1", Name: "Salesforce", Kind: models.SourceKindData, Connected: true, LastSync: "2 hours ago", ConnectCount: 1250},
			{ID: "5", Name: "GitHub", Kind: models.SourceKindData, Connected: false, ConnectCount: 3},
		},
		KnowledgeSources: []models.SourceConnection{
			{ID: "3", Name: "Notion", Kind: models.SourceKindKnowledge},
		},
		CodeRepos: []models.SourceConnection{
			{ID: "1", Name: "pricing-engine", Kind: models.SourceKindCode, Connected: true, LastSync: "2 hours ago", ItemCount: 47, ConnectCount: 47},
		},
		AutomationLogs: []models.AutomationLogEntry{
			{ID: "1", Customer: "Sarah Chen", Company: "Acme Corp", Action: "Sent personalized retention offer", Agent: "Churn Prevention"},
		},
		FallbackAnswer: "generic answer",
	}
}

func newTestStore(t *testing.T, overrides map[models.VectorKey]int, opts ...StoreOption) (*TwinStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewTwinStore(testSeed(t, overrides), append([]StoreOption{WithClock(clock)}, opts...)...)
	return store, clock
}

func valueOf(t *testing.T, vs models.VectorSet, key models.VectorKey) int {
	t.Helper()
	v, ok := vs.Get(key)
	require.True(t, ok)
	return v.Value
}
