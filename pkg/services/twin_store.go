package services

import (
	"context"
	"sync"
	"time"

	"customer-twin-api/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultHistoryLimit は保持する履歴の既定件数です。
	DefaultHistoryLimit = 20
	// DefaultProcessingDelay は質問処理の既定のシミュレーション遅延です。
	DefaultProcessingDelay = 1500 * time.Millisecond

	justNow         = "Just now"
	timestampLayout = "2006-01-02 15:04:05"
)

// TwinSeed はストアの初期状態です。ResetTwin はベクトルをこの状態に戻します。
type TwinSeed struct {
	Vectors          models.VectorSet
	PlanTemplates    PlanTemplates
	DataSources      []models.SourceConnection
	KnowledgeSources []models.SourceConnection
	CodeRepos        []models.SourceConnection
	AutomationLogs   []models.AutomationLogEntry
	FallbackAnswer   string
}

// AskResult は AskQuestion の結果です。
type AskResult struct {
	Entry models.HistoryEntry `json:"entry"`
	Gains []models.RecentGain `json:"gains"`
}

// StoreOption は TwinStore の設定を変更します。
type StoreOption func(*TwinStore)

// WithClock は時刻と遅延の実装を差し替えます。
func WithClock(c Clock) StoreOption {
	return func(s *TwinStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithProcessingDelay は質問処理の遅延を設定します。
func WithProcessingDelay(d time.Duration) StoreOption {
	return func(s *TwinStore) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithHistoryLimit は履歴の最大件数を設定します。0以下は既定値のままです。
func WithHistoryLimit(n int) StoreOption {
	return func(s *TwinStore) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger はロガーを設定します。
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *TwinStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// TwinStore は Customer Twin の状態を一元管理します。
// 状態の変更はすべてこの型のメソッド経由で行い、読み取りは常にコピーを返します。
type TwinStore struct {
	seed         TwinSeed
	clock        Clock
	delay        time.Duration
	historyLimit int
	logger       *zap.Logger

	// gate は同時に処理できる質問を1件に制限します。後続の呼び出しは到着順に待機します。
	gate *semaphore.Weighted

	mu                sync.RWMutex
	vectors           models.VectorSet
	history           []models.HistoryEntry
	recentGains       []models.RecentGain
	activeQuestion    *models.QuestionSpec
	processing        bool
	plan              *models.QuestionPlan
	selectedHistoryID string
	sources           map[models.SourceKind][]models.SourceConnection
	automationLogs    []models.AutomationLogEntry
	// generation は ResetTwin のたびに増えます。
	generation uint64

	subMu       sync.Mutex
	subscribers map[int]chan models.TwinState
	nextSubID   int
}

// NewTwinStore は新しい TwinStore を生成します。
func NewTwinStore(seed TwinSeed, opts ...StoreOption) *TwinStore {
	s := &TwinStore{
		seed:         seed,
		clock:        SystemClock{},
		delay:        DefaultProcessingDelay,
		historyLimit: DefaultHistoryLimit,
		logger:       zap.NewNop(),
		gate:         semaphore.NewWeighted(1),
		vectors:      seed.Vectors,
		history:      []models.HistoryEntry{},
		recentGains:  []models.RecentGain{},
		sources: map[models.SourceKind][]models.SourceConnection{
			models.SourceKindData:      cloneSources(seed.DataSources),
			models.SourceKindKnowledge: cloneSources(seed.KnowledgeSources),
			models.SourceKindCode:      cloneSources(seed.CodeRepos),
		},
		automationLogs: append([]models.AutomationLogEntry{}, seed.AutomationLogs...),
		subscribers:    make(map[int]chan models.TwinState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AskQuestion は質問を処理し、ブーストをベクトルに反映して履歴に記録します。
//
// 処理中の質問がある場合は完了まで待機します。待機中に ctx がキャンセルされた場合は
// 何も変更せずに ctx.Err() を返します。処理が始まった質問は必ず最後まで反映されます。
func (s *TwinStore) AskQuestion(ctx context.Context, spec models.QuestionSpec) (AskResult, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return AskResult{}, err
	}
	defer s.gate.Release(1)

	spec = spec.Clone()
	plan := BuildPlan(spec.Boosts, s.seed.PlanTemplates)

	s.mu.Lock()
	before := s.vectors
	generation := s.generation
	published := plan.Clone()
	active := spec.Clone()
	s.plan = &published
	s.activeQuestion = &active
	s.processing = true
	s.mu.Unlock()
	s.publish()

	s.logger.Info("question processing started",
		zap.String("question", spec.Question),
		zap.Int("plan_steps", len(plan.Steps())),
		zap.Int("needs_input", plan.NeedsInput()),
		zap.Duration("delay", s.delay))

	s.clock.Sleep(s.delay)

	s.mu.Lock()
	if s.generation != generation {
		// 処理中にリセットされた場合はリセット後のベクトルを起点にします
		before = s.vectors
	}
	after, gains := applyBoosts(before, spec.Boosts)

	answer := spec.Answer
	if answer == "" {
		answer = s.seed.FallbackAnswer
	}
	now := s.clock.Now()
	entry := models.HistoryEntry{
		ID:        newHistoryID(),
		Question:  spec.Question,
		Answer:    answer,
		Sources:   spec.Sources,
		Boosts:    spec.Boosts,
		Gains:     gains,
		Before:    before,
		After:     after,
		Timestamp: now.Format(timestampLayout),
		CreatedAt: now,
		Plan:      plan,
	}

	s.vectors = after
	s.recentGains = append([]models.RecentGain{}, gains...)
	history := make([]models.HistoryEntry, 0, len(s.history)+1)
	history = append(history, entry)
	history = append(history, s.history...)
	if len(history) > s.historyLimit {
		history = history[:s.historyLimit]
	}
	s.history = history
	s.processing = false
	s.mu.Unlock()
	s.publish()

	s.logger.Info("question processed",
		zap.String("history_id", entry.ID),
		zap.Int("gained_dimensions", len(gains)),
		zap.Int("history_size", len(history)))

	return AskResult{Entry: entry.Clone(), Gains: append([]models.RecentGain{}, gains...)}, nil
}

// applyBoosts はブーストを適用した新しいセットと実際の増分を返します。
// 値は Max で頭打ちになり、増分がゼロの次元は結果に含めません。
func applyBoosts(vs models.VectorSet, boosts map[models.VectorKey]int) (models.VectorSet, []models.RecentGain) {
	gains := []models.RecentGain{}
	for _, key := range models.VectorKeys {
		boost, ok := boosts[key]
		if !ok || boost <= 0 {
			continue
		}
		v, _ := vs.Get(key)
		newValue := v.Max
		if boost < v.Max-v.Value {
			newValue = v.Value + boost
		}
		gain := newValue - v.Value
		if gain <= 0 {
			continue
		}
		vs = vs.With(key, newValue)
		gains = append(gains, models.RecentGain{
			Key:   key,
			Gain:  gain,
			Label: v.Label,
			Color: v.Color,
		})
	}
	return vs, gains
}

func newHistoryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ResetTwin はベクトルを初期状態に戻し、履歴・直近の増分・質問・プラン・選択を消去します。
// ソースの接続状態は変更しません。
func (s *TwinStore) ResetTwin() {
	s.mu.Lock()
	s.vectors = s.seed.Vectors
	s.history = []models.HistoryEntry{}
	s.recentGains = []models.RecentGain{}
	s.activeQuestion = nil
	s.plan = nil
	s.selectedHistoryID = ""
	s.generation++
	s.mu.Unlock()
	s.publish()

	s.logger.Info("twin reset")
}

// ToggleDataSource はデータソースの接続状態を切り替えます。
func (s *TwinStore) ToggleDataSource(id string) (models.SourceConnection, bool) {
	return s.ToggleSource(models.SourceKindData, id)
}

// ToggleKnowledgeSource はナレッジソースの接続状態を切り替えます。
func (s *TwinStore) ToggleKnowledgeSource(id string) (models.SourceConnection, bool) {
	return s.ToggleSource(models.SourceKindKnowledge, id)
}

// ToggleCodeRepo はコードリポジトリの接続状態を切り替えます。
func (s *TwinStore) ToggleCodeRepo(id string) (models.SourceConnection, bool) {
	return s.ToggleSource(models.SourceKindCode, id)
}

// ToggleSource は指定種類のソースの接続状態を切り替えます。
// 接続時は "Just now" と疑似件数を設定し、切断時は両方を消去します。
// 該当するIDがない場合は何もせず false を返します。
func (s *TwinStore) ToggleSource(kind models.SourceKind, id string) (models.SourceConnection, bool) {
	s.mu.Lock()
	list := s.sources[kind]
	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return models.SourceConnection{}, false
	}

	src := list[idx]
	src.Connected = !src.Connected
	if src.Connected {
		src.LastSync = justNow
		src.ItemCount = src.ConnectCount
		if src.ItemCount <= 0 {
			src.ItemCount = 1
		}
	} else {
		src.LastSync = ""
		src.ItemCount = 0
	}
	list[idx] = src
	s.mu.Unlock()
	s.publish()

	s.logger.Info("source toggled",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.String("name", src.Name),
		zap.Bool("connected", src.Connected))
	return src, true
}

// SelectHistoryEntry は参照用の履歴IDを設定します。空文字で選択を解除します。
// 履歴やベクトルは変更しません。
func (s *TwinStore) SelectHistoryEntry(id string) {
	s.mu.Lock()
	s.selectedHistoryID = id
	s.mu.Unlock()
	s.publish()
}

// SelectedHistoryID は現在選択中の履歴IDを返します。
func (s *TwinStore) SelectedHistoryID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedHistoryID
}

// GetVectorsForHistoryEntry は指定履歴の処理後スナップショットを返します。
// id が空または存在しない場合は現在のベクトルを返します。
func (s *TwinStore) GetVectorsForHistoryEntry(id string) models.VectorSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id != "" {
		for _, h := range s.history {
			if h.ID == id {
				return h.After
			}
		}
	}
	return s.vectors
}

// SelectedVectors は選択中の履歴（なければ現在）のベクトルを返します。
func (s *TwinStore) SelectedVectors() models.VectorSet {
	return s.GetVectorsForHistoryEntry(s.SelectedHistoryID())
}

// Vectors は現在のベクトルを返します。
func (s *TwinStore) Vectors() models.VectorSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors
}

// InitialVectors はリセット時に戻る初期ベクトルを返します。
func (s *TwinStore) InitialVectors() models.VectorSet {
	return s.seed.Vectors
}

// History は新しい順の履歴を返します。
func (s *TwinStore) History() []models.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.history)
}

// HistoryEntry は指定IDの履歴を返します。
func (s *TwinStore) HistoryEntry(id string) (models.HistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.history {
		if h.ID == id {
			return h.Clone(), true
		}
	}
	return models.HistoryEntry{}, false
}

// RecentGains は直近の質問での増分を返します。
func (s *TwinStore) RecentGains() []models.RecentGain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RecentGain{}, s.recentGains...)
}

// Plan は現在のプランを返します。プランがない場合は false を返します。
func (s *TwinStore) Plan() (models.QuestionPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plan == nil {
		return models.QuestionPlan{}, false
	}
	return s.plan.Clone(), true
}

// ActiveQuestion は処理中または直近の質問を返します。
func (s *TwinStore) ActiveQuestion() (models.QuestionSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeQuestion == nil {
		return models.QuestionSpec{}, false
	}
	return s.activeQuestion.Clone(), true
}

// IsProcessing は質問を処理中かどうかを返します。
func (s *TwinStore) IsProcessing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

// Sources は指定種類のソース一覧を返します。
func (s *TwinStore) Sources(kind models.SourceKind) []models.SourceConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSources(s.sources[kind])
}

// DataSources はデータソース一覧を返します。
func (s *TwinStore) DataSources() []models.SourceConnection {
	return s.Sources(models.SourceKindData)
}

// KnowledgeSources はナレッジソース一覧を返します。
func (s *TwinStore) KnowledgeSources() []models.SourceConnection {
	return s.Sources(models.SourceKindKnowledge)
}

// CodeRepos はコードリポジトリ一覧を返します。
func (s *TwinStore) CodeRepos() []models.SourceConnection {
	return s.Sources(models.SourceKindCode)
}

// AutomationLogs は静的なオートメーションログを返します。
func (s *TwinStore) AutomationLogs() []models.AutomationLogEntry {
	return append([]models.AutomationLogEntry{}, s.automationLogs...)
}

// State はストア全体のスナップショットを返します。
func (s *TwinStore) State() models.TwinState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *TwinStore) stateLocked() models.TwinState {
	st := models.TwinState{
		Vectors:           s.vectors,
		History:           cloneHistory(s.history),
		RecentGains:       append([]models.RecentGain{}, s.recentGains...),
		IsProcessing:      s.processing,
		SelectedHistoryID: s.selectedHistoryID,
		DataSources:       cloneSources(s.sources[models.SourceKindData]),
		KnowledgeSources:  cloneSources(s.sources[models.SourceKindKnowledge]),
		CodeRepos:         cloneSources(s.sources[models.SourceKindCode]),
		AutomationLogs:    append([]models.AutomationLogEntry{}, s.automationLogs...),
	}
	if s.activeQuestion != nil {
		q := s.activeQuestion.Clone()
		st.ActiveQuestion = &q
	}
	if s.plan != nil {
		p := s.plan.Clone()
		st.Plan = &p
	}
	return st
}

// Subscribe は状態変更の通知を受け取るチャネルを返します。
// 登録直後に現在の状態が1回送られます。受信が追いつかない場合は途中の状態が捨てられ、最新の状態が残ります。
// 返される関数で購読を解除するとチャネルは閉じられます。
func (s *TwinStore) Subscribe(buffer int) (<-chan models.TwinState, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.TwinState, buffer)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.State()
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *TwinStore) publish() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subscribers) == 0 {
		return
	}
	st := s.State()
	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
			// 古い状態を1件捨てて最新の状態を入れます
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func cloneSources(in []models.SourceConnection) []models.SourceConnection {
	return append([]models.SourceConnection{}, in...)
}

func cloneHistory(in []models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(in))
	for i, h := range in {
		out[i] = h.Clone()
	}
	return out
}

// PreviewPlan は現在のテンプレートで boosts から導かれるプランを返します。状態は変更しません。
func (s *TwinStore) PreviewPlan(boosts map[models.VectorKey]int) models.QuestionPlan {
	return BuildPlan(boosts, s.seed.PlanTemplates)
}
