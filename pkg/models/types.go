package models

import "time"

// QuestionSpec は Twin に投げる質問の定義です。
// サンプルカタログ由来でも自由入力由来でも同じ形で扱います。
type QuestionSpec struct {
	Question string            `json:"question" yaml:"question"`
	Boosts   map[VectorKey]int `json:"boosts" yaml:"boosts"`
	Sources  []string          `json:"sources" yaml:"sources"`
	Answer   string            `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// Clone は QuestionSpec の複製を返します。
func (q QuestionSpec) Clone() QuestionSpec {
	out := QuestionSpec{
		Question: q.Question,
		Answer:   q.Answer,
		Boosts:   make(map[VectorKey]int, len(q.Boosts)),
		Sources:  make([]string, len(q.Sources)),
	}
	for k, v := range q.Boosts {
		out.Boosts[k] = v
	}
	copy(out.Sources, q.Sources)
	return out
}

// RecentGain は直近の質問で実際に増えた次元1つ分の情報です。
type RecentGain struct {
	Key   VectorKey `json:"key"`
	Gain  int       `json:"gain"`
	Label string    `json:"label"`
	Color string    `json:"color"`
}

// HistoryEntry は処理済みの質問1件の記録です。作成後は変更されません。
type HistoryEntry struct {
	ID        string            `json:"id"`
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Sources   []string          `json:"sources"`
	Boosts    map[VectorKey]int `json:"boosts"`
	Gains     []RecentGain      `json:"gains"`
	Before    VectorSet         `json:"before"`
	After     VectorSet         `json:"after"`
	Timestamp string            `json:"timestamp"`
	CreatedAt time.Time         `json:"created_at"`
	Plan      QuestionPlan      `json:"plan"`
}

// Clone は HistoryEntry の複製を返します。VectorSet は値型なのでそのままコピーされます。
func (h HistoryEntry) Clone() HistoryEntry {
	spec := QuestionSpec{Boosts: h.Boosts, Sources: h.Sources}.Clone()
	out := h
	out.Sources = spec.Sources
	out.Boosts = spec.Boosts
	out.Gains = append([]RecentGain{}, h.Gains...)
	out.Plan = h.Plan.Clone()
	return out
}

// SourceKind は接続先の種類です。
type SourceKind string

const (
	SourceKindData      SourceKind = "data"
	SourceKindKnowledge SourceKind = "knowledge"
	SourceKindCode      SourceKind = "code"
)

// ParseSourceKind は文字列を SourceKind に変換します。
func ParseSourceKind(s string) (SourceKind, bool) {
	switch SourceKind(s) {
	case SourceKindData, SourceKindKnowledge, SourceKindCode:
		return SourceKind(s), true
	}
	return "", false
}

// SourceConnection はデータソース・ナレッジソース・コードリポジトリの接続状態です。
type SourceConnection struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Kind      SourceKind `json:"kind" yaml:"-"`
	Category  string     `json:"category" yaml:"category"`
	Connected bool       `json:"connected" yaml:"connected"`
	LastSync  string     `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	ItemCount int        `json:"item_count,omitempty" yaml:"item_count,omitempty"`
	// ConnectCount は接続時に設定する疑似的な件数です（フィクスチャ専用）。
	ConnectCount int `json:"-" yaml:"connect_count,omitempty"`
}

// AutomationLogEntry はオートメーション画面に表示する静的なログです。
type AutomationLogEntry struct {
	ID        string `json:"id" yaml:"id"`
	Customer  string `json:"customer" yaml:"customer"`
	Company   string `json:"company" yaml:"company"`
	Action    string `json:"action" yaml:"action"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Agent     string `json:"agent" yaml:"agent"`
}

// AutomationAgent は Twin を利用する自律エージェントの表示情報です。
type AutomationAgent struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Metric      string `json:"metric" yaml:"metric"`
	Status      string `json:"status" yaml:"status"` // "active" or "paused"
	Color       string `json:"color" yaml:"color"`
}

// ImpactMetric はオートメーションの効果指標です。
type ImpactMetric struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// TwinState はストア全体の読み取り専用スナップショットです。
type TwinState struct {
	Vectors           VectorSet            `json:"vectors"`
	History           []HistoryEntry       `json:"history"`
	RecentGains       []RecentGain         `json:"recent_gains"`
	ActiveQuestion    *QuestionSpec        `json:"active_question"`
	IsProcessing      bool                 `json:"is_processing"`
	Plan              *QuestionPlan        `json:"plan"`
	SelectedHistoryID string               `json:"selected_history_id,omitempty"`
	DataSources       []SourceConnection   `json:"data_sources"`
	KnowledgeSources  []SourceConnection   `json:"knowledge_sources"`
	CodeRepos         []SourceConnection   `json:"code_repos"`
	AutomationLogs    []AutomationLogEntry `json:"automation_logs"`
}

// AskRequest は質問APIのリクエストボディです。
// Boosts を省略した場合はカタログとの照合で質問定義を決定します。
type AskRequest struct {
	Question string            `json:"question" binding:"required"`
	Boosts   map[VectorKey]int `json:"boosts,omitempty"`
	Sources  []string          `json:"sources,omitempty"`
	Answer   string            `json:"answer,omitempty"`
}

// AskResponse は質問APIのレスポンスです。
type AskResponse struct {
	Success bool         `json:"success"`
	Entry   HistoryEntry `json:"entry"`
	Gains   []RecentGain `json:"gains"`
	Answer  string       `json:"answer"`
}

// MatchRequest は質問照合APIのリクエストボディです。
type MatchRequest struct {
	Question string `json:"question" binding:"required"`
}

// MatchResponse は照合された質問定義とプランのプレビューです。
type MatchResponse struct {
	Spec    QuestionSpec `json:"spec"`
	Matched bool         `json:"matched"`
	Plan    QuestionPlan `json:"plan"`
}

// SelectHistoryRequest は履歴選択APIのリクエストボディです。空文字で選択解除します。
type SelectHistoryRequest struct {
	ID string `json:"id"`
}
