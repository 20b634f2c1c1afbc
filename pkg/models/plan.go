package models

// PlanStatus はプランステップの状態です。
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusNeedsInput PlanStatus = "needs_input"
)

// IsValid は既知のステータスかどうかを返します。
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusPending, PlanStatusInProgress, PlanStatusCompleted, PlanStatusNeedsInput:
		return true
	}
	return false
}

// PlanCategory はプランの4つの区分です。
type PlanCategory string

const (
	PlanCategoryDataSources      PlanCategory = "data_sources"
	PlanCategoryKnowledgeSources PlanCategory = "knowledge_sources"
	PlanCategorySMEInterviews    PlanCategory = "sme_interviews"
	PlanCategoryCodeExtraction   PlanCategory = "code_extraction"
)

// PlanCategories は区分を表示順に並べたものです。
var PlanCategories = []PlanCategory{
	PlanCategoryDataSources,
	PlanCategoryKnowledgeSources,
	PlanCategorySMEInterviews,
	PlanCategoryCodeExtraction,
}

// PlanStep はシミュレートされた実行計画の1ステップです。
type PlanStep struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         PlanStatus `json:"status"`
	Source         string     `json:"source,omitempty"`
	ActionRequired string     `json:"action_required,omitempty"`
}

// QuestionPlan は質問ごとに生成される4区分の実行計画です。
type QuestionPlan struct {
	DataSources      []PlanStep `json:"data_sources"`
	KnowledgeSources []PlanStep `json:"knowledge_sources"`
	SMEInterviews    []PlanStep `json:"sme_interviews"`
	CodeExtraction   []PlanStep `json:"code_extraction"`
}

// Category は区分に対応するステップ列を返します。
func (p QuestionPlan) Category(c PlanCategory) []PlanStep {
	switch c {
	case PlanCategoryDataSources:
		return p.DataSources
	case PlanCategoryKnowledgeSources:
		return p.KnowledgeSources
	case PlanCategorySMEInterviews:
		return p.SMEInterviews
	case PlanCategoryCodeExtraction:
		return p.CodeExtraction
	}
	return nil
}

// Append は区分の末尾にステップを追加します。
func (p *QuestionPlan) Append(c PlanCategory, steps ...PlanStep) {
	switch c {
	case PlanCategoryDataSources:
		p.DataSources = append(p.DataSources, steps...)
	case PlanCategoryKnowledgeSources:
		p.KnowledgeSources = append(p.KnowledgeSources, steps...)
	case PlanCategorySMEInterviews:
		p.SMEInterviews = append(p.SMEInterviews, steps...)
	case PlanCategoryCodeExtraction:
		p.CodeExtraction = append(p.CodeExtraction, steps...)
	}
}

// Steps は全区分のステップを区分順に平坦化して返します。
func (p QuestionPlan) Steps() []PlanStep {
	var steps []PlanStep
	for _, c := range PlanCategories {
		steps = append(steps, p.Category(c)...)
	}
	return steps
}

// NeedsInput は入力待ちステップの数を返します。
func (p QuestionPlan) NeedsInput() int {
	n := 0
	for _, s := range p.Steps() {
		if s.Status == PlanStatusNeedsInput {
			n++
		}
	}
	return n
}

// Clone はプランの複製を返します。
func (p QuestionPlan) Clone() QuestionPlan {
	return QuestionPlan{
		DataSources:      cloneSteps(p.DataSources),
		KnowledgeSources: cloneSteps(p.KnowledgeSources),
		SMEInterviews:    cloneSteps(p.SMEInterviews),
		CodeExtraction:   cloneSteps(p.CodeExtraction),
	}
}

// StepTemplate は次元ごとのプランステップの雛形です。
type StepTemplate struct {
	Category       PlanCategory `yaml:"category"`
	Title          string       `yaml:"title"`
	Description    string       `yaml:"description"`
	Status         PlanStatus   `yaml:"status"`
	Source         string       `yaml:"source,omitempty"`
	ActionRequired string       `yaml:"action_required,omitempty"`
}

func cloneSteps(steps []PlanStep) []PlanStep {
	if steps == nil {
		return []PlanStep{}
	}
	out := make([]PlanStep, len(steps))
	copy(out, steps)
	return out
}
