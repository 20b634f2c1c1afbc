package config

import (
	_ "embed"
	"fmt"
	"os"

	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// DimensionFixture は fixtures.yaml の1次元分の定義です。
type DimensionFixture struct {
	Key           models.VectorKey `yaml:"key"`
	models.Vector `yaml:",inline"`
}

// Fixtures は fixtures.yaml の構造を定義
type Fixtures struct {
	Dimensions       []DimensionFixture                         `yaml:"dimensions"`
	PlanTemplates    map[models.VectorKey][]models.StepTemplate `yaml:"plan_templates"`
	SampleQuestions  []models.QuestionSpec                      `yaml:"sample_questions"`
	FallbackQuestion models.QuestionSpec                        `yaml:"fallback_question"`
	FallbackAnswer   string                                     `yaml:"fallback_answer"`
	DataSources      []models.SourceConnection                  `yaml:"data_sources"`
	KnowledgeSources []models.SourceConnection                  `yaml:"knowledge_sources"`
	CodeRepos        []models.SourceConnection                  `yaml:"code_repos"`
	AutomationLogs   []models.AutomationLogEntry                `yaml:"automation_logs"`
	Agents           []models.AutomationAgent                   `yaml:"agents"`
	ImpactMetrics    []models.ImpactMetric                      `yaml:"impact_metrics"`
}

// LoadFixtures はYAMLファイルからフィクスチャを読み込む
// path が空の場合はバイナリに埋め込まれた既定のフィクスチャを使用します。
func LoadFixtures(path string) (*Fixtures, error) {
	data := defaultFixtures
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("フィクスチャファイルの読み込みに失敗: %w", err)
		}
		data = raw
	}
	return ParseFixtures(data)
}

// ParseFixtures はYAMLをパースして検証済みのフィクスチャを返します。
func ParseFixtures(data []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("YAMLのパースに失敗: %w", err)
	}

	fx.tagSources()
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate はフィクスチャの整合性を検証します。
func (f *Fixtures) Validate() error {
	if _, err := f.InitialVectors(); err != nil {
		return fmt.Errorf("dimensions: %w", err)
	}
	if err := services.ValidatePlanTemplates(f.PlanTemplates); err != nil {
		return fmt.Errorf("plan_templates: %w", err)
	}
	for i, q := range f.SampleQuestions {
		if q.Question == "" {
			return fmt.Errorf("sample_questions[%d]: question is empty", i)
		}
		if err := validateBoosts(q.Boosts); err != nil {
			return fmt.Errorf("sample_questions[%d]: %w", i, err)
		}
	}
	if err := validateBoosts(f.FallbackQuestion.Boosts); err != nil {
		return fmt.Errorf("fallback_question: %w", err)
	}
	for kind, sources := range map[models.SourceKind][]models.SourceConnection{
		models.SourceKindData:      f.DataSources,
		models.SourceKindKnowledge: f.KnowledgeSources,
		models.SourceKindCode:      f.CodeRepos,
	} {
		seen := make(map[string]bool, len(sources))
		for _, s := range sources {
			if s.ID == "" {
				return fmt.Errorf("%s sources: %q has no id", kind, s.Name)
			}
			if seen[s.ID] {
				return fmt.Errorf("%s sources: duplicate id %q", kind, s.ID)
			}
			seen[s.ID] = true
		}
	}
	return nil
}

// InitialVectors は dimensions から初期 VectorSet を組み立てます。
func (f *Fixtures) InitialVectors() (models.VectorSet, error) {
	m := make(map[models.VectorKey]models.Vector, len(f.Dimensions))
	for _, d := range f.Dimensions {
		if _, dup := m[d.Key]; dup {
			return models.VectorSet{}, fmt.Errorf("duplicate dimension %q", d.Key)
		}
		m[d.Key] = d.Vector
	}
	return models.NewVectorSet(m)
}

// TwinSeed はストアの初期状態を返します。Validate 済みであることが前提です。
func (f *Fixtures) TwinSeed() services.TwinSeed {
	vectors, _ := f.InitialVectors()
	return services.TwinSeed{
		Vectors:          vectors,
		PlanTemplates:    f.PlanTemplates,
		DataSources:      f.DataSources,
		KnowledgeSources: f.KnowledgeSources,
		CodeRepos:        f.CodeRepos,
		AutomationLogs:   f.AutomationLogs,
		FallbackAnswer:   f.FallbackAnswer,
	}
}

// tagSources は各ソースに種類を設定します（YAMLでは種類ごとにリストが分かれているため）。
func (f *Fixtures) tagSources() {
	for i := range f.DataSources {
		f.DataSources[i].Kind = models.SourceKindData
	}
	for i := range f.KnowledgeSources {
		f.KnowledgeSources[i].Kind = models.SourceKindKnowledge
	}
	for i := range f.CodeRepos {
		f.CodeRepos[i].Kind = models.SourceKindCode
	}
}

func validateBoosts(boosts map[models.VectorKey]int) error {
	for key, boost := range boosts {
		if !key.IsValid() {
			return fmt.Errorf("unknown dimension %q in boosts", key)
		}
		if boost < 0 {
			return fmt.Errorf("boost for %q must not be negative, got %d", key, boost)
		}
	}
	return nil
}
