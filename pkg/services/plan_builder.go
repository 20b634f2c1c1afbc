package services

import (
	"fmt"

	"customer-twin-api/pkg/models"
)

// PlanTemplates は次元ごとのプランステップ雛形です。
type PlanTemplates map[models.VectorKey][]models.StepTemplate

// BuildPlan はブースト値から実行計画を組み立てます。
// 正のブーストを持つ次元について、固定の次元順で雛形を各区分の末尾に追加します。
// 同じ入力からは常に同じプランが生成されます。
func BuildPlan(boosts map[models.VectorKey]int, templates PlanTemplates) models.QuestionPlan {
	plan := models.QuestionPlan{
		DataSources:      []models.PlanStep{},
		KnowledgeSources: []models.PlanStep{},
		SMEInterviews:    []models.PlanStep{},
		CodeExtraction:   []models.PlanStep{},
	}

	for _, key := range models.VectorKeys {
		if boosts[key] <= 0 {
			continue
		}
		seq := make(map[models.PlanCategory]int)
		for _, tmpl := range templates[key] {
			seq[tmpl.Category]++
			plan.Append(tmpl.Category, models.PlanStep{
				ID:             fmt.Sprintf("%s-%s-%d", key, tmpl.Category, seq[tmpl.Category]),
				Title:          tmpl.Title,
				Description:    tmpl.Description,
				Status:         tmpl.Status,
				Source:         tmpl.Source,
				ActionRequired: tmpl.ActionRequired,
			})
		}
	}

	return plan
}

// ValidatePlanTemplates は雛形の整合性を検証します。
// 全次元に少なくとも1つの data_sources ステップが必要で、
// needs_input のステップには action_required が必須です。
func ValidatePlanTemplates(templates map[models.VectorKey][]models.StepTemplate) error {
	for key := range templates {
		if !key.IsValid() {
			return fmt.Errorf("unknown dimension %q", key)
		}
	}
	for _, key := range models.VectorKeys {
		steps := templates[key]
		hasData := false
		for i, tmpl := range steps {
			if tmpl.Category == models.PlanCategoryDataSources {
				hasData = true
			}
			if tmpl.Category != models.PlanCategoryDataSources &&
				tmpl.Category != models.PlanCategoryKnowledgeSources &&
				tmpl.Category != models.PlanCategorySMEInterviews &&
				tmpl.Category != models.PlanCategoryCodeExtraction {
				return fmt.Errorf("%s[%d]: unknown category %q", key, i, tmpl.Category)
			}
			if !tmpl.Status.IsValid() {
				return fmt.Errorf("%s[%d]: unknown status %q", key, i, tmpl.Status)
			}
			if tmpl.Title == "" {
				return fmt.Errorf("%s[%d]: title is empty", key, i)
			}
			if tmpl.Status == models.PlanStatusNeedsInput && tmpl.ActionRequired == "" {
				return fmt.Errorf("%s[%d]: needs_input step requires action_required", key, i)
			}
		}
		if !hasData {
			return fmt.Errorf("%s: at least one data_sources step is required", key)
		}
	}
	return nil
}
