package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"customer-twin-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

// matchPrefixLength は自由入力とカタログを照合するときに使う先頭文字数です。
const matchPrefixLength = 20

// QuestionCatalog はサンプル質問と自由入力時のフォールバックを管理します。
type QuestionCatalog struct {
	mu             sync.RWMutex
	questions      []models.QuestionSpec
	fallback       models.QuestionSpec
	fallbackAnswer string
}

// NewQuestionCatalog は新しい QuestionCatalog を生成します。
// fallback は自由入力がどの質問にも一致しない場合のブースト・ソース・回答の雛形です。
func NewQuestionCatalog(questions []models.QuestionSpec, fallback models.QuestionSpec, fallbackAnswer string) *QuestionCatalog {
	c := &QuestionCatalog{
		fallback:       fallback.Clone(),
		fallbackAnswer: fallbackAnswer,
	}
	for _, q := range questions {
		c.questions = append(c.questions, q.Clone())
	}
	return c
}

// All はカタログの質問をすべて返します。
func (c *QuestionCatalog) All() []models.QuestionSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.QuestionSpec, len(c.questions))
	for i, q := range c.questions {
		out[i] = q.Clone()
	}
	return out
}

// Find は質問文が完全一致する定義を返します。
func (c *QuestionCatalog) Find(question string) (models.QuestionSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, q := range c.questions {
		if q.Question == question {
			return q.Clone(), true
		}
	}
	return models.QuestionSpec{}, false
}

// Match は自由入力に対応する質問定義を返します。
// 入力の先頭20文字（小文字化）を含むカタログの質問があればそれを返し、
// なければ入力文をそのまま質問にしたフォールバック定義を返します。
// 2番目の戻り値はカタログに一致したかどうかです。
func (c *QuestionCatalog) Match(input string) (models.QuestionSpec, bool) {
	input = strings.TrimSpace(input)
	needle := strings.ToLower(input)
	if r := []rune(needle); len(r) > matchPrefixLength {
		needle = string(r[:matchPrefixLength])
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if needle != "" {
		for _, q := range c.questions {
			if strings.Contains(strings.ToLower(q.Question), needle) {
				return q.Clone(), true
			}
		}
	}

	spec := c.fallback.Clone()
	spec.Question = input
	return spec, false
}

// AnswerFor は質問に対応する回答を返します。カタログにない場合は汎用の回答を返します。
func (c *QuestionCatalog) AnswerFor(question string) string {
	if q, ok := c.Find(question); ok && q.Answer != "" {
		return q.Answer
	}
	return c.fallbackAnswer
}

// Add は質問をカタログに追加します。同じ質問文がある場合は置き換えます。
// 追加または置き換えた件数を返します。
func (c *QuestionCatalog) Add(specs ...models.QuestionSpec) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, spec := range specs {
		if strings.TrimSpace(spec.Question) == "" {
			continue
		}
		replaced := false
		for i := range c.questions {
			if c.questions[i].Question == spec.Question {
				c.questions[i] = spec.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			c.questions = append(c.questions, spec.Clone())
		}
		n++
	}
	return n
}

// ParseQuestionsXLSX はExcelファイルの先頭シートから質問定義を読み込みます。
func ParseQuestionsXLSX(r io.Reader) ([]models.QuestionSpec, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("Excelファイルの読み込みに失敗: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("Excelシートの行取得に失敗: %w", err)
	}
	return ParseQuestionRows(rows)
}

// ParseQuestionsCSV はCSVから質問定義を読み込みます。
func ParseQuestionsCSV(r io.Reader) ([]models.QuestionSpec, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSVファイルの解析に失敗: %w", err)
	}
	return ParseQuestionRows(rows)
}

// ParseQuestionRows はヘッダー行付きの表から質問定義を組み立てます。
// 列は question（必須）、各次元キー、sources（";"区切り）、answer を認識します。
// question が空の行は読み飛ばします。
func ParseQuestionRows(rows [][]string) ([]models.QuestionSpec, error) {
	if len(rows) < 2 { // ヘッダー + 最低1行
		return nil, fmt.Errorf("ヘッダー行と少なくとも1行のデータが必要です")
	}

	header := rows[0]
	questionIdx := findColumn(header, "question", "質問")
	if questionIdx == -1 {
		return nil, fmt.Errorf("question 列が見つかりません: %v", header)
	}
	sourcesIdx := findColumn(header, "sources", "ソース")
	answerIdx := findColumn(header, "answer", "回答")
	boostIdx := make(map[models.VectorKey]int)
	for _, key := range models.VectorKeys {
		if i := findColumn(header, string(key)); i != -1 {
			boostIdx[key] = i
		}
	}

	var specs []models.QuestionSpec
	for n, row := range rows[1:] {
		line := n + 2
		question := strings.TrimSpace(cell(row, questionIdx))
		if question == "" {
			continue
		}

		spec := models.QuestionSpec{
			Question: question,
			Boosts:   make(map[models.VectorKey]int),
			Sources:  []string{},
			Answer:   strings.TrimSpace(cell(row, answerIdx)),
		}
		for _, key := range models.VectorKeys {
			idx, ok := boostIdx[key]
			if !ok {
				continue
			}
			raw := strings.TrimSpace(cell(row, idx))
			if raw == "" {
				continue
			}
			boost, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%d行目: %s の値 %q が数値ではありません", line, key, raw)
			}
			if boost < 0 {
				return nil, fmt.Errorf("%d行目: %s の値 %d は負数です", line, key, boost)
			}
			if boost > 0 {
				spec.Boosts[key] = boost
			}
		}
		for _, src := range strings.Split(cell(row, sourcesIdx), ";") {
			if src = strings.TrimSpace(src); src != "" {
				spec.Sources = append(spec.Sources, src)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// findColumn はヘッダーから候補名に一致する列を探します。
func findColumn(header []string, candidates ...string) int {
	for _, candidate := range candidates {
		for i, item := range header {
			if strings.EqualFold(strings.TrimSpace(item), candidate) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
