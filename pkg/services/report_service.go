package services

import (
	"fmt"
	"strings"

	"customer-twin-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

const (
	historySheet = "History"
	vectorSheet  = "Vectors"
)

// ReportService は Twin の状態をExcelレポートとして出力します。
type ReportService struct{}

// NewReportService は新しいReportServiceを生成します。
func NewReportService() *ReportService {
	return &ReportService{}
}

// HistoryWorkbook は履歴シートと現在ベクトルのシートを持つワークブックを生成します。
// 呼び出し側で Close する必要があります。
func (r *ReportService) HistoryWorkbook(state models.TwinState) (*excelize.File, error) {
	f := excelize.NewFile()

	// 既定の Sheet1 を履歴シートに改名
	if err := f.SetSheetName(f.GetSheetName(0), historySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("シート名の設定に失敗: %w", err)
	}
	if err := writeHistorySheet(f, state.History); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.NewSheet(vectorSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("シートの作成に失敗: %w", err)
	}
	if err := writeVectorSheet(f, state.Vectors); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// HistoryHeader は履歴シートのヘッダー行を返します。
func HistoryHeader() []string {
	header := []string{"ID", "Timestamp", "Question", "Answer", "Sources"}
	for _, key := range models.VectorKeys {
		header = append(header, string(key)+" before", string(key)+" after", string(key)+" gain")
	}
	return header
}

func writeHistorySheet(f *excelize.File, history []models.HistoryEntry) error {
	if err := setRow(f, historySheet, 1, toCells(HistoryHeader())); err != nil {
		return err
	}
	for i, h := range history {
		row := []interface{}{h.ID, h.Timestamp, h.Question, h.Answer, strings.Join(h.Sources, "; ")}
		for _, key := range models.VectorKeys {
			before, _ := h.Before.Get(key)
			after, _ := h.After.Get(key)
			row = append(row, before.Value, after.Value, after.Value-before.Value)
		}
		if err := setRow(f, historySheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeVectorSheet(f *excelize.File, vectors models.VectorSet) error {
	if err := setRow(f, vectorSheet, 1, []interface{}{"Dimension", "Label", "Value", "Max", "Percent"}); err != nil {
		return err
	}
	row := 2
	var err error
	vectors.Each(func(key models.VectorKey, v models.Vector) {
		if err != nil {
			return
		}
		err = setRow(f, vectorSheet, row, []interface{}{string(key), v.Label, v.Value, v.Max, v.Percent()})
		row++
	})
	return err
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cellName, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("セル座標の変換に失敗: %w", err)
	}
	if err := f.SetSheetRow(sheet, cellName, &values); err != nil {
		return fmt.Errorf("%s シートの %d 行目の書き込みに失敗: %w", sheet, row, err)
	}
	return nil
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
