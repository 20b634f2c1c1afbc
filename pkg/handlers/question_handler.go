package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxImportSize はアップロードできるファイルの上限です。
const maxImportSize = 10 << 20 // 10MB

// QuestionHandler はサンプル質問カタログのハンドラです。
type QuestionHandler struct {
	catalog *services.QuestionCatalog
	store   *services.TwinStore
	logger  *zap.Logger
}

// NewQuestionHandler は新しいQuestionHandlerを生成します。
func NewQuestionHandler(catalog *services.QuestionCatalog, store *services.TwinStore, logger *zap.Logger) *QuestionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestionHandler{catalog: catalog, store: store, logger: logger}
}

// ListQuestions はサンプル質問の一覧を返します。
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	questions := h.catalog.All()
	c.JSON(http.StatusOK, gin.H{
		"questions": questions,
		"count":     len(questions),
	})
}

// MatchQuestion は自由入力に対応する質問定義とプランのプレビューを返します。
func (h *QuestionHandler) MatchQuestion(c *gin.Context) {
	var req models.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		respondError(c, http.StatusBadRequest, "question は必須です")
		return
	}
	spec, matched := h.catalog.Match(req.Question)
	c.JSON(http.StatusOK, models.MatchResponse{
		Spec:    spec,
		Matched: matched,
		Plan:    h.store.PreviewPlan(spec.Boosts),
	})
}

// ImportQuestions はアップロードされた .xlsx / .csv から質問を取り込みます。
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "ファイルの取得に失敗しました。")
		return
	}
	defer file.Close()

	var specs []models.QuestionSpec
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".xlsx":
		specs, err = services.ParseQuestionsXLSX(file)
	case ".csv":
		specs, err = services.ParseQuestionsCSV(file)
	default:
		respondError(c, http.StatusBadRequest, "サポートされていないファイル形式です。.xlsxまたは.csvをアップロードしてください。")
		return
	}
	if err != nil {
		h.logger.Warn("question import rejected", zap.String("file", header.Filename), zap.Error(err))
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	added := h.catalog.Add(specs...)
	h.logger.Info("questions imported", zap.String("file", header.Filename), zap.Int("count", added))
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"imported": added,
		"total":    len(h.catalog.All()),
		"message":  fmt.Sprintf("%d件の質問を取り込みました", added),
	})
}
