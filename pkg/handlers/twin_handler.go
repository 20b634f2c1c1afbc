package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TwinHandler は Customer Twin の状態操作のハンドラです。
type TwinHandler struct {
	store   *services.TwinStore
	catalog *services.QuestionCatalog
	reports *services.ReportService
	logger  *zap.Logger

	// background はバックグラウンドで処理中の質問を追跡します。
	background sync.WaitGroup
}

// NewTwinHandler は新しいTwinHandlerを生成します。
func NewTwinHandler(store *services.TwinStore, catalog *services.QuestionCatalog, reports *services.ReportService, logger *zap.Logger) *TwinHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwinHandler{
		store:   store,
		catalog: catalog,
		reports: reports,
		logger:  logger,
	}
}

// Wait はバックグラウンドで処理中の質問がすべて完了するまで待機します。
func (h *TwinHandler) Wait() {
	h.background.Wait()
}

// GetState はストア全体の状態を返します。
func (h *TwinHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.State())
}

// GetVectors はベクトルを返します。history_id を指定した場合はその履歴の処理後スナップショットを返します。
func (h *TwinHandler) GetVectors(c *gin.Context) {
	id := c.Query("history_id")
	c.JSON(http.StatusOK, gin.H{
		"history_id": id,
		"vectors":    h.store.GetVectorsForHistoryEntry(id),
	})
}

// Ask は質問を処理します。
// boosts を省略した場合はカタログとの照合で質問定義を決定します。
// ?async=true の場合は処理をバックグラウンドで開始して 202 を返します。
func (h *TwinHandler) Ask(c *gin.Context) {
	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "question は必須です")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		respondError(c, http.StatusBadRequest, "question は必須です")
		return
	}
	if err := validateBoosts(req.Boosts); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	spec, matched := h.resolveSpec(req)

	if c.Query("async") == "true" {
		h.background.Add(1)
		go func() {
			defer h.background.Done()
			if _, err := h.store.AskQuestion(context.Background(), spec); err != nil {
				h.logger.Error("background question failed", zap.String("question", spec.Question), zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"success":  true,
			"accepted": true,
			"matched":  matched,
			"spec":     spec,
			"plan":     h.store.PreviewPlan(spec.Boosts),
		})
		return
	}

	result, err := h.store.AskQuestion(c.Request.Context(), spec)
	if err != nil {
		h.logger.Warn("question cancelled while waiting", zap.String("question", spec.Question), zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "処理待ちの間にリクエストがキャンセルされました")
		return
	}

	c.JSON(http.StatusOK, models.AskResponse{
		Success: true,
		Entry:   result.Entry,
		Gains:   result.Gains,
		Answer:  result.Entry.Answer,
	})
}

// resolveSpec はリクエストから質問定義を組み立てます。
func (h *TwinHandler) resolveSpec(req models.AskRequest) (models.QuestionSpec, bool) {
	if req.Boosts == nil {
		return h.catalog.Match(req.Question)
	}
	spec := models.QuestionSpec{
		Question: req.Question,
		Boosts:   req.Boosts,
		Sources:  req.Sources,
		Answer:   req.Answer,
	}
	if spec.Answer == "" {
		spec.Answer = h.catalog.AnswerFor(req.Question)
	}
	_, matched := h.catalog.Find(req.Question)
	return spec.Clone(), matched
}

// Reset は Twin を初期状態に戻します。
func (h *TwinHandler) Reset(c *gin.Context) {
	h.store.ResetTwin()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vectors": h.store.Vectors(),
	})
}

// GetPlan は現在のプランを返します。
func (h *TwinHandler) GetPlan(c *gin.Context) {
	plan, ok := h.store.Plan()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"plan": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":        plan,
		"needs_input": plan.NeedsInput(),
	})
}

// GetRecentGains は直近の質問での増分を返します。
func (h *TwinHandler) GetRecentGains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"recent_gains":  h.store.RecentGains(),
		"is_processing": h.store.IsProcessing(),
	})
}

// GetHistory は履歴を新しい順に返します。
func (h *TwinHandler) GetHistory(c *gin.Context) {
	history := h.store.History()
	c.JSON(http.StatusOK, gin.H{
		"history":             history,
		"count":               len(history),
		"selected_history_id": h.store.SelectedHistoryID(),
	})
}

// GetHistoryEntry は指定IDの履歴を返します。
func (h *TwinHandler) GetHistoryEntry(c *gin.Context) {
	entry, ok := h.store.HistoryEntry(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "履歴が見つかりません")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// SelectHistory は参照する履歴を選択します。空のIDで選択を解除します。
func (h *TwinHandler) SelectHistory(c *gin.Context) {
	var req models.SelectHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "リクエストボディが不正です")
		return
	}
	h.store.SelectHistoryEntry(req.ID)
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"selected_history_id": req.ID,
		"vectors":             h.store.GetVectorsForHistoryEntry(req.ID),
	})
}

// ExportHistory は履歴をExcelファイルとしてダウンロードさせます。
func (h *TwinHandler) ExportHistory(c *gin.Context) {
	f, err := h.reports.HistoryWorkbook(h.store.State())
	if err != nil {
		h.logger.Error("history export failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "レポートの生成に失敗しました")
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		h.logger.Error("history export failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "レポートの書き出しに失敗しました")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="twin-history.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// StreamEvents は状態の変更を Server-Sent Events で配信します。
func (h *TwinHandler) StreamEvents(c *gin.Context) {
	ch, cancel := h.store.Subscribe(4)
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case st, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("state", st)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
