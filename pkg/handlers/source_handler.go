package handlers

import (
	"net/http"

	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// SourceHandler はデータソース・ナレッジソース・コードリポジトリの接続操作のハンドラです。
type SourceHandler struct {
	store *services.TwinStore
}

// NewSourceHandler は新しいSourceHandlerを生成します。
func NewSourceHandler(store *services.TwinStore) *SourceHandler {
	return &SourceHandler{store: store}
}

// ListSources は指定種類のソース一覧を返します。
func (h *SourceHandler) ListSources(c *gin.Context) {
	kind, ok := models.ParseSourceKind(c.Param("kind"))
	if !ok {
		respondError(c, http.StatusNotFound, "不明なソース種別です: "+c.Param("kind"))
		return
	}
	sources := h.store.Sources(kind)
	connected := 0
	for _, s := range sources {
		if s.Connected {
			connected++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":      kind,
		"sources":   sources,
		"connected": connected,
	})
}

// ToggleSource はソースの接続状態を切り替えます。
// 存在しないIDの場合は状態を変えずに found=false を返します。
func (h *SourceHandler) ToggleSource(c *gin.Context) {
	kind, ok := models.ParseSourceKind(c.Param("kind"))
	if !ok {
		respondError(c, http.StatusNotFound, "不明なソース種別です: "+c.Param("kind"))
		return
	}

	var (
		src   models.SourceConnection
		found bool
	)
	switch kind {
	case models.SourceKindData:
		src, found = h.store.ToggleDataSource(c.Param("id"))
	case models.SourceKindKnowledge:
		src, found = h.store.ToggleKnowledgeSource(c.Param("id"))
	case models.SourceKindCode:
		src, found = h.store.ToggleCodeRepo(c.Param("id"))
	}

	if !found {
		c.JSON(http.StatusOK, gin.H{"success": true, "found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"found":   true,
		"source":  src,
	})
}
