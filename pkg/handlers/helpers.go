package handlers

import (
	"fmt"

	"customer-twin-api/pkg/models"

	"github.com/gin-gonic/gin"
)

// respondError はエラーレスポンスを返します。
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}

// validateBoosts はリクエストのブースト値を検証します。
func validateBoosts(boosts map[models.VectorKey]int) error {
	for key, boost := range boosts {
		if !key.IsValid() {
			return fmt.Errorf("不明な次元です: %s", key)
		}
		if boost < 0 {
			return fmt.Errorf("%s のブースト値は0以上である必要があります: %d", key, boost)
		}
	}
	return nil
}
