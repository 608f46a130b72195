package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glitchdotcom/WebPutty/backend/internal/store"
)

// StyleCreator 是建页面用的存储切面，只有完整服务端才接它。
type StyleCreator interface {
	Create(ctx context.Context, name, pageURL string) (*store.Style, error)
}

// RegisterAdmin 挂管理面路由。建页面返回 page key 和第一条通道的令牌，
// 编辑页面拿它们初始化会话。
func (h *Handlers) RegisterAdmin(r *gin.Engine, creator StyleCreator) {
	r.POST("/pages", func(c *gin.Context) {
		var req struct {
			Name    string `json:"name"`
			PageURL string `json:"page_url"`
			User    string `json:"user"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		style, err := creator.Create(c.Request.Context(), req.Name, req.PageURL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
			return
		}
		channelID := uuid.NewString()
		token, expires, err := SignChannelToken(style.PageKey, channelID, req.User, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"page_key":   style.PageKey,
			"style_id":   style.ID,
			"channel_id": channelID,
			"token":      token,
			"expires":    expires,
		})
	})
}
