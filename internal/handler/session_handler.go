package handler

import (
	"errors"
	"net/http"

	"ai-playground-go/internal/model"
	"ai-playground-go/internal/service"
	"ai-playground-go/pkg/log"
	"ai-playground-go/pkg/token"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SessionHandler 负责处理聊天会话相关的 API 请求。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// currentClaims 取出 AuthMiddleware 注入的用户声明。
func currentClaims(c *gin.Context) (*token.CustomClaims, bool) {
	claimsValue, exists := c.Get("claims")
	if !exists {
		return nil, false
	}
	claims, ok := claimsValue.(*token.CustomClaims)
	return claims, ok
}

// ListSessions 返回当前用户的会话列表，最新的在前。
func (h *SessionHandler) ListSessions(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sessions, err := h.sessionService.ListSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		log.Errorf("ListSessions: failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSession 返回一个会话及其全部消息。只有会话归属者可以访问。
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		log.Errorf("GetSession: failed for id %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	if session.UserID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "无权访问该会话"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// CreateSessionRequest 定义了创建会话 API 的请求体结构。
type CreateSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateSession 创建一个新会话并返回完整实体，ID 由服务端生成。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：title 不能为空"})
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), claims.UserID, req.Title)
	if err != nil {
		log.Errorf("CreateSession: failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// AppendMessageRequest 定义了追加消息 API 的请求体结构。
type AppendMessageRequest struct {
	Role     string `json:"role" binding:"required"`
	Content  string `json:"content" binding:"required"`
	AudioURL string `json:"audioUrl"`
}

// AppendMessage 向会话追加一条消息。只有会话归属者可以写入。
func (h *SessionHandler) AppendMessage(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：role 和 content 不能为空"})
		return
	}

	sessionID := c.Param("id")
	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	if session.UserID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "无权访问该会话"})
		return
	}

	message := model.ChatMessage{
		Role:     req.Role,
		Content:  req.Content,
		AudioURL: req.AudioURL,
	}
	if err := h.sessionService.AppendMessage(c.Request.Context(), sessionID, message); err != nil {
		log.Errorf("AppendMessage: failed for session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// GetCurrentSession 返回用户最近活跃的会话 ID，没有则返回空串。
func (h *SessionHandler) GetCurrentSession(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	sessionID, err := h.sessionService.CurrentSessionID(c.Request.Context(), claims.UserID)
	if err != nil {
		log.Errorf("GetCurrentSession: failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
}
