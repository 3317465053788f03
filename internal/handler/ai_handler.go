// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"

	"ai-playground-go/internal/config"
	"ai-playground-go/internal/model"
	"ai-playground-go/pkg/log"
	"ai-playground-go/pkg/openai"

	"github.com/gin-gonic/gin"
)

// AIHandler 负责处理模型生成相关的 API 请求。
type AIHandler struct {
	llm openai.Client
}

// NewAIHandler 创建一个新的 AIHandler 实例。
func NewAIHandler(llm openai.Client) *AIHandler {
	return &AIHandler{llm: llm}
}

// GenerateRequest 定义了生成 API 的请求体结构。
// 未提供的采样参数使用服务端配置的默认值。
type GenerateRequest struct {
	Messages        []openai.Message `json:"messages" binding:"required"`
	Model           string           `json:"model"`
	Temperature     *float64         `json:"temperature"`
	TopP            *float64         `json:"topP"`
	MaxTokens       *int             `json:"maxTokens"`
	Stream          *bool            `json:"stream"`
	ReasoningEffort string           `json:"reasoningEffort"`
}

// Generate 处理一次生成请求。
// 流式模式下以 NDJSON 逐行返回 {"text": ...} 增量；任何在首字节之前发生的
// 失败都以统一的 HTTP 500 {"error": ...} 返回，流中途的失败则降级为一行
// {"error": ...} 事件。
func (h *AIHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Generate: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：messages 不能为空"})
		return
	}

	params := openai.Params{
		Model:           req.Model,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	}
	if params.Model == "" {
		params.Model = config.Conf.Playground.DefaultModel
	}

	streaming := config.Conf.Playground.Streaming
	if req.Stream != nil {
		streaming = *req.Stream
	}

	if !streaming {
		text, err := h.llm.Generate(c.Request.Context(), params, req.Messages)
		if err != nil {
			log.Errorf("Generate: model call failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
		return
	}

	// 流式：头只在第一个增量到达时写出，在那之前仍可返回普通的 JSON 错误
	wrote := false
	writeLine := func(payload gin.H) {
		if !wrote {
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			c.Writer.WriteHeader(http.StatusOK)
			wrote = true
		}
		line, err := json.Marshal(payload)
		if err != nil {
			return
		}
		c.Writer.Write(append(line, '\n'))
		c.Writer.Flush()
	}

	_, err := h.llm.GenerateStream(c.Request.Context(), params, req.Messages,
		func(chunk string) {
			writeLine(gin.H{"text": chunk})
		},
		func(streamErr error) {
			log.Errorf("Generate: error during streaming: %v", streamErr)
			writeLine(gin.H{"error": "An error occurred during streaming"})
		})
	if err != nil && !wrote {
		log.Errorf("Generate: model call failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
}

// ListModels 返回按类别分组的可选模型目录与默认配置。
func (h *AIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"catalog": model.ModelCatalog,
			"default": model.DefaultModelConfig(),
		},
	})
}
