package handler

import (
	"io"
	"net/http"

	"ai-playground-go/internal/model"
	"ai-playground-go/internal/service"
	"ai-playground-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 单次录音上传的大小上限
const maxAudioBytes = 25 << 20

// AudioHandler 负责处理语音转写与语音合成的 API 请求。
type AudioHandler struct {
	audioService service.AudioService
}

// NewAudioHandler 创建一个新的 AudioHandler 实例。
func NewAudioHandler(audioService service.AudioService) *AudioHandler {
	return &AudioHandler{audioService: audioService}
}

// Transcribe 接收一段录音并返回转写文本。
// 录音以 multipart 表单的 file 字段上传，language 字段可选。
func (h *AudioHandler) Transcribe(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 file 字段"})
		return
	}
	if fileHeader.Size > maxAudioBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "录音文件过大"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("Transcribe: failed to open uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		log.Errorf("Transcribe: failed to read uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}

	cfg := model.DefaultModelConfig()
	cfg.AudioLanguage = c.PostForm("language")

	text, err := h.audioService.Transcribe(c.Request.Context(), audio, fileHeader.Filename, cfg)
	if err != nil {
		log.Errorf("Transcribe: transcription failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

// SpeechRequest 定义了语音合成 API 的请求体结构。
type SpeechRequest struct {
	Input        string `json:"input" binding:"required"`
	Instructions string `json:"instructions"`
}

// Speech 为一段文本合成语音，返回可播放的预签名 URL。
func (h *AudioHandler) Speech(c *gin.Context) {
	var req SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：input 不能为空"})
		return
	}

	cfg := model.DefaultModelConfig()
	cfg.AudioInstructions = req.Instructions

	audioURL, err := h.audioService.Synthesize(c.Request.Context(), req.Input, cfg)
	if err != nil {
		log.Errorf("Speech: synthesis failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio": audioURL})
}
