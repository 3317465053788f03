package handler

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"ai-playground-go/internal/model"
	"ai-playground-go/internal/service"
	"ai-playground-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 单个附件的大小上限
const maxFileBytes = 50 << 20

// FileHandler 负责处理聊天附件的上传。
// 附件写入对象存储，随消息携带的是描述元数据与预签名 URL。
type FileHandler struct {
	store  service.ObjectStore
	urlTTL time.Duration
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(store service.ObjectStore) *FileHandler {
	return &FileHandler{store: store, urlTTL: 24 * time.Hour}
}

// Upload 接收 multipart 表单中 files 字段下的一批文件，逐个写入对象存储。
func (h *FileHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 multipart 表单"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 files 字段"})
		return
	}

	uploaded := make([]model.FileData, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > maxFileBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("文件 %s 过大", fh.Filename)})
			return
		}

		file, err := fh.Open()
		if err != nil {
			log.Errorf("Upload: failed to open %s: %v", fh.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			log.Errorf("Upload: failed to read %s: %v", fh.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
			return
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		// 对象名带随机前缀，避免同名文件互相覆盖
		objectName := fmt.Sprintf("uploads/%s%s", uuid.NewString(), filepath.Ext(fh.Filename))
		if err := h.store.Put(c.Request.Context(), objectName, data, contentType); err != nil {
			log.Errorf("Upload: failed to store %s: %v", fh.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "文件存储失败"})
			return
		}
		fileURL, err := h.store.PresignedURL(objectName, h.urlTTL)
		if err != nil {
			log.Errorf("Upload: failed to presign %s: %v", objectName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "文件存储失败"})
			return
		}

		uploaded = append(uploaded, model.FileData{
			Name: fh.Filename,
			Type: contentType,
			Size: fh.Size,
			URL:  fileURL,
		})
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": uploaded})
}
