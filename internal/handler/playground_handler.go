package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"ai-playground-go/internal/model"
	"ai-playground-go/internal/service"
	"ai-playground-go/pkg/log"
	"ai-playground-go/pkg/openai"
	"ai-playground-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// PlaygroundHandler 负责处理 WebSocket 交互通道。
// 每个用户持有一个长生命周期的会话控制器，连接只是它的一个订阅视图。
type PlaygroundHandler struct {
	llm            openai.Client
	sessionService service.SessionService
	audioService   service.AudioService
	jwtManager     *token.JWTManager

	mu          sync.Mutex
	playgrounds map[uint]*service.Playground
}

// NewPlaygroundHandler 创建一个新的 PlaygroundHandler。
func NewPlaygroundHandler(llm openai.Client, sessionService service.SessionService, audioService service.AudioService, jwtManager *token.JWTManager) *PlaygroundHandler {
	return &PlaygroundHandler{
		llm:            llm,
		sessionService: sessionService,
		audioService:   audioService,
		jwtManager:     jwtManager,
		playgrounds:    make(map[uint]*service.Playground),
	}
}

// playgroundFor 返回用户的会话控制器，第一次访问时创建。
func (h *PlaygroundHandler) playgroundFor(userID uint) *service.Playground {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.playgrounds[userID]; ok {
		return p
	}
	p := service.NewPlayground(h.llm, h.sessionService, h.audioService, userID, model.DefaultModelConfig())
	h.playgrounds[userID] = p
	return p
}

// clientFrame 是前端经 WebSocket 发来的一条指令。
type clientFrame struct {
	Type      string             `json:"type"` // send / audio / config / files / clear / load
	Content   string             `json:"content,omitempty"`
	Audio     string             `json:"audio,omitempty"` // base64 编码的录音
	Filename  string             `json:"filename,omitempty"`
	Config    *model.ModelConfig `json:"config,omitempty"`
	Files     []model.FileData   `json:"files,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *PlaygroundHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	playground := h.playgroundFor(claims.UserID)
	events, cancel := playground.Subscribe()
	defer cancel()

	// WriteJSON 不是并发安全的，事件转发与指令应答共用一把写锁
	var writeMu sync.Mutex
	writeEvent := func(ev service.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(ev)
	}

	// 连接建立即下发当前转写，断线重连后前端能恢复现场
	if err := writeEvent(service.Event{Type: service.EventTranscript, Messages: playground.Messages()}); err != nil {
		return
	}

	// 事件转发协程：控制器的每次变化都推给这个连接
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := writeEvent(ev); err != nil {
				log.Warnf("向 WebSocket 写入事件失败: %v", err)
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			writeEvent(service.Event{Type: service.EventNotification, Notification: "无法解析的指令"})
			continue
		}

		switch frame.Type {
		case "send":
			if len(frame.Files) > 0 {
				playground.AttachFiles(frame.Files)
			}
			if err := playground.Send(c.Request.Context(), frame.Content); err != nil {
				if errors.Is(err, service.ErrBusy) {
					writeEvent(service.Event{Type: service.EventNotification, Notification: "上一条消息仍在处理中"})
				} else {
					log.Errorf("处理发送指令失败: %v", err)
					writeEvent(service.Event{Type: service.EventNotification, Notification: "发送失败，请稍后重试"})
				}
			}
		case "audio":
			audio, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				writeEvent(service.Event{Type: service.EventNotification, Notification: "无法解码的录音数据"})
				continue
			}
			if err := playground.HandleAudioRecorded(c.Request.Context(), audio, frame.Filename); err != nil {
				log.Errorf("处理录音指令失败: %v", err)
			}
		case "config":
			if frame.Config != nil {
				playground.UpdateModelConfig(*frame.Config)
			}
		case "files":
			playground.AttachFiles(frame.Files)
		case "clear":
			playground.Clear()
		case "load":
			if err := playground.LoadSession(c.Request.Context(), frame.SessionID); err != nil {
				log.Errorf("加载会话失败: %v", err)
				writeEvent(service.Event{Type: service.EventNotification, Notification: "加载会话失败"})
			}
		default:
			writeEvent(service.Event{Type: service.EventNotification, Notification: "未知的指令类型"})
		}
	}

	cancel()
	<-done
}
