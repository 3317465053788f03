package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ai-playground-go/internal/model"
	"ai-playground-go/pkg/log"
	"ai-playground-go/pkg/openai"
)

// State 是会话控制器的运行状态。
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateWaiting
	StateFinalizing
	StateError
)

// String 返回状态的前台可读名称。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateWaiting:
		return "waiting"
	case StateFinalizing:
		return "finalizing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrBusy 表示已有一个发送周期在进行中，新的发送被拒绝。
var ErrBusy = errors.New("a send cycle is already in flight")

// EventType 是推送给订阅者的事件类别。
type EventType string

const (
	EventState        EventType = "state"
	EventChunk        EventType = "chunk"
	EventTranscript   EventType = "transcript"
	EventSession      EventType = "session"
	EventNotification EventType = "notification"
	EventLog          EventType = "log"
)

// Event 是控制器推送给订阅者（如 WebSocket 连接）的一次增量更新。
type Event struct {
	Type         EventType           `json:"type"`
	State        string              `json:"state,omitempty"`
	Chunk        string              `json:"chunk,omitempty"`
	StreamedText string              `json:"streamedText,omitempty"`
	Messages     []model.ChatMessage `json:"messages,omitempty"`
	SessionID    string              `json:"sessionId,omitempty"`
	Notification string              `json:"notification,omitempty"`
	Log          *model.LogEntry     `json:"log,omitempty"`
}

// Playground 是单个用户的会话控制器。
// 它串起模型客户端、会话持久化和音频旁路，并把每一步的变化广播给订阅者。
// 同一时刻只允许一个发送周期在进行中。
type Playground struct {
	llm      openai.Client
	sessions SessionService // 为 nil 时跳过持久化
	audio    AudioService   // 为 nil 时跳过音频旁路
	userID   uint

	mu           sync.Mutex
	state        State
	cfg          model.ModelConfig
	messages     []model.ChatMessage
	logs         []model.LogEntry
	pendingFiles []model.FileData
	streamedText string
	sessionID    string

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]chan Event
}

// NewPlayground 创建一个新的会话控制器。
func NewPlayground(llm openai.Client, sessions SessionService, audio AudioService, userID uint, cfg model.ModelConfig) *Playground {
	return &Playground{
		llm:         llm,
		sessions:    sessions,
		audio:       audio,
		userID:      userID,
		cfg:         cfg,
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe 注册一个事件订阅者，返回事件通道和取消函数。
// 通道带缓冲；订阅者消费过慢时事件会被丢弃而不是阻塞控制器。
func (p *Playground) Subscribe() (<-chan Event, func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 256)
	p.subscribers[id] = ch

	cancel := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if _, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// State 返回控制器当前状态。
func (p *Playground) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SessionID 返回当前绑定的会话 ID，尚未创建会话时为空串。
func (p *Playground) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Messages 返回转写的一份拷贝。
func (p *Playground) Messages() []model.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Logs 返回诊断日志的一份拷贝。日志只存活在内存中。
func (p *Playground) Logs() []model.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	logs := make([]model.LogEntry, len(p.logs))
	copy(logs, p.logs)
	return logs
}

// ModelConfig 返回当前的模型配置。
func (p *Playground) ModelConfig() model.ModelConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateModelConfig 更新模型配置。能力开关以目录中的定义为准。
func (p *Playground) UpdateModelConfig(cfg model.ModelConfig) {
	if info, category, ok := model.FindModel(cfg.Model); ok {
		cfg.ModelCategory = category
		cfg.SupportsReasoning = info.SupportsReasoning
		cfg.SupportsAudio = info.SupportsAudio
		cfg.SupportsAudioOutput = info.SupportsAudioOutput
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	p.addLog(model.LogTypeConfig, "Model configuration updated", cfg)
}

// AttachFiles 暂存一批文件，随下一条用户消息一起发送。
func (p *Playground) AttachFiles(files []model.FileData) {
	if len(files) == 0 {
		return
	}
	p.mu.Lock()
	p.pendingFiles = append(p.pendingFiles, files...)
	p.mu.Unlock()
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	p.addLog(model.LogTypeFiles, "Files attached", names)
}

// Clear 清空转写与待发附件。诊断日志和当前会话绑定保留，
// 之后的消息继续写入同一个会话。运行状态不受影响：进行中的
// 发送周期照常走完，单周期在飞的约束不会被绕开。
func (p *Playground) Clear() {
	p.mu.Lock()
	p.messages = nil
	p.streamedText = ""
	p.pendingFiles = nil
	p.mu.Unlock()

	p.addLog(model.LogTypeSystem, "Conversation cleared", nil)
	p.publish(Event{Type: EventTranscript, Messages: []model.ChatMessage{}})
}

// LoadSession 加载一个历史会话到转写中。
func (p *Playground) LoadSession(ctx context.Context, sessionID string) error {
	if p.sessions == nil {
		return errors.New("session store is not configured")
	}
	history, err := p.sessions.GetHistory(ctx, sessionID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sessionID = sessionID
	p.messages = history
	msgs := p.snapshotLocked()
	p.mu.Unlock()

	p.addLog(model.LogTypeSystem, "Loaded chat session", sessionID)
	p.publish(Event{Type: EventSession, SessionID: sessionID})
	p.publish(Event{Type: EventTranscript, Messages: msgs})
	return nil
}

// Send 执行一个完整的发送周期：追加用户消息、调用模型、定稿助手消息。
// 内容为空且没有待发文件时什么都不做；已有周期在进行中时返回 ErrBusy。
// 模型调用失败不作为 error 返回，而是转化为转写中的一条系统消息。
func (p *Playground) Send(ctx context.Context, content string) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(content) == "" && len(p.pendingFiles) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.state = StateSending
	files := p.pendingFiles
	p.pendingFiles = nil
	cfg := p.cfg
	history := make([]openai.Message, 0, len(p.messages)+1)
	for _, m := range p.messages {
		history = append(history, openai.Message{Role: m.Role, Content: m.Content})
	}
	p.mu.Unlock()
	p.publish(Event{Type: EventState, State: StateSending.String()})

	// 首条消息触发会话创建；失败只降级为不持久化，不中断发送
	p.ensureSession(ctx, content)

	// 乐观追加：用户消息先上转写，再等模型响应
	userMsg := model.ChatMessage{
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		Files:     files,
	}
	p.appendMessage(userMsg)
	p.persistMessage(userMsg)
	p.addLog(model.LogTypeRequest, "Sending request to model API", map[string]interface{}{
		"model":     cfg.Model,
		"streaming": cfg.Streaming,
		"messages":  len(history) + 1,
	})

	history = append(history, openai.Message{Role: model.RoleUser, Content: content})
	params := generationParams(cfg)

	var text string
	var err error
	if cfg.Streaming {
		p.setState(StateStreaming)
		text, err = p.llm.GenerateStream(ctx, params, history, p.onChunk, func(streamErr error) {
			// 流中途断开：保留已累积的部分内容，只记日志和提示
			p.addLog(model.LogTypeError, "Error during streaming", streamErr.Error())
			p.publish(Event{Type: EventNotification, Notification: "Streaming interrupted, partial response kept"})
		})
	} else {
		p.setState(StateWaiting)
		text, err = p.llm.Generate(ctx, params, history)
	}
	if err != nil {
		p.failSend(err)
		return nil
	}

	p.finalize(ctx, cfg, text)
	return nil
}

// HandleAudioRecorded 处理一段录音：转写成文本后走正常的发送周期。
func (p *Playground) HandleAudioRecorded(ctx context.Context, audio []byte, filename string) error {
	if len(audio) == 0 {
		return errors.New("empty audio recording")
	}
	if p.audio == nil {
		return errors.New("audio input is not configured")
	}

	p.addLog(model.LogTypeAudio, "Processing audio recording", map[string]interface{}{"bytes": len(audio)})
	text, err := p.audio.Transcribe(ctx, audio, filename, p.ModelConfig())
	if err != nil {
		p.addLog(model.LogTypeError, "Error processing audio", err.Error())
		p.publish(Event{Type: EventNotification, Notification: "Audio Processing Error: failed to process audio recording"})
		return err
	}
	p.addLog(model.LogTypeAudio, "Audio transcription completed", map[string]interface{}{"text": text})

	// 转写文本只经由 Send 上转写一次
	return p.Send(ctx, text)
}

// ensureSession 在首条消息时惰性创建会话，标题取内容前 30 个字符。
func (p *Playground) ensureSession(ctx context.Context, content string) {
	if p.sessions == nil || p.SessionID() != "" {
		return
	}
	session, err := p.sessions.CreateSession(ctx, p.userID, truncateTitle(content, 30))
	if err != nil {
		log.Errorf("failed to create chat session: %v", err)
		p.addLog(model.LogTypeError, "Error creating chat session", err.Error())
		return
	}
	p.mu.Lock()
	p.sessionID = session.ID
	p.mu.Unlock()
	p.publish(Event{Type: EventSession, SessionID: session.ID})
}

// onChunk 严格追加一个流式分片并广播。
func (p *Playground) onChunk(chunk string) {
	p.mu.Lock()
	p.streamedText += chunk
	text := p.streamedText
	p.mu.Unlock()
	p.publish(Event{Type: EventChunk, Chunk: chunk, StreamedText: text})
}

// finalize 把本轮响应定稿为一条助手消息。
// 完整文本为空时回退到流式累积的部分内容。音频输出是旁路，失败只记日志。
func (p *Playground) finalize(ctx context.Context, cfg model.ModelConfig, text string) {
	p.setState(StateFinalizing)

	p.mu.Lock()
	if text == "" {
		text = p.streamedText
	}
	p.mu.Unlock()

	asstMsg := model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
	}
	if cfg.SupportsAudio && cfg.SupportsAudioOutput && p.audio != nil && text != "" {
		audioURL, err := p.audio.Synthesize(ctx, text, cfg)
		if err != nil {
			p.addLog(model.LogTypeError, "Error generating audio response", err.Error())
		} else {
			asstMsg.AudioURL = audioURL
		}
	}

	// 原子转换：追加定稿消息的同时清空流式累积器
	p.mu.Lock()
	p.messages = append(p.messages, asstMsg)
	p.streamedText = ""
	p.state = StateIdle
	msgs := p.snapshotLocked()
	p.mu.Unlock()

	p.addLog(model.LogTypeResponse, "Received response from model API", map[string]interface{}{
		"chars": len(text),
	})
	p.publish(Event{Type: EventTranscript, Messages: msgs})
	p.publishState(StateIdle)

	p.persistMessage(asstMsg)
}

// failSend 把一次失败的模型调用转化为转写中的系统消息，随后回到 idle。
func (p *Playground) failSend(err error) {
	p.addLog(model.LogTypeError, "Error calling model API", err.Error())
	p.publish(Event{Type: EventNotification, Notification: "API Error: " + err.Error()})

	sysMsg := model.ChatMessage{
		Role:      model.RoleSystem,
		Content:   "Error: " + err.Error(),
		Timestamp: time.Now(),
	}
	p.mu.Lock()
	p.state = StateError
	p.messages = append(p.messages, sysMsg)
	p.streamedText = ""
	msgs := p.snapshotLocked()
	p.mu.Unlock()

	p.publishState(StateError)
	p.publish(Event{Type: EventTranscript, Messages: msgs})
	p.persistMessage(sysMsg)

	p.setState(StateIdle)
}

// appendMessage 向转写追加一条消息并广播最新转写。
func (p *Playground) appendMessage(msg model.ChatMessage) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	msgs := p.snapshotLocked()
	p.mu.Unlock()
	p.publish(Event{Type: EventTranscript, Messages: msgs})
}

// persistMessage 尽力而为地持久化一条消息，失败只记日志。
// 使用独立的 context，请求取消不应丢失已定稿的消息。
func (p *Playground) persistMessage(msg model.ChatMessage) {
	sid := p.SessionID()
	if p.sessions == nil || sid == "" {
		return
	}
	if err := p.sessions.AppendMessage(context.Background(), sid, msg); err != nil {
		log.Errorf("failed to persist %s message: %v", msg.Role, err)
		p.addLog(model.LogTypeError, "Error saving message", err.Error())
	}
}

func (p *Playground) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.publishState(s)
}

func (p *Playground) publishState(s State) {
	p.publish(Event{Type: EventState, State: s.String()})
}

// addLog 追加一条诊断日志并广播。
func (p *Playground) addLog(t model.LogType, message string, details interface{}) {
	entry := model.LogEntry{
		Timestamp: time.Now(),
		Type:      t,
		Message:   message,
		Details:   details,
	}
	p.mu.Lock()
	p.logs = append(p.logs, entry)
	p.mu.Unlock()
	p.publish(Event{Type: EventLog, Log: &entry})
}

// publish 把事件广播给所有订阅者，慢订阅者的事件被丢弃。
func (p *Playground) publish(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warnf("playground subscriber %d lagging, event dropped", id)
		}
	}
}

func (p *Playground) snapshotLocked() []model.ChatMessage {
	msgs := make([]model.ChatMessage, len(p.messages))
	copy(msgs, p.messages)
	return msgs
}

// truncateTitle 截断会话标题，按字符（rune）计数以免截断多字节字符。
func truncateTitle(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}

// generationParams 把前台模型配置映射为一次生成请求的参数。
// 推理力度只对支持推理的模型下发。
func generationParams(cfg model.ModelConfig) openai.Params {
	params := openai.Params{Model: cfg.Model}
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		params.Temperature = &t
	}
	if cfg.TopP != 0 {
		tp := cfg.TopP
		params.TopP = &tp
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		params.MaxTokens = &m
	}
	if cfg.SupportsReasoning && cfg.ReasoningEffort != "" {
		params.ReasoningEffort = cfg.ReasoningEffort
	}
	return params
}
