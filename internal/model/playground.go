package model

import "time"

// 消息角色常量
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage 是内存中转写的一条消息。
// 一旦追加即不可变；唯一的例外是流式进行中的助手消息，它在流结束时整体替换。
type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Files     []FileData `json:"files,omitempty"`
	AudioURL  string     `json:"audioUrl,omitempty"`
}

// FileData 描述一个随消息附带的文件。
type FileData struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// LogType 是诊断日志条目的类别标签。
type LogType string

const (
	LogTypeConfig   LogType = "config"
	LogTypeFiles    LogType = "files"
	LogTypeAudio    LogType = "audio"
	LogTypeRequest  LogType = "request"
	LogTypeResponse LogType = "response"
	LogTypeError    LogType = "error"
	LogTypeSystem   LogType = "system"
)

// LogEntry 是一条只追加的诊断日志，只存活在内存中，从不持久化。
type LogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Type      LogType     `json:"type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// ModelConfig 汇总一次生成所需的模型与采样配置，以及能力开关。
type ModelConfig struct {
	Model               string  `json:"model"`
	ModelCategory       string  `json:"modelCategory,omitempty"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"maxTokens"`
	TopP                float64 `json:"topP"`
	Streaming           bool    `json:"streaming"`
	ReasoningEffort     string  `json:"reasoningEffort,omitempty"` // low/medium/high，仅 SupportsReasoning 的模型有效
	SupportsReasoning   bool    `json:"supportsReasoning"`
	SupportsAudio       bool    `json:"supportsAudio"`
	SupportsAudioOutput bool    `json:"supportsAudioOutput"`
	AudioLanguage       string  `json:"audioLanguage,omitempty"`
	AudioInstructions   string  `json:"audioInstructions,omitempty"`
}
