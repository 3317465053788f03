// Package openai provides a client for the hosted model API used by the playground.
// 对话补全、语音转写与语音合成都经由这里，上层不直接接触供应商协议。
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-playground-go/internal/config"
)

// ErrAPIKeyMissing 在未配置 API 凭证时返回，任何网络调用发生之前即失败。
var ErrAPIKeyMissing = errors.New("OpenAI API key not configured")

// Message 表示一条角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params 控制一次生成请求的模型与采样参数。
// ReasoningEffort 仅在非空时随请求下发。
type Params struct {
	Model           string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	ReasoningEffort string
}

// ChunkHandler 在流式模式下按到达顺序同步接收每个文本增量。
type ChunkHandler func(chunk string)

// ErrorHandler 接收流中途发生的传输错误；此时已累积的部分文本仍会返回给调用方。
type ErrorHandler func(err error)

// Client defines the interface for the model API client.
type Client interface {
	// Generate 发起一次阻塞式补全请求，返回完整文本。
	Generate(ctx context.Context, p Params, messages []Message) (string, error)
	// GenerateStream 发起流式补全请求，逐个增量回调 onChunk 并返回累积全文。
	// 流中途失败时通过 onError 上报，已累积文本作为降级结果返回（error 为 nil）；
	// 流建立之前的失败（凭证缺失、连接失败、非 200 响应）以 error 返回。
	GenerateStream(ctx context.Context, p Params, messages []Message, onChunk ChunkHandler, onError ErrorHandler) (string, error)
	// Transcribe 将一段录音转写为文本。
	Transcribe(ctx context.Context, audio []byte, filename string, p TranscriptionParams) (string, error)
	// Speech 将文本合成为语音，返回音频字节。
	Speech(ctx context.Context, input string, p SpeechParams) ([]byte, error)
}

type client struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
}

// NewClient creates a new model API client from the given config.
func NewClient(cfg config.OpenAIConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		// 平台请求时长上限
		timeout = 60 * time.Second
	}
	return &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	Stream          bool      `json:"stream"`
	Temperature     *float64  `json:"temperature,omitempty"`
	TopP            *float64  `json:"top_p,omitempty"`
	MaxTokens       *int      `json:"max_tokens,omitempty"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
}

// streamChunk 只关心文本增量；tool call、角色标记等其它事件类型一律丢弃。
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate 发起非流式补全请求。
func (c *client) Generate(ctx context.Context, p Params, messages []Message) (string, error) {
	resp, err := c.postChat(ctx, p, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var completion chatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to unmarshal chat response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// GenerateStream 发起流式补全请求并逐行解码 SSE 事件。
func (c *client) GenerateStream(ctx context.Context, p Params, messages []Message, onChunk ChunkHandler, onError ErrorHandler) (string, error) {
	resp, err := c.postChat(ctx, p, messages, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var accumulated strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			// 流中途断开：部分文本仍可用，交给调用方降级处理
			streamErr := fmt.Errorf("failed to read from stream: %w", err)
			if accumulated.Len() > 0 {
				if onError != nil {
					onError(streamErr)
				}
				return accumulated.String(), nil
			}
			return "", streamErr
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// 无法解析的事件跳过，不污染文本流
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		accumulated.WriteString(content)
		if onChunk != nil {
			onChunk(content)
		}
	}
	return accumulated.String(), nil
}

// postChat 组装并发送 /chat/completions 请求，校验凭证与响应状态。
func (c *client) postChat(ctx context.Context, p Params, messages []Message, stream bool) (*http.Response, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	reqBody := chatRequest{
		Model:           p.Model,
		Messages:        messages,
		Stream:          stream,
		Temperature:     p.Temperature,
		TopP:            p.TopP,
		MaxTokens:       p.MaxTokens,
		ReasoningEffort: p.ReasoningEffort,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		var envelope apiErrorEnvelope
		if err := json.Unmarshal(bodyBytes, &envelope); err == nil && envelope.Error.Message != "" {
			return nil, fmt.Errorf("chat api error [%d]: %s", resp.StatusCode, envelope.Error.Message)
		}
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}
