package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-playground-go/internal/model"
	"ai-playground-go/pkg/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 是 openai.Client 的测试替身。
type fakeLLM struct {
	mu        sync.Mutex
	chunks    []string
	finalText string // 为空时返回累积的 chunks
	err       error  // 调用直接失败
	streamErr error  // 流中途失败：chunks 全部送达后经 onError 上报
	started   chan struct{}
	block     chan struct{}
	calls     [][]openai.Message
}

func (f *fakeLLM) record(messages []openai.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) Generate(ctx context.Context, p openai.Params, messages []openai.Message) (string, error) {
	f.record(messages)
	if f.err != nil {
		return "", f.err
	}
	return f.finalText, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, p openai.Params, messages []openai.Message, onChunk openai.ChunkHandler, onError openai.ErrorHandler) (string, error) {
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.block != nil {
		<-f.block
	}
	f.record(messages)
	if f.err != nil {
		return "", f.err
	}
	var acc strings.Builder
	for _, chunk := range f.chunks {
		acc.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if f.streamErr != nil {
		if onError != nil {
			onError(f.streamErr)
		}
		return acc.String(), nil
	}
	if f.finalText != "" {
		return f.finalText, nil
	}
	return acc.String(), nil
}

func (f *fakeLLM) Transcribe(ctx context.Context, audio []byte, filename string, p openai.TranscriptionParams) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeLLM) Speech(ctx context.Context, input string, p openai.SpeechParams) ([]byte, error) {
	return nil, errors.New("not implemented")
}

// fakeSessions 是 SessionService 的内存实现。
type fakeSessions struct {
	mu        sync.Mutex
	createErr error
	nextID    int
	titles    map[string]string
	appended  map[string][]model.ChatMessage
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		titles:   make(map[string]string),
		appended: make(map[string][]model.ChatMessage),
	}
}

func (f *fakeSessions) CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("session-%d", f.nextID)
	f.titles[id] = title
	return &model.ChatSession{ID: id, UserID: userID, Title: title}, nil
}

func (f *fakeSessions) ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	return nil, nil
}

func (f *fakeSessions) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	return nil, errors.New("not found")
}

func (f *fakeSessions) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appended[sessionID], nil
}

func (f *fakeSessions) AppendMessage(ctx context.Context, sessionID string, message model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended[sessionID] = append(f.appended[sessionID], message)
	return nil
}

func (f *fakeSessions) CurrentSessionID(ctx context.Context, userID uint) (string, error) {
	return "", nil
}

// fakeAudio 是 AudioService 的测试替身。
type fakeAudio struct {
	mu            sync.Mutex
	transcript    string
	transcribeErr error
	audioURL      string
	synthErr      error
	synthCalls    int
}

func (f *fakeAudio) Transcribe(ctx context.Context, audio []byte, filename string, cfg model.ModelConfig) (string, error) {
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

func (f *fakeAudio) Synthesize(ctx context.Context, text string, cfg model.ModelConfig) (string, error) {
	f.mu.Lock()
	f.synthCalls++
	f.mu.Unlock()
	if f.synthErr != nil {
		return "", f.synthErr
	}
	return f.audioURL, nil
}

func (f *fakeAudio) synthCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synthCalls
}

func streamingConfig() model.ModelConfig {
	cfg := model.DefaultModelConfig()
	cfg.Streaming = true
	return cfg
}

func TestSendAppendsUserAndAssistantMessages(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Hi", " there"}}
	sessions := newFakeSessions()
	p := NewPlayground(llm, sessions, nil, 1, streamingConfig())

	events, cancel := p.Subscribe()
	defer cancel()

	require.NoError(t, p.Send(context.Background(), "hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.Equal(t, StateIdle, p.State())

	// 增量事件按到达顺序广播
	var chunks []string
	var streamed []string
	cancel()
	for ev := range events {
		if ev.Type == EventChunk {
			chunks = append(chunks, ev.Chunk)
			streamed = append(streamed, ev.StreamedText)
		}
	}
	assert.Equal(t, []string{"Hi", " there"}, chunks)
	assert.Equal(t, []string{"Hi", "Hi there"}, streamed)

	// 用户消息和助手消息都被持久化到了惰性创建的会话中
	assert.Equal(t, "session-1", p.SessionID())
	saved := sessions.appended["session-1"]
	require.Len(t, saved, 2)
	assert.Equal(t, model.RoleUser, saved[0].Role)
	assert.Equal(t, model.RoleAssistant, saved[1].Role)
}

func TestSendWhileBusyReturnsErrBusy(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	llm := &fakeLLM{chunks: []string{"ok"}, started: started, block: block}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	done := make(chan error, 1)
	go func() { done <- p.Send(context.Background(), "first") }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never reached the model call")
	}

	err := p.Send(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	close(block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, llm.callCount())
}

func TestSendEmptyContentIsNoOp(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"ok"}}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	require.NoError(t, p.Send(context.Background(), "   "))
	assert.Empty(t, p.Messages())
	assert.Equal(t, 0, llm.callCount())
	assert.Equal(t, StateIdle, p.State())
}

func TestSendFailureAppendsSystemMessage(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	// 模型调用失败不作为 error 返回，而是出现在转写里
	require.NoError(t, p.Send(context.Background(), "hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleSystem, msgs[1].Role)
	assert.Equal(t, "Error: connection refused", msgs[1].Content)
	assert.Equal(t, StateIdle, p.State())
}

func TestMidStreamFailureKeepsPartialText(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"par", "tial"}, streamErr: errors.New("stream cut")}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	require.NoError(t, p.Send(context.Background(), "hello"))

	// 已累积的部分文本仍然定稿为助手消息，没有系统错误条目
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.Equal(t, StateIdle, p.State())
}

func TestFinalizePrefersCanonicalText(t *testing.T) {
	// 传输层返回的定稿全文与增量拼接结果不同时，以定稿全文为准
	llm := &fakeLLM{chunks: []string{"a"}, finalText: "canonical"}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	require.NoError(t, p.Send(context.Background(), "hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "canonical", msgs[1].Content)
}

func TestLazySessionTitleTruncation(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"ok"}}
	sessions := newFakeSessions()
	p := NewPlayground(llm, sessions, nil, 1, streamingConfig())

	long := strings.Repeat("你好世界", 10) // 40 个字符
	require.NoError(t, p.Send(context.Background(), long))

	title := sessions.titles[p.SessionID()]
	assert.Equal(t, string([]rune(long)[:30])+"...", title)

	// 第二次发送复用已有会话
	require.NoError(t, p.Send(context.Background(), "again"))
	assert.Equal(t, "session-1", p.SessionID())
	assert.Len(t, sessions.titles, 1)
}

func TestSessionCreateFailureDoesNotBlockSend(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"ok"}}
	sessions := newFakeSessions()
	sessions.createErr = errors.New("database down")
	p := NewPlayground(llm, sessions, nil, 1, streamingConfig())

	require.NoError(t, p.Send(context.Background(), "hello"))

	// 会话创建失败只降级为不持久化
	assert.Equal(t, "", p.SessionID())
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ok", msgs[1].Content)
}

func TestAudioRecordingTranscribesThenSends(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"sure"}}
	audio := &fakeAudio{transcript: "play some music"}
	p := NewPlayground(llm, nil, audio, 1, streamingConfig())

	require.NoError(t, p.HandleAudioRecorded(context.Background(), []byte("voice"), "recording.webm"))

	// 转写文本只作为用户消息出现一次
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "play some music", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestAudioTranscriptionFailure(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"ok"}}
	audio := &fakeAudio{transcribeErr: errors.New("bad recording")}
	p := NewPlayground(llm, nil, audio, 1, streamingConfig())

	err := p.HandleAudioRecorded(context.Background(), []byte("voice"), "recording.webm")
	require.Error(t, err)
	assert.Empty(t, p.Messages())
	assert.Equal(t, 0, llm.callCount())
}

func TestAudioOutputSideChannel(t *testing.T) {
	cfg := streamingConfig()
	cfg.SupportsAudio = true
	cfg.SupportsAudioOutput = true

	llm := &fakeLLM{chunks: []string{"spoken reply"}}
	audio := &fakeAudio{audioURL: "https://store/tts/abc.mp3"}
	p := NewPlayground(llm, nil, audio, 1, cfg)

	require.NoError(t, p.Send(context.Background(), "hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "https://store/tts/abc.mp3", msgs[1].AudioURL)
	assert.Equal(t, 1, audio.synthCount())
}

func TestAudioSynthesisFailureDoesNotBlockFinalize(t *testing.T) {
	cfg := streamingConfig()
	cfg.SupportsAudio = true
	cfg.SupportsAudioOutput = true

	llm := &fakeLLM{chunks: []string{"spoken reply"}}
	audio := &fakeAudio{synthErr: errors.New("tts down")}
	p := NewPlayground(llm, nil, audio, 1, cfg)

	require.NoError(t, p.Send(context.Background(), "hello"))

	// 合成失败只记日志，文本消息照常定稿
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "spoken reply", msgs[1].Content)
	assert.Equal(t, "", msgs[1].AudioURL)
	assert.Equal(t, StateIdle, p.State())
}

func TestClearKeepsSessionBinding(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"ok"}}
	sessions := newFakeSessions()
	p := NewPlayground(llm, sessions, nil, 1, streamingConfig())

	require.NoError(t, p.Send(context.Background(), "hello"))
	require.Equal(t, "session-1", p.SessionID())
	logsBefore := len(p.Logs())

	p.Clear()

	assert.Empty(t, p.Messages())
	assert.Equal(t, StateIdle, p.State())
	// 诊断日志保留并新增一条清空记录
	assert.Greater(t, len(p.Logs()), logsBefore)

	// 会话绑定保留：清空后的下一条消息继续写入同一个会话
	assert.Equal(t, "session-1", p.SessionID())
	require.NoError(t, p.Send(context.Background(), "still here"))
	assert.Equal(t, "session-1", p.SessionID())
	assert.Len(t, sessions.titles, 1)
}

func TestClearDuringSendKeepsBusyGuard(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	llm := &fakeLLM{chunks: []string{"ok"}, started: started, block: block}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	done := make(chan error, 1)
	go func() { done <- p.Send(context.Background(), "first") }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never reached the model call")
	}

	// 清空转写不得把运行状态打回 idle，否则单周期在飞的约束被绕开
	p.Clear()
	assert.NotEqual(t, StateIdle, p.State())

	err := p.Send(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	close(block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, llm.callCount())
}

func TestUpdateModelConfigSyncsCapabilities(t *testing.T) {
	llm := &fakeLLM{}
	p := NewPlayground(llm, nil, nil, 1, streamingConfig())

	cfg := streamingConfig()
	cfg.Model = "o1"
	cfg.ReasoningEffort = "high"
	p.UpdateModelConfig(cfg)

	got := p.ModelConfig()
	assert.Equal(t, "reasoning", got.ModelCategory)
	assert.True(t, got.SupportsReasoning)
	assert.False(t, got.SupportsAudio)
}
