package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-playground-go/internal/config"
	"ai-playground-go/pkg/openai"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 是 openai.Client 的测试替身。
type fakeLLM struct {
	text      string
	chunks    []string
	err       error
	streamErr error
}

func (f *fakeLLM) Generate(ctx context.Context, p openai.Params, messages []openai.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, p openai.Params, messages []openai.Message, onChunk openai.ChunkHandler, onError openai.ErrorHandler) (string, error) {
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
	}
	return acc.String(), nil
}

func (f *fakeLLM) Transcribe(ctx context.Context, audio []byte, filename string, p openai.TranscriptionParams) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeLLM) Speech(ctx context.Context, input string, p openai.SpeechParams) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func newAIRouter(llm openai.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAIHandler(llm)
	r.POST("/api/v1/ai", h.Generate)
	r.GET("/api/v1/models", h.ListModels)
	return r
}

func init() {
	config.Conf.Playground.DefaultModel = "gpt-4o"
	config.Conf.Playground.Streaming = true
}

func TestGenerateStreamsNDJSON(t *testing.T) {
	r := newAIRouter(&fakeLLM{chunks: []string{"Hi", " there"}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"text":"Hi"}`, lines[0])
	assert.JSONEq(t, `{"text":" there"}`, lines[1])
}

func TestGenerateMissingAPIKeyReturns500(t *testing.T) {
	// 真实客户端，未配置凭证：必须在流开始之前以统一错误返回
	llm := openai.NewClient(config.OpenAIConfig{BaseURL: "http://127.0.0.1:0"})
	r := newAIRouter(llm)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"OpenAI API key not configured"}`, w.Body.String())
}

func TestGenerateMidStreamErrorEmitsErrorLine(t *testing.T) {
	r := newAIRouter(&fakeLLM{chunks: []string{"partial"}, streamErr: errors.New("stream cut")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"text":"partial"}`, lines[0])
	assert.JSONEq(t, `{"error":"An error occurred during streaming"}`, lines[1])
}

func TestGenerateNonStreaming(t *testing.T) {
	r := newAIRouter(&fakeLLM{text: "full response"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"full response"}`, w.Body.String())
}

func TestGenerateNonStreamingFailure(t *testing.T) {
	r := newAIRouter(&fakeLLM{err: errors.New("model unavailable")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"model unavailable"}`, w.Body.String())
}

func TestGenerateRejectsMissingMessages(t *testing.T) {
	r := newAIRouter(&fakeLLM{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListModels(t *testing.T) {
	r := newAIRouter(&fakeLLM{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gpt-4o")
	assert.Contains(t, w.Body.String(), "reasoning")
}
