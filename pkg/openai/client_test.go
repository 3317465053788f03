package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-playground-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.OpenAIConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		TimeoutSeconds: 5,
		AudioModel:     "whisper-1",
		SpeechModel:    "tts-1",
		SpeechVoice:    "alloy",
	})
}

func TestMissingAPIKeyFailsBeforeNetwork(t *testing.T) {
	// BaseURL 指向不存在的地址：凭证缺失必须在任何网络调用之前失败
	c := NewClient(config.OpenAIConfig{BaseURL: "http://127.0.0.1:0"})

	_, err := c.Generate(context.Background(), Params{Model: "gpt-4o"}, []Message{{Role: "user", Content: "hi"}})
	require.ErrorIs(t, err, ErrAPIKeyMissing)
	assert.Equal(t, "OpenAI API key not configured", err.Error())

	_, err = c.GenerateStream(context.Background(), Params{Model: "gpt-4o"}, nil, nil, nil)
	require.ErrorIs(t, err, ErrAPIKeyMissing)

	_, err = c.Transcribe(context.Background(), []byte("audio"), "", TranscriptionParams{})
	require.ErrorIs(t, err, ErrAPIKeyMissing)

	_, err = c.Speech(context.Background(), "hello", SpeechParams{})
	require.ErrorIs(t, err, ErrAPIKeyMissing)
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "gpt-4o", req.Model)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"Hello there"}}]}`)
	})

	text, err := c.Generate(context.Background(), Params{Model: "gpt-4o"}, []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)
}

func TestGenerateUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})

	_, err := c.Generate(context.Background(), Params{Model: "gpt-4o"}, []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		// 正常增量、空增量、无法解析的行以及非 data 行混在一起
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		f.Flush()
		io.WriteString(w, ": keep-alive comment\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		io.WriteString(w, "data: not-json\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		f.Flush()
		io.WriteString(w, "data: [DONE]\n\n")
	})

	var chunks []string
	text, err := c.GenerateStream(context.Background(), Params{Model: "gpt-4o"},
		[]Message{{Role: "user", Content: "hi"}},
		func(chunk string) { chunks = append(chunks, chunk) },
		func(err error) { t.Errorf("unexpected stream error: %v", err) })
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, []string{"Hi", " there"}, chunks)
}

func TestGenerateStreamMidStreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()

		// 模拟连接中途断开
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	})

	var streamErrs []error
	text, err := c.GenerateStream(context.Background(), Params{Model: "gpt-4o"},
		[]Message{{Role: "user", Content: "hi"}},
		nil,
		func(err error) { streamErrs = append(streamErrs, err) })

	// 已累积的部分文本作为降级结果返回，错误经 onError 上报
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
	require.Len(t, streamErrs, 1)
}

func TestGenerateStreamFailureBeforeFirstChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"The server is overloaded"}}`)
	})

	onErrorCalled := false
	_, err := c.GenerateStream(context.Background(), Params{Model: "gpt-4o"},
		[]Message{{Role: "user", Content: "hi"}},
		nil,
		func(err error) { onErrorCalled = true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The server is overloaded")
	assert.False(t, onErrorCalled, "onError is reserved for mid-stream failures")
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "zh", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.webm", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"play some music"}`)
	})

	// 文件名为空时使用默认名
	text, err := c.Transcribe(context.Background(), []byte("fake-audio"), "", TranscriptionParams{Language: "zh"})
	require.NoError(t, err)
	assert.Equal(t, "play some music", text)
}

func TestSpeech(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tts-1", req["model"])
		assert.Equal(t, "alloy", req["voice"])
		assert.Equal(t, "hello world", req["input"])

		w.Write([]byte("fake-mp3-bytes"))
	})

	audio, err := c.Speech(context.Background(), "hello world", SpeechParams{})
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-mp3-bytes"), audio)
}
