package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// TranscriptionParams 控制语音转写调用。
type TranscriptionParams struct {
	Model    string // 为空时使用配置中的 audio_model
	Language string
}

// SpeechParams 控制语音合成调用。
type SpeechParams struct {
	Model        string // 为空时使用配置中的 speech_model
	Voice        string // 为空时使用配置中的 speech_voice
	Instructions string
}

// Transcribe 调用 /audio/transcriptions 将录音转写为文本。
func (c *client) Transcribe(ctx context.Context, audio []byte, filename string, p TranscriptionParams) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrAPIKeyMissing
	}

	model := p.Model
	if model == "" {
		model = c.cfg.AudioModel
	}
	if filename == "" {
		filename = "recording.webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio payload: %w", err)
	}
	_ = writer.WriteField("model", model)
	if p.Language != "" {
		_ = writer.WriteField("language", p.Language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call transcription api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope apiErrorEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error.Message != "" {
			return "", fmt.Errorf("transcription api error [%d]: %s", resp.StatusCode, envelope.Error.Message)
		}
		return "", fmt.Errorf("transcription api returned non-200 status: %s", resp.Status)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal transcription response: %w", err)
	}
	return result.Text, nil
}

// Speech 调用 /audio/speech 将文本合成为语音，返回原始音频字节。
func (c *client) Speech(ctx context.Context, input string, p SpeechParams) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	model := p.Model
	if model == "" {
		model = c.cfg.SpeechModel
	}
	voice := p.Voice
	if voice == "" {
		voice = c.cfg.SpeechVoice
	}

	reqBody := map[string]string{
		"model": model,
		"input": input,
		"voice": voice,
	}
	if p.Instructions != "" {
		reqBody["instructions"] = p.Instructions
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/speech", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call speech api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope apiErrorEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error.Message != "" {
			return nil, fmt.Errorf("speech api error [%d]: %s", resp.StatusCode, envelope.Error.Message)
		}
		return nil, fmt.Errorf("speech api returned non-200 status: %s", resp.Status)
	}
	return respBody, nil
}
