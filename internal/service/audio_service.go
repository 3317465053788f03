package service

import (
	"context"
	"fmt"
	"time"

	"ai-playground-go/internal/model"
	"ai-playground-go/pkg/openai"
	"ai-playground-go/pkg/storage"

	"github.com/google/uuid"
)

// ObjectStore 抽象了音频对象的存放位置，便于测试时替换。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) error
	PresignedURL(objectName string, expiry time.Duration) (string, error)
}

// minioStore 是 ObjectStore 的 MinIO 实现，写入全局客户端对应的桶。
type minioStore struct {
	bucket string
}

// NewMinioStore 创建一个基于 MinIO 的 ObjectStore。
func NewMinioStore(bucket string) ObjectStore {
	return &minioStore{bucket: bucket}
}

func (s *minioStore) Put(ctx context.Context, objectName string, data []byte, contentType string) error {
	return storage.PutObject(ctx, s.bucket, objectName, data, contentType)
}

func (s *minioStore) PresignedURL(objectName string, expiry time.Duration) (string, error) {
	return storage.GetPresignedURL(s.bucket, objectName, expiry)
}

// AudioService 封装了语音转写与语音合成两条旁路。
// 转写结果回到主流程；合成的音频先落对象存储，再以预签名 URL 暴露。
type AudioService interface {
	Transcribe(ctx context.Context, audio []byte, filename string, cfg model.ModelConfig) (string, error)
	Synthesize(ctx context.Context, text string, cfg model.ModelConfig) (string, error)
}

type audioService struct {
	llm    openai.Client
	store  ObjectStore
	urlTTL time.Duration
}

// NewAudioService 创建一个新的 AudioService 实例。
func NewAudioService(llm openai.Client, store ObjectStore) AudioService {
	return &audioService{llm: llm, store: store, urlTTL: 24 * time.Hour}
}

// Transcribe 将录音转写为文本。
func (s *audioService) Transcribe(ctx context.Context, audio []byte, filename string, cfg model.ModelConfig) (string, error) {
	return s.llm.Transcribe(ctx, audio, filename, openai.TranscriptionParams{
		Language: cfg.AudioLanguage,
	})
}

// Synthesize 为文本生成语音，写入对象存储并返回可播放的预签名 URL。
func (s *audioService) Synthesize(ctx context.Context, text string, cfg model.ModelConfig) (string, error) {
	data, err := s.llm.Speech(ctx, text, openai.SpeechParams{
		Instructions: cfg.AudioInstructions,
	})
	if err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("tts/%s.mp3", uuid.NewString())
	if err := s.store.Put(ctx, objectName, data, "audio/mpeg"); err != nil {
		return "", fmt.Errorf("failed to store synthesized audio: %w", err)
	}
	return s.store.PresignedURL(objectName, s.urlTTL)
}
