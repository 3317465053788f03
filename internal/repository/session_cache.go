package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-playground-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// SessionCache 定义了会话热数据在 Redis 中的缓存操作。
// 缓存永远是加速层：未命中或出错时上层回落到 MySQL。
type SessionCache interface {
	// GetCurrentSessionID 返回用户当前活跃会话的 ID，没有则返回空串。
	GetCurrentSessionID(ctx context.Context, userID uint) (string, error)
	SetCurrentSessionID(ctx context.Context, userID uint, sessionID string) error
	// GetHistory 返回缓存的消息历史；缓存未命中时返回 (nil, nil)。
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	AppendHistory(ctx context.Context, sessionID string, message model.ChatMessage) error
}

type redisSessionCache struct {
	redisClient *redis.Client
	historyMax  int
	ttl         time.Duration
}

// NewSessionCache 创建一个新的 SessionCache 实例。
func NewSessionCache(redisClient *redis.Client, historyMax int, ttl time.Duration) SessionCache {
	if historyMax <= 0 {
		historyMax = 50
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisSessionCache{redisClient: redisClient, historyMax: historyMax, ttl: ttl}
}

func userKey(userID uint) string {
	return fmt.Sprintf("user:%d:current_session", userID)
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:history", sessionID)
}

// GetCurrentSessionID 获取用户当前会话 ID。
func (c *redisSessionCache) GetCurrentSessionID(ctx context.Context, userID uint) (string, error) {
	sessionID, err := c.redisClient.Get(ctx, userKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get current session id: %w", err)
	}
	return sessionID, nil
}

// SetCurrentSessionID 记录用户当前会话 ID。
func (c *redisSessionCache) SetCurrentSessionID(ctx context.Context, userID uint, sessionID string) error {
	if err := c.redisClient.Set(ctx, userKey(userID), sessionID, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set current session id: %w", err)
	}
	return nil
}

// GetHistory 从 Redis 获取会话的消息历史。
func (c *redisSessionCache) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := c.redisClient.Get(ctx, historyKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session history: %w", err)
	}
	return messages, nil
}

// SetHistory 在 Redis 中整体写入会话历史，只保留最近 historyMax 条。
func (c *redisSessionCache) SetHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	if len(messages) > c.historyMax {
		messages = messages[len(messages)-c.historyMax:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := c.redisClient.Set(ctx, historyKey(sessionID), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session history: %w", err)
	}
	return nil
}

// AppendHistory 以"读最新再追加"的方式向缓存历史追加一条消息。
func (c *redisSessionCache) AppendHistory(ctx context.Context, sessionID string, message model.ChatMessage) error {
	history, err := c.GetHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	history = append(history, message)
	return c.SetHistory(ctx, sessionID, history)
}
