// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"

	"ai-playground-go/internal/model"
	"ai-playground-go/internal/repository"
	"ai-playground-go/pkg/log"

	"github.com/google/uuid"
)

// SessionService 定义了聊天会话的业务操作。
// 除创建会话需要同步拿到 ID 外，其余写操作对调用方都是尽力而为的。
type SessionService interface {
	CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error)
	GetSession(ctx context.Context, id string) (*model.ChatSession, error)
	// GetHistory 优先读缓存，未命中时回源数据库并回填。
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	AppendMessage(ctx context.Context, sessionID string, message model.ChatMessage) error
	// CurrentSessionID 返回用户最近活跃的会话 ID，没有则返回空串。
	CurrentSessionID(ctx context.Context, userID uint) (string, error)
}

type sessionService struct {
	repo  repository.SessionRepository
	cache repository.SessionCache
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(repo repository.SessionRepository, cache repository.SessionCache) SessionService {
	return &sessionService{repo: repo, cache: cache}
}

// CreateSession 创建一个新会话。ID 在写库前生成，创建后不可变。
func (s *sessionService) CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error) {
	session := &model.ChatSession{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  title,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	// 缓存写入失败不影响会话创建
	if s.cache != nil {
		if userID != 0 {
			if err := s.cache.SetCurrentSessionID(ctx, userID, session.ID); err != nil {
				log.Warnf("failed to cache current session id: %v", err)
			}
		}
		if err := s.cache.SetHistory(ctx, session.ID, []model.ChatMessage{}); err != nil {
			log.Warnf("failed to prime session history cache: %v", err)
		}
	}
	return session, nil
}

// ListSessions 返回用户的会话列表，最新的在前。
func (s *sessionService) ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	return s.repo.FindByUser(ctx, userID)
}

// GetSession 加载会话及其全部消息，并刷新历史缓存。
func (s *sessionService) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetHistory(ctx, id, toChatMessages(session.Messages)); err != nil {
			log.Warnf("failed to refresh session history cache: %v", err)
		}
	}
	return session, nil
}

// GetHistory 获取会话的消息历史，缓存未命中时回源数据库。
func (s *sessionService) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if s.cache != nil {
		if history, err := s.cache.GetHistory(ctx, sessionID); err == nil && history != nil {
			return history, nil
		} else if err != nil {
			log.Warnf("session history cache read failed, falling back to database: %v", err)
		}
	}

	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := toChatMessages(session.Messages)
	if s.cache != nil {
		if err := s.cache.SetHistory(ctx, sessionID, history); err != nil {
			log.Warnf("failed to backfill session history cache: %v", err)
		}
	}
	return history, nil
}

// AppendMessage 向会话追加一条消息，数据库成功后以读最新再追加的方式更新缓存。
func (s *sessionService) AppendMessage(ctx context.Context, sessionID string, message model.ChatMessage) error {
	record := &model.SessionMessage{
		SessionID: sessionID,
		Role:      message.Role,
		Content:   message.Content,
		AudioURL:  message.AudioURL,
	}
	if err := s.repo.AppendMessage(ctx, record); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.AppendHistory(ctx, sessionID, message); err != nil {
			log.Warnf("failed to append session history cache: %v", err)
		}
	}
	return nil
}

// CurrentSessionID 返回用户最近活跃的会话 ID。
func (s *sessionService) CurrentSessionID(ctx context.Context, userID uint) (string, error) {
	if s.cache == nil {
		return "", nil
	}
	return s.cache.GetCurrentSessionID(ctx, userID)
}

func toChatMessages(records []model.SessionMessage) []model.ChatMessage {
	messages := make([]model.ChatMessage, 0, len(records))
	for _, r := range records {
		messages = append(messages, model.ChatMessage{
			Role:      r.Role,
			Content:   r.Content,
			Timestamp: r.CreatedAt,
			AudioURL:  r.AudioURL,
		})
	}
	return messages
}
