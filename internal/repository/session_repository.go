// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"

	"ai-playground-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 定义了聊天会话的持久化操作。
type SessionRepository interface {
	Create(ctx context.Context, session *model.ChatSession) error
	FindByID(ctx context.Context, id string) (*model.ChatSession, error)
	FindByUser(ctx context.Context, userID uint) ([]model.ChatSession, error)
	AppendMessage(ctx context.Context, message *model.SessionMessage) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *sessionRepository) Create(ctx context.Context, session *model.ChatSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create chat session: %w", err)
	}
	return nil
}

// FindByID 加载一个会话及其全部消息，消息按插入顺序返回。
func (r *sessionRepository) FindByID(ctx context.Context, id string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByUser 返回用户的会话列表（不含消息），最新的在前。
func (r *sessionRepository) FindByUser(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage 向会话追加一条消息，并刷新会话的更新时间。
func (r *sessionRepository) AppendMessage(ctx context.Context, message *model.SessionMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("failed to append session message: %w", err)
	}
	// 让会话在列表中上浮
	return r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ?", message.SessionID).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}
