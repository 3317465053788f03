package model

import "time"

// ChatSession 代表一次持久化的、可命名的对话。
// ID 在创建时生成，创建后不可变，并回显到前端的可导航 URL 中。
type ChatSession struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint             `gorm:"index" json:"userId"`
	Title     string           `gorm:"size:128" json:"title"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
	Messages  []SessionMessage `gorm:"foreignKey:SessionID" json:"messages,omitempty"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// SessionMessage 是会话中的一条持久化消息。
// 插入顺序即对话顺序，没有重排或删除接口。
type SessionMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index;size:36;not null" json:"sessionId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	AudioURL  string    `gorm:"size:512" json:"audioUrl,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (SessionMessage) TableName() string {
	return "chat_messages"
}
