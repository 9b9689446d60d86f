package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ProviderAPIKey 提供商 API Key. ModelID 为空表示该提供商的通用密钥.
type ProviderAPIKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ModelID   string    `gorm:"size:128;index:idx_key_model" json:"model_id"`
	Provider  string    `gorm:"size:64;not null;index:idx_key_provider" json:"provider"`
	APIKey    string    `gorm:"size:500;not null" json:"-"`
	Label     string    `gorm:"size:100" json:"label"`
	Priority  int       `gorm:"not null" json:"priority"` // 数字越小优先级越高
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ProviderAPIKey) TableName() string { return "provider_api_keys" }

// InteractionLog 交互日志记录. Payload 为 JSON 文本.
type InteractionLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"size:32;not null;index:idx_log_kind" json:"kind"`
	ChatID    string    `gorm:"size:128;index:idx_log_chat" json:"chat_id"`
	AppID     string    `gorm:"size:128;index:idx_log_app" json:"app_id"`
	ModelID   string    `gorm:"size:128" json:"model_id"`
	UserID    string    `gorm:"size:128" json:"user_id"`
	Payload   string    `gorm:"type:text" json:"payload"`
	CreatedAt time.Time `gorm:"index:idx_log_created" json:"created_at"`
}

// TableName 指定表名
func (InteractionLog) TableName() string { return "interaction_logs" }

// Migrate 创建或更新表结构
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProviderAPIKey{}, &InteractionLog{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}
