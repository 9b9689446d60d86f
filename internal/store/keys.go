package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// KeyStore 从 provider_api_keys 表查找密钥
type KeyStore struct {
	db *gorm.DB
}

// NewKeyStore 创建密钥存储
func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db}
}

// Lookup 先按模型 ID 查找，再按提供商的通用密钥查找.
// 未找到时返回空字符串与 nil.
func (s *KeyStore) Lookup(ctx context.Context, modelID, provider string) (string, error) {
	if modelID != "" {
		key, err := s.first(ctx, s.db.Where("model_id = ?", modelID))
		if err != nil || key != "" {
			return key, err
		}
	}
	if provider == "" {
		return "", nil
	}
	return s.first(ctx, s.db.Where("provider = ? AND (model_id = '' OR model_id IS NULL)", strings.ToLower(provider)))
}

func (s *KeyStore) first(ctx context.Context, scope *gorm.DB) (string, error) {
	var row ProviderAPIKey
	err := scope.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority ASC, id ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query provider api key: %w", err)
	}
	return row.APIKey, nil
}

// Put 写入一条密钥记录
func (s *KeyStore) Put(ctx context.Context, key *ProviderAPIKey) error {
	if key.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if key.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	key.Provider = strings.ToLower(key.Provider)
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("create provider api key: %w", err)
	}
	return nil
}

// Disable 停用指定记录
func (s *KeyStore) Disable(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&ProviderAPIKey{}).Where("id = ?", id).Update("enabled", false)
	if res.Error != nil {
		return fmt.Errorf("disable provider api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
