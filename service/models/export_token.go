/*
 * @module service/models/export_token
 * @description 核验名单导出令牌：散列存储，下载时校验明文令牌
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/export_req.md
 * @rules 令牌明文只在创建时返回一次，库中仅存 bcrypt 散列
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/export/export_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExportToken 导出下载令牌
type ExportToken struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PaymentPlanID string    `json:"payment_plan_id" gorm:"not null;type:varchar(36);index"`
	KeyPrefix     string    `json:"key_prefix" gorm:"not null;size:20;index"`
	KeyHash       string    `json:"-" gorm:"not null;size:100"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy     string    `json:"created_by" gorm:"not null;default:'system';size:100"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (t *ExportToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// IsExpired 判断令牌是否过期
func (t *ExportToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
