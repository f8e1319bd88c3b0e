/*
 * @module service/models/registration
 * @description 登记导入批次模型与制裁名单条目
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow IMPORTING -> IN_REVIEW -> DEDUPLICATION -> MERGED；查重失败进入 DEDUPLICATION_FAILED
 * @rules 批次查重失败整体回滚，状态落为 DEDUPLICATION_FAILED 供调度器重试
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/registration, service/deduplication
 */

package models

import (
	"time"

	"beneficiary-service/service/meta"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegistrationBatch 一次登记导入批次
type RegistrationBatch struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProgramID string `json:"program_id" gorm:"not null;type:varchar(36);index"`
	Name      string `json:"name" gorm:"not null;size:255"`
	Status    string `json:"status" gorm:"not null;size:30;default:'IMPORTING';index"`

	ImportedHouseholds  int64  `json:"imported_households" gorm:"default:0"`
	ImportedIndividuals int64  `json:"imported_individuals" gorm:"default:0"`
	ErrorMessage        string `json:"error_message,omitempty" gorm:"type:text"`

	// DedupRetryCount 查重重试次数，超过上限后不再重试
	DedupRetryCount int `json:"dedup_retry_count" gorm:"default:0"`
	// DedupQueued 排队等待调度器执行查重；延迟查重项目跳过后清零，需手工重新排队
	DedupQueued bool `json:"dedup_queued" gorm:"default:false;index"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (b *RegistrationBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedBy == "" {
		b.CreatedBy = "system"
	}
	return nil
}

// CanDeduplicate 判断批次是否可以进入查重
func (b *RegistrationBatch) CanDeduplicate() bool {
	return b.Status == meta.BatchStatusInReview || b.Status == meta.BatchStatusDeduplicationFailed
}

// CanMerge 判断批次是否可以并入正式人口
func (b *RegistrationBatch) CanMerge() bool {
	return b.Status == meta.BatchStatusDeduplication
}

// SanctionListIndividual 制裁名单条目（外部数据源同步进来的拒付名单）
type SanctionListIndividual struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	FullName       string     `json:"full_name" gorm:"not null;size:255;index"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	ReferenceNo    string     `json:"reference_no" gorm:"size:100;index"`
	ListedOn       *time.Time `json:"listed_on,omitempty"`
	SourceListName string     `json:"source_list_name,omitempty" gorm:"size:100"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (s *SanctionListIndividual) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
