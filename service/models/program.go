/*
 * @module service/models/program
 * @description 项目与项目周期模型，受益人登记、瞄准和支付计划都挂在项目之下
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 项目创建 -> 激活 -> 结束；周期在项目内按时间窗口滚动
 * @rules 支付计划必须归属一个处于活动状态的项目周期
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/models/payment_plan.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 项目状态
const (
	ProgramStatusDraft    = "draft"
	ProgramStatusActive   = "active"
	ProgramStatusFinished = "finished"
)

// 项目周期状态
const (
	ProgramCycleStatusDraft    = "draft"
	ProgramCycleStatusActive   = "active"
	ProgramCycleStatusFinished = "finished"
)

// Program 援助项目，是住户、个人和支付计划的归属边界
type Program struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name         string `json:"name" gorm:"not null;size:255" example:"cash assistance 2026"`
	BusinessArea string `json:"business_area" gorm:"not null;size:100;index" example:"afghanistan"`
	Status       string `json:"status" gorm:"not null;size:20;default:'draft'" example:"active"`
	// IsSocialWorker 为 true 时项目按“个人”登记，个人可以不属于任何住户
	IsSocialWorker bool `json:"is_social_worker" gorm:"default:false"`

	// 生物识别查重配置：开启后导入批次会走人脸查重引擎
	BiometricDeduplicationEnabled bool   `json:"biometric_deduplication_enabled" gorm:"default:false"`
	DeduplicationSetID            string `json:"deduplication_set_id,omitempty" gorm:"size:64"` // 查重引擎侧的集合标识

	// PostponeDeduplication 为 true 时导入阶段跳过查重，留待后续批量处理
	PostponeDeduplication bool `json:"postpone_deduplication" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Cycles []ProgramCycle `json:"cycles,omitempty" gorm:"foreignKey:ProgramID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (p *Program) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// IsActive 判断项目是否处于活动状态
func (p *Program) IsActive() bool {
	return p.Status == ProgramStatusActive
}

// ProgramCycle 项目周期，支付计划在一个周期内生效
type ProgramCycle struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProgramID string     `json:"program_id" gorm:"not null;type:varchar(36);index"`
	Title     string     `json:"title" gorm:"size:255"`
	StartDate time.Time  `json:"start_date" gorm:"not null"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Status    string     `json:"status" gorm:"not null;size:20;default:'draft'"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Program *Program `json:"program,omitempty" gorm:"foreignKey:ProgramID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (c *ProgramCycle) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// IsActive 判断周期是否处于活动状态
func (c *ProgramCycle) IsActive() bool {
	return c.Status == ProgramCycleStatusActive
}
