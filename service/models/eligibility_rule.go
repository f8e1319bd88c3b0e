/*
 * @module service/models/eligibility_rule
 * @description 资格评分规则：用户自定义的 Go 脚本，构建时对每户求脆弱性得分
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 草稿 -> 启用 -> 停用
 * @rules 脚本必须导出 Score(household) 函数；脚本执行由解释器沙箱承载
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/targeting/eligibility.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EligibilityRule 资格评分规则脚本
type EligibilityRule struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name    string `json:"name" gorm:"not null;size:255;uniqueIndex"`
	Enabled bool   `json:"enabled" gorm:"default:false"`
	// Script 解释执行的 Go 源码，内容为 Score(household map[string]interface{}) float64 的函数体
	Script string `json:"script" gorm:"type:text;not null"`
	// MinScore 入选计划所需的最低得分；nil 表示仅记录得分不做门槛
	MinScore *float64 `json:"min_score,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *EligibilityRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// PaymentPlanEligibilityRule 支付计划与资格规则的关联
type PaymentPlanEligibilityRule struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PaymentPlanID string    `json:"payment_plan_id" gorm:"not null;type:varchar(36);index"`
	RuleID        string    `json:"rule_id" gorm:"not null;type:varchar(36);index"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Rule *EligibilityRule `json:"rule,omitempty" gorm:"foreignKey:RuleID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (pr *PaymentPlanEligibilityRule) BeforeCreate(tx *gorm.DB) error {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	return nil
}
