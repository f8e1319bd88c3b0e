/*
 * @module service/models/account
 * @description 业务区域内的用户角色与不相容角色对
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow N/A
 * @rules 不相容角色对按无序对唯一；定义前需检查是否已有用户同时持有两个角色
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/grievance/incompatible_roles.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role 业务区域内可分配给用户的角色
type Role struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"not null;size:100;uniqueIndex"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// UserRole 用户在某业务区域内持有的角色
type UserRole struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserEmail    string    `json:"user_email" gorm:"not null;size:255;index"`
	RoleID       string    `json:"role_id" gorm:"not null;type:varchar(36);index"`
	BusinessArea string    `json:"business_area" gorm:"not null;size:100;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Role *Role `json:"role,omitempty" gorm:"foreignKey:RoleID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (ur *UserRole) BeforeCreate(tx *gorm.DB) error {
	if ur.ID == "" {
		ur.ID = uuid.New().String()
	}
	return nil
}

// IncompatibleRoles 不相容角色对，同一业务区域内同一用户不能同时持有
// 无序对语义：已有 (R1,R2) 时再建 (R2,R1) 视为重复
type IncompatibleRoles struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BusinessArea string    `json:"business_area" gorm:"not null;size:100;index"`
	RoleOneID    string    `json:"role_one_id" gorm:"not null;type:varchar(36)"`
	RoleTwoID    string    `json:"role_two_id" gorm:"not null;type:varchar(36)"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	RoleOne *Role `json:"role_one,omitempty" gorm:"foreignKey:RoleOneID"`
	RoleTwo *Role `json:"role_two,omitempty" gorm:"foreignKey:RoleTwoID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (ir *IncompatibleRoles) BeforeCreate(tx *gorm.DB) error {
	if ir.ID == "" {
		ir.ID = uuid.New().String()
	}
	return nil
}
