/*
 * @module service/models/household
 * @description 住户模型及住户内角色，包含人口学分桶计数与软撤回语义
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 导入创建 -> 活动 -> 撤回（软删除，永不物理删除）
 * @rules 人口学计数随成员变动重算；撤回只置位不删行；并发写通过版本号乐观锁
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/models/individual.go, service/grievance
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 住户内角色
const (
	RoleHead      = "HEAD"      // 户主
	RolePrimary   = "PRIMARY"   // 主领取人
	RoleAlternate = "ALTERNATE" // 备用领取人
	RoleNone      = "NONE"
)

// Household 住户，共同居住的个人聚合
type Household struct {
	ID                  string  `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	ProgramID           string  `json:"program_id" gorm:"not null;type:varchar(36);index"`
	RegistrationBatchID *string `json:"registration_batch_id,omitempty" gorm:"type:varchar(36);index"`

	// Size 为空表示从未显式登记，按成员数推导
	Size    *int   `json:"size,omitempty"`
	Address string `json:"address,omitempty" gorm:"size:255"`

	// 行政区划层级
	Admin1 string `json:"admin1,omitempty" gorm:"size:100;index"`
	Admin2 string `json:"admin2,omitempty" gorm:"size:100;index"`
	Admin3 string `json:"admin3,omitempty" gorm:"size:100"`
	Admin4 string `json:"admin4,omitempty" gorm:"size:100"`

	// 人口学分桶计数（年龄段 x 性别），成员变动后由服务层重算
	// 列名显式声明，字段名里的数字会让默认命名策略推导出错误列名
	FemaleAgeGroup05Count   int `json:"female_age_group_0_5_count" gorm:"column:female_age_group_0_5_count;default:0"`
	FemaleAgeGroup611Count  int `json:"female_age_group_6_11_count" gorm:"column:female_age_group_6_11_count;default:0"`
	FemaleAgeGroup1217Count int `json:"female_age_group_12_17_count" gorm:"column:female_age_group_12_17_count;default:0"`
	FemaleAgeGroup1859Count int `json:"female_age_group_18_59_count" gorm:"column:female_age_group_18_59_count;default:0"`
	FemaleAgeGroup60Count   int `json:"female_age_group_60_count" gorm:"column:female_age_group_60_count;default:0"`
	MaleAgeGroup05Count     int `json:"male_age_group_0_5_count" gorm:"column:male_age_group_0_5_count;default:0"`
	MaleAgeGroup611Count    int `json:"male_age_group_6_11_count" gorm:"column:male_age_group_6_11_count;default:0"`
	MaleAgeGroup1217Count   int `json:"male_age_group_12_17_count" gorm:"column:male_age_group_12_17_count;default:0"`
	MaleAgeGroup1859Count   int `json:"male_age_group_18_59_count" gorm:"column:male_age_group_18_59_count;default:0"`
	MaleAgeGroup60Count     int `json:"male_age_group_60_count" gorm:"column:male_age_group_60_count;default:0"`
	ChildrenDisabledCount   int `json:"children_disabled_count" gorm:"default:0"`
	AdultsDisabledCount     int `json:"adults_disabled_count" gorm:"default:0"`

	// 软撤回标记：撤回后不再参与瞄准和支付
	Withdrawn     bool       `json:"withdrawn" gorm:"default:false;index"`
	WithdrawnDate *time.Time `json:"withdrawn_date,omitempty"`

	FlexFields JSONB `json:"flex_fields,omitempty" gorm:"type:jsonb"`

	// Version 乐观锁版本号，保存时检查并自增
	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Individuals []Individual `json:"individuals,omitempty" gorm:"foreignKey:HouseholdID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (h *Household) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return nil
}

// TotalByAgeGender 返回全部分桶计数之和
func (h *Household) TotalByAgeGender() int {
	return h.FemaleAgeGroup05Count + h.FemaleAgeGroup611Count + h.FemaleAgeGroup1217Count +
		h.FemaleAgeGroup1859Count + h.FemaleAgeGroup60Count +
		h.MaleAgeGroup05Count + h.MaleAgeGroup611Count + h.MaleAgeGroup1217Count +
		h.MaleAgeGroup1859Count + h.MaleAgeGroup60Count
}

// ActiveHouseholds 仅返回未撤回住户的查询范围
// 列名带表前缀，住户查询连表（领取人、个人）时不产生歧义
func ActiveHouseholds(db *gorm.DB) *gorm.DB {
	return db.Where("households.withdrawn = ?", false)
}

// IndividualRoleInHousehold 个人在住户中的领取人角色
// 角色可以指向个人并不属于的住户（外部领取人），撤回住户前必须检查这种引用
type IndividualRoleInHousehold struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	IndividualID string    `json:"individual_id" gorm:"not null;type:varchar(36);index"`
	HouseholdID  string    `json:"household_id" gorm:"not null;type:varchar(36);index"`
	Role         string    `json:"role" gorm:"not null;size:20"` // HEAD, PRIMARY, ALTERNATE
	CreatedAt    time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Individual *Individual `json:"individual,omitempty" gorm:"foreignKey:IndividualID"`
	Household  *Household  `json:"household,omitempty" gorm:"foreignKey:HouseholdID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *IndividualRoleInHousehold) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
