/*
 * @module service/models/payment_plan
 * @description 支付计划（人口快照）模型：瞄准结果的不可变物化，含构建状态机与聚合计数
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow PENDING -> BUILDING -> OK/FAILED；重建生成新的成员快照，不在使用中原地修改
 * @rules sampling_type 与参数二选一严格对应；构建完成后成员集只读
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/payment_plan/builder.go
 */

package models

import (
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentPlan 支付计划，瞄准条件在项目周期内的不可变人口快照
type PaymentPlan struct {
	ID                  string `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name                string `json:"name" gorm:"not null;size:255"`
	ProgramID           string `json:"program_id" gorm:"not null;type:varchar(36);index"`
	ProgramCycleID      string `json:"program_cycle_id" gorm:"not null;type:varchar(36);index"`
	TargetingCriteriaID string `json:"targeting_criteria_id" gorm:"not null;type:varchar(36)"`

	// 抽样配置：sampling_type 与对应参数严格二选一
	SamplingType            string `json:"sampling_type" gorm:"not null;size:20;default:'FULL_LIST'"`
	FullListArguments       JSONB  `json:"full_list_arguments,omitempty" gorm:"type:jsonb"`
	RandomSamplingArguments JSONB  `json:"random_sampling_arguments,omitempty" gorm:"type:jsonb"`

	// 构建状态机
	BuildStatus    string     `json:"build_status" gorm:"not null;size:20;default:'PENDING';index"`
	BuildStartedAt *time.Time `json:"build_started_at,omitempty"`
	BuildEndedAt   *time.Time `json:"build_ended_at,omitempty"`
	BuildError     string     `json:"build_error,omitempty" gorm:"type:text"`

	// 构建产出的聚合计数
	TotalHouseholds  int64 `json:"total_households" gorm:"default:0"`
	TotalIndividuals int64 `json:"total_individuals" gorm:"default:0"`
	SampleSize       int64 `json:"sample_size" gorm:"default:0"`

	// 列名显式声明，字段名里的数字会让默认命名策略推导出错误列名
	FemaleAgeGroup05Count   int64 `json:"female_age_group_0_5_count" gorm:"column:female_age_group_0_5_count;default:0"`
	FemaleAgeGroup611Count  int64 `json:"female_age_group_6_11_count" gorm:"column:female_age_group_6_11_count;default:0"`
	FemaleAgeGroup1217Count int64 `json:"female_age_group_12_17_count" gorm:"column:female_age_group_12_17_count;default:0"`
	FemaleAgeGroup1859Count int64 `json:"female_age_group_18_59_count" gorm:"column:female_age_group_18_59_count;default:0"`
	FemaleAgeGroup60Count   int64 `json:"female_age_group_60_count" gorm:"column:female_age_group_60_count;default:0"`
	MaleAgeGroup05Count     int64 `json:"male_age_group_0_5_count" gorm:"column:male_age_group_0_5_count;default:0"`
	MaleAgeGroup611Count    int64 `json:"male_age_group_6_11_count" gorm:"column:male_age_group_6_11_count;default:0"`
	MaleAgeGroup1217Count   int64 `json:"male_age_group_12_17_count" gorm:"column:male_age_group_12_17_count;default:0"`
	MaleAgeGroup1859Count   int64 `json:"male_age_group_18_59_count" gorm:"column:male_age_group_18_59_count;default:0"`
	MaleAgeGroup60Count     int64 `json:"male_age_group_60_count" gorm:"column:male_age_group_60_count;default:0"`
	ChildrenDisabledCount   int64 `json:"children_disabled_count" gorm:"default:0"`
	AdultsDisabledCount     int64 `json:"adults_disabled_count" gorm:"default:0"`

	// ArgumentsSnapshot 构建时使用的抽样参数快照，保证结果可追溯
	ArgumentsSnapshot JSONB `json:"arguments_snapshot,omitempty" gorm:"type:jsonb"`

	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	TargetingCriteria *TargetingCriteria `json:"targeting_criteria,omitempty" gorm:"foreignKey:TargetingCriteriaID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验抽样配置
func (pp *PaymentPlan) BeforeCreate(tx *gorm.DB) error {
	if pp.ID == "" {
		pp.ID = uuid.New().String()
	}
	return pp.ValidateSampling()
}

// ValidateSampling 校验 sampling_type 与参数的对应关系
func (pp *PaymentPlan) ValidateSampling() error {
	if !meta.IsValidSamplingType(pp.SamplingType) {
		return apperrors.NewFieldValidation("sampling_type", "未知的抽样类型: %s", pp.SamplingType)
	}
	if pp.SamplingType == meta.SamplingFullList && pp.RandomSamplingArguments != nil {
		return apperrors.NewFieldValidation("random_sampling_arguments", "FULL_LIST 抽样不允许携带随机抽样参数")
	}
	if pp.SamplingType == meta.SamplingRandom {
		if pp.RandomSamplingArguments == nil {
			return apperrors.NewFieldValidation("random_sampling_arguments", "RANDOM 抽样必须提供随机抽样参数")
		}
		if pp.FullListArguments != nil {
			return apperrors.NewFieldValidation("full_list_arguments", "RANDOM 抽样不允许携带全列表参数")
		}
	}
	return nil
}

// CanBuild 判断是否允许发起构建
func (pp *PaymentPlan) CanBuild() bool {
	return pp.BuildStatus == meta.BuildStatusPending ||
		pp.BuildStatus == meta.BuildStatusOK ||
		pp.BuildStatus == meta.BuildStatusFailed
}

// IsBuilding 判断是否正在构建
func (pp *PaymentPlan) IsBuilding() bool {
	return pp.BuildStatus == meta.BuildStatusBuilding
}

// PaymentPlanHousehold 支付计划成员快照行（显式多对多，非实时查询）
// 快照落库后住户的后续变动不影响已构建计划
type PaymentPlanHousehold struct {
	ID            string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PaymentPlanID string `json:"payment_plan_id" gorm:"not null;type:varchar(36);index:idx_plan_household,unique"`
	HouseholdID   string `json:"household_id" gorm:"not null;type:varchar(36);index:idx_plan_household,unique"`

	// VulnerabilityScore 资格脚本计算出的得分，未启用脚本时为空
	VulnerabilityScore *float64  `json:"vulnerability_score,omitempty"`
	CreatedAt          time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (ph *PaymentPlanHousehold) BeforeCreate(tx *gorm.DB) error {
	if ph.ID == "" {
		ph.ID = uuid.New().String()
	}
	return nil
}
