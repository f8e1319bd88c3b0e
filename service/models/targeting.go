/*
 * @module service/models/targeting
 * @description 瞄准条件树模型：条件 -> 规则(规则间OR) -> 过滤器(规则内AND)
 * @architecture 分层架构 - 数据模型层，显式表达式树而非拼接查询字符串
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow N/A
 * @rules 比较方法必须对字段类型合法；字段归属范围必须与过滤器种类一致；
 *        RANGE/NOT_IN_RANGE 必须恰好两个参数且 min <= max；PDU 字段必须带轮次号
 * @dependencies gorm.io/gorm, github.com/google/uuid, github.com/lib/pq, service/meta
 * @refs service/targeting/criteria.go
 */

package models

import (
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// TargetingCriteria 瞄准条件树根节点
type TargetingCriteria struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Rules []TargetingCriteriaRule `json:"rules" gorm:"foreignKey:TargetingCriteriaID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (tc *TargetingCriteria) BeforeCreate(tx *gorm.DB) error {
	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	return nil
}

// Validate 校验整棵条件树
func (tc *TargetingCriteria) Validate() error {
	if len(tc.Rules) == 0 {
		return apperrors.NewValidation("瞄准条件至少需要一条规则")
	}
	for i := range tc.Rules {
		if err := tc.Rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TargetingCriteriaRule 规则，规则之间按 OR 组合
type TargetingCriteriaRule struct {
	ID                  string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TargetingCriteriaID string    `json:"targeting_criteria_id" gorm:"not null;type:varchar(36);index"`
	CreatedAt           time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 同一规则内的过滤器按 AND 组合
	Filters []TargetingCriteriaRuleFilter `json:"filters" gorm:"foreignKey:RuleID"`
	// 作用于住户主领取人属性的过滤器，结果折回住户范围
	CollectorFilters []TargetingCollectorRuleFilter `json:"collector_filters,omitempty" gorm:"foreignKey:RuleID"`
	// 作用于住户成员属性的过滤器，命中任一成员即住户命中
	IndividualFilters []TargetingIndividualRuleFilter `json:"individual_filters,omitempty" gorm:"foreignKey:RuleID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *TargetingCriteriaRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// Validate 校验规则及其全部过滤器
func (r *TargetingCriteriaRule) Validate() error {
	if len(r.Filters) == 0 && len(r.CollectorFilters) == 0 && len(r.IndividualFilters) == 0 {
		return apperrors.NewValidation("瞄准规则至少需要一个过滤器")
	}
	for i := range r.Filters {
		if err := r.Filters[i].Validate(); err != nil {
			return err
		}
	}
	for i := range r.CollectorFilters {
		if err := r.CollectorFilters[i].Validate(); err != nil {
			return err
		}
	}
	for i := range r.IndividualFilters {
		if err := r.IndividualFilters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TargetingCriteriaRuleFilter 住户范围过滤器
type TargetingCriteriaRuleFilter struct {
	ID               string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID           string         `json:"rule_id" gorm:"not null;type:varchar(36);index"`
	FieldName        string         `json:"field_name" gorm:"not null;size:100"`
	ComparisonMethod string         `json:"comparison_method" gorm:"not null;size:20"`
	Arguments        pq.StringArray `json:"arguments" gorm:"type:text[]"`

	// 弹性字段分类与类型；PDU 字段取值需要轮次号
	FlexFieldClassification string    `json:"flex_field_classification" gorm:"size:30;default:'NOT_FLEX_FIELD'"`
	FlexFieldType           string    `json:"flex_field_type,omitempty" gorm:"size:20"`
	RoundNumber             *int      `json:"round_number,omitempty"`
	CreatedAt               time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (f *TargetingCriteriaRuleFilter) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

// Validate 校验过滤器：字段存在、归属住户范围、比较方法合法、参数数量与取值合法
func (f *TargetingCriteriaRuleFilter) Validate() error {
	return validateFilter(f.FieldName, f.ComparisonMethod, f.Arguments, f.FlexFieldClassification, f.FlexFieldType, f.RoundNumber, meta.FieldScopeHousehold)
}

// FieldDefinition 返回过滤器引用的字段定义
func (f *TargetingCriteriaRuleFilter) FieldDefinition() (meta.FieldDefinition, error) {
	return meta.GetFieldDefinition(f.FieldName, f.FlexFieldClassification, f.FlexFieldType)
}

// TargetingCollectorRuleFilter 领取人范围过滤器，校验逻辑与住户过滤器一致
type TargetingCollectorRuleFilter struct {
	ID               string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID           string         `json:"rule_id" gorm:"not null;type:varchar(36);index"`
	FieldName        string         `json:"field_name" gorm:"not null;size:100"`
	ComparisonMethod string         `json:"comparison_method" gorm:"not null;size:20"`
	Arguments        pq.StringArray `json:"arguments" gorm:"type:text[]"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (f *TargetingCollectorRuleFilter) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

// Validate 校验领取人过滤器
func (f *TargetingCollectorRuleFilter) Validate() error {
	return validateFilter(f.FieldName, f.ComparisonMethod, f.Arguments, meta.FlexFieldNotClassified, "", nil, meta.FieldScopeCollector)
}

// TargetingIndividualRuleFilter 个人范围过滤器
type TargetingIndividualRuleFilter struct {
	ID               string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID           string         `json:"rule_id" gorm:"not null;type:varchar(36);index"`
	FieldName        string         `json:"field_name" gorm:"not null;size:100"`
	ComparisonMethod string         `json:"comparison_method" gorm:"not null;size:20"`
	Arguments        pq.StringArray `json:"arguments" gorm:"type:text[]"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (f *TargetingIndividualRuleFilter) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

// Validate 校验个人过滤器
func (f *TargetingIndividualRuleFilter) Validate() error {
	return validateFilter(f.FieldName, f.ComparisonMethod, f.Arguments, meta.FlexFieldNotClassified, "", nil, meta.FieldScopeIndividual)
}

// validateFilter 过滤器通用校验
func validateFilter(fieldName, method string, arguments []string, flexClassification, flexType string, roundNumber *int, scope string) error {
	def, err := meta.GetFieldDefinition(fieldName, flexClassification, flexType)
	if err != nil {
		return apperrors.NewFieldValidation(fieldName, "%v", err)
	}

	if def.Scope != scope {
		return apperrors.NewFieldValidation(fieldName, "字段归属 %s 范围，不能用于 %s 过滤器", def.Scope, scope)
	}

	if !meta.IsComparisonAllowed(def.Type, method) {
		return apperrors.NewFieldValidation(fieldName, "比较方法 %s 对字段类型 %s 不合法", method, def.Type)
	}

	if flexClassification == meta.FlexFieldPDU && roundNumber == nil {
		return apperrors.NewFieldValidation(fieldName, "周期性数据字段必须指定轮次号")
	}

	switch method {
	case meta.ComparisonRange, meta.ComparisonNotInRange:
		if len(arguments) != 2 {
			return apperrors.NewFieldValidation(fieldName, "%s 过滤器需要恰好两个参数 (min, max)，收到 %d 个", method, len(arguments))
		}
		min, errMin := cast.ToFloat64E(arguments[0])
		max, errMax := cast.ToFloat64E(arguments[1])
		if errMin == nil && errMax == nil && min > max {
			return apperrors.NewFieldValidation(fieldName, "区间下界 %v 不能大于上界 %v", arguments[0], arguments[1])
		}
	case meta.ComparisonEquals, meta.ComparisonNotEquals, meta.ComparisonGreaterThan, meta.ComparisonLessThan:
		if len(arguments) != 1 {
			return apperrors.NewFieldValidation(fieldName, "%s 过滤器需要恰好一个参数，收到 %d 个", method, len(arguments))
		}
	case meta.ComparisonContains:
		if len(arguments) == 0 {
			return apperrors.NewFieldValidation(fieldName, "CONTAINS 过滤器至少需要一个参数")
		}
	default:
		return apperrors.NewFieldValidation(fieldName, "未知的比较方法: %s", method)
	}

	return nil
}
