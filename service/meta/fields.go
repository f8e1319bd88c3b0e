/*
 * @module service/meta/fields
 * @description 瞄准条件可用字段的元数据注册表：字段类型、归属范围、允许的比较方法
 * @architecture 元数据层 - 静态注册表
 * @documentReference ai_docs/targeting_req.md
 * @rules 过滤器的比较方法必须对字段声明类型合法；PDU 字段必须携带轮次号
 * @dependencies 无
 * @refs service/targeting/criteria.go
 */

package meta

import "fmt"

// 字段类型
const (
	FieldTypeString     = "STRING"
	FieldTypeInteger    = "INTEGER"
	FieldTypeDecimal    = "DECIMAL"
	FieldTypeDate       = "DATE"
	FieldTypeBool       = "BOOL"
	FieldTypeSelectOne  = "SELECT_ONE"
	FieldTypeSelectMany = "SELECT_MANY"
)

// 比较方法
const (
	ComparisonEquals      = "EQUALS"
	ComparisonNotEquals   = "NOT_EQUALS"
	ComparisonRange       = "RANGE"
	ComparisonNotInRange  = "NOT_IN_RANGE"
	ComparisonGreaterThan = "GREATER_THAN"
	ComparisonLessThan    = "LESS_THAN"
	ComparisonContains    = "CONTAINS"
)

// 字段归属范围
const (
	FieldScopeHousehold  = "household"
	FieldScopeIndividual = "individual"
	FieldScopeCollector  = "collector" // 作用于住户主领取人本人的属性
)

// 弹性字段分类
const (
	FlexFieldNotClassified = "NOT_FLEX_FIELD"
	FlexFieldBasic         = "FLEX_FIELD_BASIC"
	FlexFieldPDU           = "FLEX_FIELD_PDU" // 周期性数据字段，按轮次取值
)

// FieldDefinition 瞄准字段定义
type FieldDefinition struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Type        string   `json:"type"`
	Scope       string   `json:"scope"`
	Column      string   `json:"column,omitempty"` // 数据库列名，弹性字段为空
	IsFlexField bool     `json:"is_flex_field"`
	Choices     []string `json:"choices,omitempty"`
}

// 各字段类型允许的比较方法
var allowedComparisons = map[string][]string{
	FieldTypeString:     {ComparisonEquals, ComparisonNotEquals, ComparisonContains},
	FieldTypeInteger:    {ComparisonEquals, ComparisonNotEquals, ComparisonRange, ComparisonNotInRange, ComparisonGreaterThan, ComparisonLessThan},
	FieldTypeDecimal:    {ComparisonEquals, ComparisonNotEquals, ComparisonRange, ComparisonNotInRange, ComparisonGreaterThan, ComparisonLessThan},
	FieldTypeDate:       {ComparisonEquals, ComparisonNotEquals, ComparisonRange, ComparisonNotInRange, ComparisonGreaterThan, ComparisonLessThan},
	FieldTypeBool:       {ComparisonEquals, ComparisonNotEquals},
	FieldTypeSelectOne:  {ComparisonEquals, ComparisonNotEquals},
	FieldTypeSelectMany: {ComparisonContains},
}

// CoreFieldDefinitions 内置瞄准字段注册表
var CoreFieldDefinitions = map[string]FieldDefinition{
	"size": {
		Name: "size", DisplayName: "住户规模", Type: FieldTypeInteger,
		Scope: FieldScopeHousehold, Column: "size",
	},
	"admin1": {
		Name: "admin1", DisplayName: "一级行政区", Type: FieldTypeSelectOne,
		Scope: FieldScopeHousehold, Column: "admin1",
	},
	"admin2": {
		Name: "admin2", DisplayName: "二级行政区", Type: FieldTypeSelectOne,
		Scope: FieldScopeHousehold, Column: "admin2",
	},
	"address": {
		Name: "address", DisplayName: "地址", Type: FieldTypeString,
		Scope: FieldScopeHousehold, Column: "address",
	},
	"children_disabled_count": {
		Name: "children_disabled_count", DisplayName: "残障儿童数", Type: FieldTypeInteger,
		Scope: FieldScopeHousehold, Column: "children_disabled_count",
	},
	"full_name": {
		Name: "full_name", DisplayName: "姓名", Type: FieldTypeString,
		Scope: FieldScopeIndividual, Column: "full_name",
	},
	"sex": {
		Name: "sex", DisplayName: "性别", Type: FieldTypeSelectOne,
		Scope: FieldScopeIndividual, Column: "sex", Choices: []string{"FEMALE", "MALE"},
	},
	"disability": {
		Name: "disability", DisplayName: "残障", Type: FieldTypeBool,
		Scope: FieldScopeIndividual, Column: "disability",
	},
	"observed_disabilities": {
		Name: "observed_disabilities", DisplayName: "观察到的残障类型", Type: FieldTypeSelectMany,
		Scope: FieldScopeIndividual, Column: "observed_disabilities",
	},
	"phone_no": {
		Name: "phone_no", DisplayName: "电话号码", Type: FieldTypeString,
		Scope: FieldScopeCollector, Column: "phone_no",
	},
}

// GetFieldDefinition 按名称查找字段定义；弹性字段按给定分类和类型动态构造
func GetFieldDefinition(name, flexClassification, flexType string) (FieldDefinition, error) {
	if flexClassification == FlexFieldNotClassified || flexClassification == "" {
		def, ok := CoreFieldDefinitions[name]
		if !ok {
			return FieldDefinition{}, fmt.Errorf("未知的瞄准字段: %s", name)
		}
		return def, nil
	}

	// 弹性字段：没有固定列，值存放在 flex_fields JSONB 中
	fieldType := flexType
	if fieldType == "" {
		fieldType = FieldTypeString
	}
	if _, ok := allowedComparisons[fieldType]; !ok {
		return FieldDefinition{}, fmt.Errorf("未知的弹性字段类型: %s", fieldType)
	}
	return FieldDefinition{
		Name:        name,
		DisplayName: name,
		Type:        fieldType,
		Scope:       FieldScopeHousehold,
		IsFlexField: true,
	}, nil
}

// IsComparisonAllowed 判断比较方法是否对字段类型合法
func IsComparisonAllowed(fieldType, method string) bool {
	for _, m := range allowedComparisons[fieldType] {
		if m == method {
			return true
		}
	}
	return false
}

// AllowedComparisonMethods 返回字段类型允许的全部比较方法
func AllowedComparisonMethods(fieldType string) []string {
	return allowedComparisons[fieldType]
}
