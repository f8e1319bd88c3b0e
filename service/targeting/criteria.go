/*
 * @module service/targeting/criteria
 * @description 瞄准条件求值器：把声明式条件树翻译为数据库查询谓词（规则间OR、规则内AND）
 * @architecture 分层架构 - 业务服务层，纯查询构造无副作用
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 条件校验 -> 逐规则构造谓词 -> OR 组合 -> 返回过滤后的查询
 * @rules 比较方法语义由字段声明类型决定；领取人过滤器经主领取人子查询折回住户范围
 * @dependencies gorm.io/gorm, github.com/spf13/cast, service/models, service/meta
 * @refs service/models/targeting.go, service/payment_plan/builder.go
 */

package targeting

import (
	"fmt"
	"strings"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// CriteriaEvaluator 瞄准条件求值器
type CriteriaEvaluator struct {
	db *gorm.DB
}

// NewCriteriaEvaluator 创建瞄准条件求值器
func NewCriteriaEvaluator(db *gorm.DB) *CriteriaEvaluator {
	return &CriteriaEvaluator{db: db}
}

// Apply 在未撤回住户的基础查询上应用条件树，返回过滤后的查询
// 语义: (rule1 的过滤器 AND 组合) OR (rule2 的过滤器 AND 组合) OR ...
func (e *CriteriaEvaluator) Apply(base *gorm.DB, criteria *models.TargetingCriteria) (*gorm.DB, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	var combined *gorm.DB
	for i := range criteria.Rules {
		ruleCond, err := e.buildRuleCondition(&criteria.Rules[i])
		if err != nil {
			return nil, err
		}
		if combined == nil {
			combined = ruleCond
		} else {
			combined = combined.Or(ruleCond)
		}
	}

	return base.Where(combined), nil
}

// buildRuleCondition 构造单条规则的 AND 组合谓词
func (e *CriteriaEvaluator) buildRuleCondition(rule *models.TargetingCriteriaRule) (*gorm.DB, error) {
	cond := e.db.Session(&gorm.Session{NewDB: true})

	for i := range rule.Filters {
		f := &rule.Filters[i]
		def, err := f.FieldDefinition()
		if err != nil {
			return nil, apperrors.NewFieldValidation(f.FieldName, "%v", err)
		}
		expr, args, err := e.buildPredicate(def, f.ComparisonMethod, f.Arguments, "households", f.RoundNumber)
		if err != nil {
			return nil, err
		}
		cond = cond.Where(expr, args...)
	}

	// 个人过滤器：住户任一未撤回成员命中即住户命中
	if len(rule.IndividualFilters) > 0 {
		sub := e.db.Session(&gorm.Session{NewDB: true}).
			Model(&models.Individual{}).
			Select("individuals.household_id").
			Where("individuals.withdrawn = ?", false)
		for i := range rule.IndividualFilters {
			f := &rule.IndividualFilters[i]
			def, err := meta.GetFieldDefinition(f.FieldName, meta.FlexFieldNotClassified, "")
			if err != nil {
				return nil, apperrors.NewFieldValidation(f.FieldName, "%v", err)
			}
			expr, args, err := e.buildPredicate(def, f.ComparisonMethod, f.Arguments, "individuals", nil)
			if err != nil {
				return nil, err
			}
			sub = sub.Where(expr, args...)
		}
		cond = cond.Where("households.id IN (?)", sub)
	}

	// 领取人过滤器：限定住户主领取人本人的属性，再折回住户范围
	if len(rule.CollectorFilters) > 0 {
		sub := e.db.Session(&gorm.Session{NewDB: true}).
			Model(&models.IndividualRoleInHousehold{}).
			Select("individual_role_in_households.household_id").
			Joins("JOIN individuals ON individuals.id = individual_role_in_households.individual_id").
			Where("individual_role_in_households.role = ?", models.RolePrimary)
		for i := range rule.CollectorFilters {
			f := &rule.CollectorFilters[i]
			def, err := meta.GetFieldDefinition(f.FieldName, meta.FlexFieldNotClassified, "")
			if err != nil {
				return nil, apperrors.NewFieldValidation(f.FieldName, "%v", err)
			}
			expr, args, err := e.buildPredicate(def, f.ComparisonMethod, f.Arguments, "individuals", nil)
			if err != nil {
				return nil, err
			}
			sub = sub.Where(expr, args...)
		}
		cond = cond.Where("households.id IN (?)", sub)
	}

	return cond, nil
}

// buildPredicate 按字段类型和比较方法生成 SQL 谓词与参数
func (e *CriteriaEvaluator) buildPredicate(def meta.FieldDefinition, method string, arguments []string, table string, roundNumber *int) (string, []interface{}, error) {
	column, err := e.columnExpr(def, table, roundNumber)
	if err != nil {
		return "", nil, err
	}

	switch method {
	case meta.ComparisonEquals:
		val, err := e.castArgument(def, arguments[0])
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s = ?", column), []interface{}{val}, nil

	case meta.ComparisonNotEquals:
		val, err := e.castArgument(def, arguments[0])
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s <> ?", column), []interface{}{val}, nil

	case meta.ComparisonGreaterThan:
		val, err := e.castArgument(def, arguments[0])
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s > ?", column), []interface{}{val}, nil

	case meta.ComparisonLessThan:
		val, err := e.castArgument(def, arguments[0])
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s < ?", column), []interface{}{val}, nil

	case meta.ComparisonRange:
		min, max, err := e.castRange(def, arguments)
		if err != nil {
			return "", nil, err
		}
		// 边界双端含入
		return fmt.Sprintf("%s BETWEEN ? AND ?", column), []interface{}{min, max}, nil

	case meta.ComparisonNotInRange:
		min, max, err := e.castRange(def, arguments)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s NOT BETWEEN ? AND ?", column), []interface{}{min, max}, nil

	case meta.ComparisonContains:
		if def.Type == meta.FieldTypeSelectMany {
			// 多选字段：JSONB 数组文本包含，每个参数都必须命中
			var exprs []string
			var args []interface{}
			for _, a := range arguments {
				exprs = append(exprs, fmt.Sprintf("CAST(%s AS TEXT) LIKE ?", column))
				args = append(args, fmt.Sprintf("%%\"%s\"%%", a))
			}
			return strings.Join(exprs, " AND "), args, nil
		}
		// 字符串字段：大小写不敏感的子串匹配
		return fmt.Sprintf("LOWER(%s) LIKE ?", column), []interface{}{"%" + strings.ToLower(arguments[0]) + "%"}, nil
	}

	return "", nil, apperrors.NewFieldValidation(def.Name, "未知的比较方法: %s", method)
}

// columnExpr 返回字段的列表达式；弹性字段按方言生成 JSONB 取值表达式
func (e *CriteriaEvaluator) columnExpr(def meta.FieldDefinition, table string, roundNumber *int) (string, error) {
	if !def.IsFlexField {
		return fmt.Sprintf("%s.%s", table, def.Column), nil
	}

	isNumeric := def.Type == meta.FieldTypeInteger || def.Type == meta.FieldTypeDecimal

	var expr string
	switch e.db.Dialector.Name() {
	case "postgres":
		if roundNumber != nil {
			// PDU 字段: flex_fields -> field -> round -> value
			expr = fmt.Sprintf("%s.flex_fields -> '%s' -> '%d' ->> 'value'", table, def.Name, *roundNumber)
		} else {
			expr = fmt.Sprintf("%s.flex_fields ->> '%s'", table, def.Name)
		}
		if isNumeric {
			expr = fmt.Sprintf("CAST(%s AS NUMERIC)", expr)
		}
	default:
		// sqlite（测试环境）走 json_extract
		path := fmt.Sprintf("$.\"%s\"", def.Name)
		if roundNumber != nil {
			path = fmt.Sprintf("$.\"%s\".\"%d\".value", def.Name, *roundNumber)
		}
		expr = fmt.Sprintf("json_extract(%s.flex_fields, '%s')", table, path)
	}
	return expr, nil
}

// castArgument 把字符串参数按字段类型转换为查询参数
func (e *CriteriaEvaluator) castArgument(def meta.FieldDefinition, raw string) (interface{}, error) {
	switch def.Type {
	case meta.FieldTypeInteger:
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, apperrors.NewFieldValidation(def.Name, "参数 %q 不是合法整数", raw)
		}
		return v, nil
	case meta.FieldTypeDecimal:
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, apperrors.NewFieldValidation(def.Name, "参数 %q 不是合法数值", raw)
		}
		return v, nil
	case meta.FieldTypeBool:
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, apperrors.NewFieldValidation(def.Name, "参数 %q 不是合法布尔值", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}

// castRange 转换 RANGE 的上下界参数
func (e *CriteriaEvaluator) castRange(def meta.FieldDefinition, arguments []string) (interface{}, interface{}, error) {
	min, err := e.castArgument(def, arguments[0])
	if err != nil {
		return nil, nil, err
	}
	max, err := e.castArgument(def, arguments[1])
	if err != nil {
		return nil, nil, err
	}
	return min, max, nil
}
