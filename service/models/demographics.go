/*
 * @module service/models/demographics
 * @description 住户人口学分桶计数重算：年龄段 x 性别 + 残障计数
 * @architecture 分层架构 - 数据模型层，供登记导入与工单关闭副作用复用
 * @documentReference ai_docs/grievance_req.md
 * @rules 只统计未撤回且未确认重复的成员；写回走乐观锁
 * @dependencies gorm.io/gorm
 * @refs service/grievance/household_ops.go, service/registration/import_service.go
 */

package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RecountDemographics 按未撤回且未确认重复的成员重算住户人口学分桶计数
func RecountDemographics(tx *gorm.DB, household *Household) error {
	var members []Individual
	err := ActiveIndividuals(tx).Where("household_id = ?", household.ID).Find(&members).Error
	if err != nil {
		return fmt.Errorf("查询住户成员失败: %w", err)
	}

	counts := map[string]int{
		"female_age_group_0_5_count":   0,
		"female_age_group_6_11_count":  0,
		"female_age_group_12_17_count": 0,
		"female_age_group_18_59_count": 0,
		"female_age_group_60_count":    0,
		"male_age_group_0_5_count":     0,
		"male_age_group_6_11_count":    0,
		"male_age_group_12_17_count":   0,
		"male_age_group_18_59_count":   0,
		"male_age_group_60_count":      0,
		"children_disabled_count":      0,
		"adults_disabled_count":        0,
	}

	now := time.Now()
	for i := range members {
		m := &members[i]
		age := m.Age(now)
		counts[BucketColumn(m.Sex, age)]++
		if m.Disability {
			if age < 18 {
				counts["children_disabled_count"]++
			} else {
				counts["adults_disabled_count"]++
			}
		}
	}

	updates := make(map[string]interface{}, len(counts))
	for col, v := range counts {
		updates[col] = v
	}
	if err := UpdateWithVersion(tx, &Household{}, household.ID, household.Version, updates); err != nil {
		return err
	}
	household.Version++
	return nil
}

// BucketColumn 年龄段 x 性别对应的计数列
func BucketColumn(sex string, age int) string {
	prefix := "male"
	if sex == SexFemale {
		prefix = "female"
	}
	switch {
	case age <= 5:
		return prefix + "_age_group_0_5_count"
	case age <= 11:
		return prefix + "_age_group_6_11_count"
	case age <= 17:
		return prefix + "_age_group_12_17_count"
	case age <= 59:
		return prefix + "_age_group_18_59_count"
	default:
		return prefix + "_age_group_60_count"
	}
}
