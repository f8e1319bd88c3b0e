/*
 * @module service/grievance/household_ops
 * @description 住户/个人变更操作：软撤回、外部领取人守卫、领取人角色重指派、人口学计数重算
 * @architecture 分层架构 - 业务服务层，供关闭副作用复用
 * @documentReference ai_docs/grievance_req.md
 * @rules 住户撤回前必须确认没有户外个人对其持有领取人角色；计数重算只统计未撤回且未确认重复的成员
 * @dependencies gorm.io/gorm, service/models
 * @refs service/grievance/close_services.go
 */

package grievance

import (
	"fmt"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// loadHousehold 加载住户，不存在时报领域错误
func loadHousehold(tx *gorm.DB, id string) (*models.Household, error) {
	var household models.Household
	err := tx.First(&household, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("住户 %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询住户失败: %w", err)
	}
	return &household, nil
}

// loadIndividual 加载个人，不存在时报领域错误
func loadIndividual(tx *gorm.DB, id string) (*models.Individual, error) {
	var individual models.Individual
	err := tx.First(&individual, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("个人 %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询个人失败: %w", err)
	}
	return &individual, nil
}

// activeMemberCount 住户未撤回且未确认重复的成员数
func activeMemberCount(tx *gorm.DB, householdID string) (int, error) {
	var count int64
	err := models.ActiveIndividuals(tx.Model(&models.Individual{})).
		Where("household_id = ?", householdID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计住户成员失败: %w", err)
	}
	return int(count), nil
}

// withdrawIndividual 软撤回个人
func withdrawIndividual(tx *gorm.DB, individual *models.Individual) error {
	now := time.Now()
	err := models.UpdateWithVersion(tx, &models.Individual{}, individual.ID, individual.Version,
		map[string]interface{}{"withdrawn": true, "withdrawn_date": now})
	if err != nil {
		return err
	}
	individual.Withdrawn = true
	individual.WithdrawnDate = &now
	individual.Version++
	return nil
}

// withdrawHousehold 软撤回住户及其全部成员
// 户外个人仍对该住户持有领取人角色时拒绝撤回，避免留下悬空角色
func withdrawHousehold(tx *gorm.DB, household *models.Household) error {
	externals, err := externalCollectors(tx, household.ID)
	if err != nil {
		return err
	}
	if len(externals) > 0 {
		return apperrors.NewFieldValidation("household_id",
			"cannot withdraw household %s: external collector role held by individual %s", household.ID, externals[0])
	}

	now := time.Now()
	err = models.UpdateWithVersion(tx, &models.Household{}, household.ID, household.Version,
		map[string]interface{}{"withdrawn": true, "withdrawn_date": now})
	if err != nil {
		return err
	}
	household.Withdrawn = true
	household.WithdrawnDate = &now
	household.Version++

	// 成员逐个撤回
	var members []models.Individual
	if err := tx.Where("household_id = ? AND withdrawn = ?", household.ID, false).Find(&members).Error; err != nil {
		return fmt.Errorf("查询住户成员失败: %w", err)
	}
	for i := range members {
		if err := withdrawIndividual(tx, &members[i]); err != nil {
			return err
		}
	}
	return nil
}

// externalCollectors 返回对住户持有领取人角色但本人不属于该住户的个人ID
func externalCollectors(tx *gorm.DB, householdID string) ([]string, error) {
	var ids []string
	err := tx.Model(&models.IndividualRoleInHousehold{}).
		Joins("JOIN individuals ON individuals.id = individual_role_in_households.individual_id").
		Where("individual_role_in_households.household_id = ?", householdID).
		Where("individual_role_in_households.role IN ?", []string{models.RolePrimary, models.RoleAlternate}).
		Where("individuals.household_id IS NULL OR individuals.household_id <> ?", householdID).
		Pluck("individuals.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询外部领取人失败: %w", err)
	}
	return ids, nil
}

// reassignRoles 处理被撤回个人持有的领取人角色
// 指派方案给了新人选则改指；主领取人无方案时改指同住户另一活跃成员；其余角色直接删除
func reassignRoles(tx *gorm.DB, individual *models.Individual, reassignData models.JSONB) error {
	var roles []models.IndividualRoleInHousehold
	if err := tx.Where("individual_id = ?", individual.ID).Find(&roles).Error; err != nil {
		return fmt.Errorf("查询个人角色失败: %w", err)
	}

	for i := range roles {
		role := &roles[i]

		if newID := cast.ToString(reassignData[role.Role]); newID != "" {
			if err := tx.Model(role).Update("individual_id", newID).Error; err != nil {
				return fmt.Errorf("重指派角色失败: %w", err)
			}
			continue
		}

		if role.Role == models.RolePrimary || role.Role == models.RoleHead {
			var substitute models.Individual
			err := models.ActiveIndividuals(tx).
				Where("household_id = ? AND id <> ?", role.HouseholdID, individual.ID).
				Order("created_at").First(&substitute).Error
			if err == nil {
				if err := tx.Model(role).Update("individual_id", substitute.ID).Error; err != nil {
					return fmt.Errorf("重指派角色失败: %w", err)
				}
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return fmt.Errorf("查询替补成员失败: %w", err)
			}
		}

		if err := tx.Delete(role).Error; err != nil {
			return fmt.Errorf("删除角色失败: %w", err)
		}
	}
	return nil
}

// recountDemographics 按未撤回且未确认重复的成员重算住户人口学分桶计数
func recountDemographics(tx *gorm.DB, household *models.Household) error {
	return models.RecountDemographics(tx, household)
}
