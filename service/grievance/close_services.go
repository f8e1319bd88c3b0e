/*
 * @module service/grievance/close_services
 * @description 工单关闭副作用：按类别/问题类型分发到对应的关闭处理函数
 * @architecture 分层架构 - 业务服务层，标签分发取代多态明细
 * @documentReference ai_docs/grievance_req.md
 * @stateFlow 关闭确认 -> 分发处理函数 -> 住户/个人变更 -> 人口学重算
 * @rules 关联实体不存在必须报领域错误；数据更新只应用逐字段 approve_status 为真的变更
 * @dependencies gorm.io/gorm, github.com/spf13/cast, service/models, service/meta
 * @refs service/grievance/grievance_service.go, service/grievance/household_ops.go
 */

package grievance

import (
	"fmt"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// closeFunc 类别关闭处理函数
type closeFunc func(tx *gorm.DB, t *models.GrievanceTicket) error

// closeServiceFor 按类别与问题类型取关闭处理函数；反馈/转介/敏感类无副作用
func closeServiceFor(t *models.GrievanceTicket) closeFunc {
	switch t.Category {
	case meta.CategoryDataChange:
		switch t.IssueType {
		case meta.IssueTypeAddIndividual:
			return closeAddIndividual
		case meta.IssueTypeDeleteIndividual:
			return closeDeleteIndividual
		case meta.IssueTypeDeleteHousehold:
			return closeDeleteHousehold
		case meta.IssueTypeHouseholdDataUpdate:
			return closeHouseholdDataUpdate
		case meta.IssueTypeIndividualDataUpdate:
			return closeIndividualDataUpdate
		}
	case meta.CategoryNeedsAdjudication:
		return closeNeedsAdjudication
	case meta.CategorySystemFlagging:
		return closeSystemFlagging
	}
	return nil
}

// closeAddIndividual 新增成员：创建个人、住户规模按新增数递增（原规模为空时按成员数重算）
func closeAddIndividual(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.AddIndividualDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少新增个人明细")
	}

	household, err := loadHousehold(tx, details.HouseholdID)
	if err != nil {
		return err
	}

	added := 0
	for _, data := range details.IndividualData {
		if len(data) == 0 {
			continue
		}
		ind := models.Individual{
			ProgramID:   household.ProgramID,
			HouseholdID: &household.ID,
			FullName:    cast.ToString(data["full_name"]),
			Sex:         cast.ToString(data["sex"]),
			PhoneNo:     cast.ToString(data["phone_no"]),
		}
		if birth, err := time.Parse("2006-01-02", cast.ToString(data["birth_date"])); err == nil {
			ind.BirthDate = birth
		}
		if ind.FullName == "" {
			return apperrors.NewFieldValidation("full_name", "新增个人缺少姓名")
		}
		if err := tx.Create(&ind).Error; err != nil {
			return fmt.Errorf("创建个人失败: %w", err)
		}
		added++
	}

	updates := map[string]interface{}{}
	if household.Size != nil {
		updates["size"] = *household.Size + added
	} else {
		count, err := activeMemberCount(tx, household.ID)
		if err != nil {
			return err
		}
		updates["size"] = count
	}
	if err := models.UpdateWithVersion(tx, &models.Household{}, household.ID, household.Version, updates); err != nil {
		return err
	}
	household.Version++

	return recountDemographics(tx, household)
}

// closeDeleteIndividual 删除成员：软撤回个人、重指派其持有的领取人角色、重算住户人口学计数
func closeDeleteIndividual(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.DeleteIndividualDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少删除个人明细")
	}

	individual, err := loadIndividual(tx, details.IndividualID)
	if err != nil {
		return err
	}

	if err := withdrawIndividual(tx, individual); err != nil {
		return err
	}
	if err := reassignRoles(tx, individual, details.RoleReassignData); err != nil {
		return err
	}

	if individual.HouseholdID != nil {
		household, err := loadHousehold(tx, *individual.HouseholdID)
		if err != nil {
			return err
		}
		if household.Size != nil {
			count, err := activeMemberCount(tx, household.ID)
			if err != nil {
				return err
			}
			if err := models.UpdateWithVersion(tx, &models.Household{}, household.ID, household.Version,
				map[string]interface{}{"size": count}); err != nil {
				return err
			}
			household.Version++
		}
		return recountDemographics(tx, household)
	}
	return nil
}

// closeDeleteHousehold 删除住户：外部领取人守卫通过后整户软撤回
func closeDeleteHousehold(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.DeleteHouseholdDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少删除住户明细")
	}

	household, err := loadHousehold(tx, details.HouseholdID)
	if err != nil {
		return err
	}
	return withdrawHousehold(tx, household)
}

// closeHouseholdDataUpdate 住户数据更新：仅应用逐字段 approve_status 为真的变更
func closeHouseholdDataUpdate(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.HouseholdDataUpdateDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少住户数据更新明细")
	}

	household, err := loadHousehold(tx, details.HouseholdID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	flex := household.FlexFields
	for field, raw := range details.HouseholdData {
		change, ok := raw.(map[string]interface{})
		if !ok || !cast.ToBool(change["approve_status"]) {
			continue
		}
		value := change["value"]
		switch field {
		case "size":
			updates["size"] = cast.ToInt(value)
		case "address":
			updates["address"] = cast.ToString(value)
		case "admin1", "admin2", "admin3", "admin4":
			updates[field] = cast.ToString(value)
		default:
			if flex == nil {
				flex = models.JSONB{}
			}
			flex[field] = value
		}
	}
	if len(updates) == 0 && flex == nil {
		return nil
	}
	if flex != nil {
		updates["flex_fields"] = flex
	}
	return models.UpdateWithVersion(tx, &models.Household{}, household.ID, household.Version, updates)
}

// closeIndividualDataUpdate 个人数据更新：结构与住户更新一致
func closeIndividualDataUpdate(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.IndividualDataUpdateDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少个人数据更新明细")
	}

	individual, err := loadIndividual(tx, details.IndividualID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	flex := individual.FlexFields
	for field, raw := range details.IndividualData {
		change, ok := raw.(map[string]interface{})
		if !ok || !cast.ToBool(change["approve_status"]) {
			continue
		}
		value := change["value"]
		switch field {
		case "full_name":
			updates["full_name"] = cast.ToString(value)
		case "given_name":
			updates["given_name"] = cast.ToString(value)
		case "family_name":
			updates["family_name"] = cast.ToString(value)
		case "phone_no":
			updates["phone_no"] = cast.ToString(value)
		case "sex":
			updates["sex"] = cast.ToString(value)
		case "birth_date":
			if birth, err := time.Parse("2006-01-02", cast.ToString(value)); err == nil {
				updates["birth_date"] = birth
			}
		default:
			if flex == nil {
				flex = models.JSONB{}
			}
			flex[field] = value
		}
	}
	if len(updates) == 0 && flex == nil {
		return nil
	}
	if flex != nil {
		updates["flex_fields"] = flex
	}
	if err := models.UpdateWithVersion(tx, &models.Individual{}, individual.ID, individual.Version, updates); err != nil {
		return err
	}

	// 姓名/生日等生平字段变动后住户人口学计数可能失真，成员归属住户时重算
	if individual.HouseholdID != nil {
		household, err := loadHousehold(tx, *individual.HouseholdID)
		if err != nil {
			return err
		}
		return recountDemographics(tx, household)
	}
	return nil
}

// closeNeedsAdjudication 查重裁定：勾选为重复的个人确认重复并撤回，其余候选确认唯一
func closeNeedsAdjudication(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.NeedsAdjudicationDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少待裁定明细")
	}

	selected := map[string]bool{}
	for _, id := range details.SelectedIndividualIDs {
		selected[id] = true
	}

	candidates := append([]string{details.GoldenRecordsIndividualID}, details.PossibleDuplicateIDs...)
	for _, id := range candidates {
		individual, err := loadIndividual(tx, id)
		if err != nil {
			return err
		}

		if selected[id] {
			now := time.Now()
			updates := map[string]interface{}{
				"duplicate":                          true,
				"withdrawn":                          true,
				"withdrawn_date":                     now,
				"deduplication_golden_record_status": models.DedupStatusDuplicate,
			}
			if err := models.UpdateWithVersion(tx, &models.Individual{}, individual.ID, individual.Version, updates); err != nil {
				return err
			}
			if individual.HouseholdID != nil {
				household, err := loadHousehold(tx, *individual.HouseholdID)
				if err != nil {
					return err
				}
				if err := recountDemographics(tx, household); err != nil {
					return err
				}
			}
			continue
		}

		// 未勾选即确认与金记录为不同自然人
		if err := models.UpdateWithVersion(tx, &models.Individual{}, individual.ID, individual.Version,
			map[string]interface{}{"deduplication_golden_record_status": models.DedupStatusUnique}); err != nil {
			return err
		}
	}
	return nil
}

// closeSystemFlagging 制裁名单命中裁定：审批通过即确认命中
func closeSystemFlagging(tx *gorm.DB, t *models.GrievanceTicket) error {
	details := t.SystemFlaggingDetails
	if details == nil {
		return apperrors.NewValidation("工单缺少命中明细")
	}

	individual, err := loadIndividual(tx, details.IndividualID)
	if err != nil {
		return err
	}
	return models.UpdateWithVersion(tx, &models.Individual{}, individual.ID, individual.Version,
		map[string]interface{}{"sanction_list_confirmed_match": true})
}
