/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新数据库表结构
 * @architecture 数据访问层 - 迁移管理
 * @documentReference ai_docs/model.md
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies beneficiary-service/service/models, gorm.io/gorm
 * @refs service/models
 */

package database

import (
	"beneficiary-service/service/models"
	"log"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	log.Println("开始数据库迁移...")

	// 项目与人口相关表
	err := db.AutoMigrate(
		&models.Program{},
		&models.ProgramCycle{},
		&models.Household{},
		&models.Individual{},
		&models.IndividualRoleInHousehold{},
		&models.Document{},
	)
	if err != nil {
		return err
	}

	// 登记导入与查重相关表
	err = db.AutoMigrate(
		&models.RegistrationBatch{},
		&models.SanctionListIndividual{},
	)
	if err != nil {
		return err
	}

	// 瞄准与支付计划相关表
	err = db.AutoMigrate(
		&models.TargetingCriteria{},
		&models.TargetingCriteriaRule{},
		&models.TargetingCriteriaRuleFilter{},
		&models.TargetingCollectorRuleFilter{},
		&models.TargetingIndividualRuleFilter{},
		&models.PaymentPlan{},
		&models.PaymentPlanHousehold{},
		&models.EligibilityRule{},
		&models.PaymentPlanEligibilityRule{},
	)
	if err != nil {
		return err
	}

	// 工单相关表
	err = db.AutoMigrate(
		&models.GrievanceTicket{},
		&models.TicketAddIndividualDetails{},
		&models.TicketDeleteIndividualDetails{},
		&models.TicketDeleteHouseholdDetails{},
		&models.TicketHouseholdDataUpdateDetails{},
		&models.TicketIndividualDataUpdateDetails{},
		&models.TicketNeedsAdjudicationDetails{},
		&models.TicketSystemFlaggingDetails{},
		&models.TicketReferralDetails{},
	)
	if err != nil {
		return err
	}

	// 账号与导出相关表
	err = db.AutoMigrate(
		&models.Role{},
		&models.UserRole{},
		&models.IncompatibleRoles{},
		&models.ExportToken{},
	)
	if err != nil {
		return err
	}

	log.Println("数据库迁移完成")
	return nil
}
