/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference ai_docs/test_plan.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"fmt"
	"time"

	"beneficiary-service/service/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Program{},
		&models.ProgramCycle{},
		&models.Household{},
		&models.Individual{},
		&models.IndividualRoleInHousehold{},
		&models.Document{},
		&models.RegistrationBatch{},
		&models.SanctionListIndividual{},
		&models.TargetingCriteria{},
		&models.TargetingCriteriaRule{},
		&models.TargetingCriteriaRuleFilter{},
		&models.TargetingCollectorRuleFilter{},
		&models.TargetingIndividualRuleFilter{},
		&models.PaymentPlan{},
		&models.PaymentPlanHousehold{},
		&models.EligibilityRule{},
		&models.PaymentPlanEligibilityRule{},
		&models.GrievanceTicket{},
		&models.TicketAddIndividualDetails{},
		&models.TicketDeleteIndividualDetails{},
		&models.TicketDeleteHouseholdDetails{},
		&models.TicketHouseholdDataUpdateDetails{},
		&models.TicketIndividualDataUpdateDetails{},
		&models.TicketNeedsAdjudicationDetails{},
		&models.TicketSystemFlaggingDetails{},
		&models.TicketReferralDetails{},
		&models.Role{},
		&models.UserRole{},
		&models.IncompatibleRoles{},
		&models.ExportToken{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"payment_plan_households",
		"payment_plan_eligibility_rules",
		"payment_plans",
		"eligibility_rules",
		"targeting_individual_rule_filters",
		"targeting_collector_rule_filters",
		"targeting_criteria_rule_filters",
		"targeting_criteria_rules",
		"targeting_criteria",
		"ticket_add_individual_details",
		"ticket_delete_individual_details",
		"ticket_delete_household_details",
		"ticket_household_data_update_details",
		"ticket_individual_data_update_details",
		"ticket_needs_adjudication_details",
		"ticket_system_flagging_details",
		"ticket_referral_details",
		"grievance_tickets",
		"individual_role_in_households",
		"documents",
		"individuals",
		"households",
		"registration_batches",
		"sanction_list_individuals",
		"incompatible_roles",
		"user_roles",
		"roles",
		"export_tokens",
		"program_cycles",
		"programs",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// ProgramOption 项目选项函数类型
type ProgramOption func(*models.Program)

// CreateProgram 创建测试项目
func (f *TestDataFactory) CreateProgram(opts ...ProgramOption) *models.Program {
	program := &models.Program{
		Name:         "测试项目_" + generateSuffix(),
		BusinessArea: "testarea",
		Status:       models.ProgramStatusActive,
	}

	for _, opt := range opts {
		opt(program)
	}

	if err := f.DB.Create(program).Error; err != nil {
		panic(fmt.Sprintf("failed to create test program: %v", err))
	}
	return program
}

// CreateProgramCycle 创建测试项目周期
func (f *TestDataFactory) CreateProgramCycle(programID string) *models.ProgramCycle {
	cycle := &models.ProgramCycle{
		ProgramID: programID,
		Title:     "测试周期",
		StartDate: time.Now().AddDate(0, -1, 0),
		Status:    models.ProgramCycleStatusActive,
	}
	if err := f.DB.Create(cycle).Error; err != nil {
		panic(fmt.Sprintf("failed to create test program cycle: %v", err))
	}
	return cycle
}

// HouseholdOption 住户选项函数类型
type HouseholdOption func(*models.Household)

// CreateHousehold 创建测试住户
func (f *TestDataFactory) CreateHousehold(programID string, opts ...HouseholdOption) *models.Household {
	size := 1
	household := &models.Household{
		ProgramID: programID,
		Size:      &size,
		Admin1:    "province-a",
		Admin2:    "district-1",
		Address:   "test address",
	}

	for _, opt := range opts {
		opt(household)
	}

	if err := f.DB.Create(household).Error; err != nil {
		panic(fmt.Sprintf("failed to create test household: %v", err))
	}
	return household
}

// IndividualOption 个人选项函数类型
type IndividualOption func(*models.Individual)

// CreateIndividual 创建测试个人
func (f *TestDataFactory) CreateIndividual(programID string, householdID *string, opts ...IndividualOption) *models.Individual {
	individual := &models.Individual{
		ProgramID:   programID,
		HouseholdID: householdID,
		FullName:    "Test Person " + generateSuffix(),
		BirthDate:   time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC),
		Sex:         models.SexFemale,
	}

	for _, opt := range opts {
		opt(individual)
	}

	if err := f.DB.Create(individual).Error; err != nil {
		panic(fmt.Sprintf("failed to create test individual: %v", err))
	}
	return individual
}

// CreateRole 创建测试住户内角色
func (f *TestDataFactory) CreateRole(individualID, householdID, role string) *models.IndividualRoleInHousehold {
	row := &models.IndividualRoleInHousehold{
		IndividualID: individualID,
		HouseholdID:  householdID,
		Role:         role,
	}
	if err := f.DB.Create(row).Error; err != nil {
		panic(fmt.Sprintf("failed to create test role: %v", err))
	}
	return row
}

// CreateBatch 创建测试登记批次
func (f *TestDataFactory) CreateBatch(programID, status string) *models.RegistrationBatch {
	batch := &models.RegistrationBatch{
		ProgramID: programID,
		Name:      "测试批次_" + generateSuffix(),
		Status:    status,
	}
	if err := f.DB.Create(batch).Error; err != nil {
		panic(fmt.Sprintf("failed to create test batch: %v", err))
	}
	return batch
}

// CriteriaOption 瞄准条件选项函数类型
type CriteriaOption func(*models.TargetingCriteria)

// CreateCriteria 创建测试瞄准条件树
func (f *TestDataFactory) CreateCriteria(opts ...CriteriaOption) *models.TargetingCriteria {
	criteria := &models.TargetingCriteria{}

	for _, opt := range opts {
		opt(criteria)
	}

	if err := f.DB.Create(criteria).Error; err != nil {
		panic(fmt.Sprintf("failed to create test criteria: %v", err))
	}
	return criteria
}

// PaymentPlanOption 支付计划选项函数类型
type PaymentPlanOption func(*models.PaymentPlan)

// CreatePaymentPlan 创建测试支付计划
func (f *TestDataFactory) CreatePaymentPlan(programID, cycleID, criteriaID string, opts ...PaymentPlanOption) *models.PaymentPlan {
	plan := &models.PaymentPlan{
		Name:                "测试计划_" + generateSuffix(),
		ProgramID:           programID,
		ProgramCycleID:      cycleID,
		TargetingCriteriaID: criteriaID,
		SamplingType:        "FULL_LIST",
	}

	for _, opt := range opts {
		opt(plan)
	}

	if err := f.DB.Create(plan).Error; err != nil {
		panic(fmt.Sprintf("failed to create test payment plan: %v", err))
	}
	return plan
}

// TicketOption 工单选项函数类型
type TicketOption func(*models.GrievanceTicket)

// CreateTicket 创建测试工单
func (f *TestDataFactory) CreateTicket(category, issueType string, opts ...TicketOption) *models.GrievanceTicket {
	ticket := &models.GrievanceTicket{
		BusinessArea: "testarea",
		Category:     category,
		IssueType:    issueType,
		Status:       "IN_PROGRESS",
	}

	for _, opt := range opts {
		opt(ticket)
	}

	if err := f.DB.Create(ticket).Error; err != nil {
		panic(fmt.Sprintf("failed to create test ticket: %v", err))
	}
	return ticket
}

var suffixCounter int64

// generateSuffix 生成单调递增的后缀，同一纳秒内创建多条数据也不冲突
func generateSuffix() string {
	suffixCounter++
	return fmt.Sprintf("%d_%d", time.Now().UnixNano()%100000, suffixCounter)
}
