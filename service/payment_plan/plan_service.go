/*
 * @module service/payment_plan/plan_service
 * @description 支付计划管理：创建/查询/列表、挂接资格规则、触发重建
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 创建(PENDING) -> 调度器构建 -> OK/FAILED -> 触发重建回到 PENDING
 * @rules 抽样类型与参数严格对应；构建中计划不允许重复触发；状态流转走乐观锁
 * @dependencies gorm.io/gorm, service/models, service/meta
 * @refs service/payment_plan/builder.go
 */

package paymentplan

import (
	"fmt"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"gorm.io/gorm"
)

// PlanService 支付计划管理服务
type PlanService struct {
	db *gorm.DB
}

// NewPlanService 创建支付计划管理服务
func NewPlanService(db *gorm.DB) *PlanService {
	return &PlanService{db: db}
}

// CreatePlan 创建支付计划，抽样配置在模型钩子中校验
func (s *PlanService) CreatePlan(plan *models.PaymentPlan) error {
	var criteria models.TargetingCriteria
	if err := s.db.First(&criteria, "id = ?", plan.TargetingCriteriaID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.NewFieldValidation("targeting_criteria_id", "瞄准条件 %s 不存在", plan.TargetingCriteriaID)
		}
		return fmt.Errorf("查询瞄准条件失败: %w", err)
	}

	var cycle models.ProgramCycle
	if err := s.db.First(&cycle, "id = ?", plan.ProgramCycleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.NewFieldValidation("program_cycle_id", "项目周期 %s 不存在", plan.ProgramCycleID)
		}
		return fmt.Errorf("查询项目周期失败: %w", err)
	}
	if cycle.ProgramID != plan.ProgramID {
		return apperrors.NewFieldValidation("program_cycle_id", "项目周期不属于该项目")
	}

	if err := s.db.Create(plan).Error; err != nil {
		return fmt.Errorf("创建支付计划失败: %w", err)
	}
	return nil
}

// GetPlan 按ID取计划及其条件树
func (s *PlanService) GetPlan(id string) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	err := s.db.
		Preload("TargetingCriteria.Rules.Filters").
		Preload("TargetingCriteria.Rules.CollectorFilters").
		Preload("TargetingCriteria.Rules.IndividualFilters").
		First(&plan, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询支付计划失败: %w", err)
	}
	return &plan, nil
}

// ListPlans 分页查询计划
func (s *PlanService) ListPlans(page, pageSize int, programID, buildStatus string) ([]models.PaymentPlan, int64, error) {
	var plans []models.PaymentPlan
	var total int64

	query := s.db.Model(&models.PaymentPlan{})
	if programID != "" {
		query = query.Where("program_id = ?", programID)
	}
	if buildStatus != "" {
		query = query.Where("build_status = ?", buildStatus)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&plans).Error
	return plans, total, err
}

// AttachEligibilityRule 把资格规则挂接到计划
func (s *PlanService) AttachEligibilityRule(planID, ruleID string) error {
	var rule models.EligibilityRule
	if err := s.db.First(&rule, "id = ?", ruleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.NewFieldValidation("rule_id", "资格规则 %s 不存在", ruleID)
		}
		return fmt.Errorf("查询资格规则失败: %w", err)
	}

	var count int64
	err := s.db.Model(&models.PaymentPlanEligibilityRule{}).
		Where("payment_plan_id = ? AND rule_id = ?", planID, ruleID).Count(&count).Error
	if err != nil {
		return fmt.Errorf("查询规则挂接失败: %w", err)
	}
	if count > 0 {
		return apperrors.NewFieldValidation("rule_id", "资格规则已挂接到该计划")
	}

	link := models.PaymentPlanEligibilityRule{PaymentPlanID: planID, RuleID: ruleID}
	if err := s.db.Create(&link).Error; err != nil {
		return fmt.Errorf("挂接资格规则失败: %w", err)
	}
	return nil
}

// TriggerBuild 把计划重新置为 PENDING，由调度器拾取构建
func (s *PlanService) TriggerBuild(id string) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	if err := s.db.First(&plan, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("查询支付计划失败: %w", err)
	}
	if plan.IsBuilding() {
		return nil, apperrors.NewValidation("支付计划正在构建中")
	}

	err := models.UpdateWithVersion(s.db, &models.PaymentPlan{}, plan.ID, plan.Version, map[string]interface{}{
		"build_status": meta.BuildStatusPending,
		"build_error":  "",
	})
	if err != nil {
		return nil, err
	}
	plan.BuildStatus = meta.BuildStatusPending
	plan.BuildError = ""
	plan.Version++
	return &plan, nil
}
