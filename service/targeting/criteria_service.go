/*
 * @module service/targeting/criteria_service
 * @description 瞄准条件管理：整树校验、创建、查询与命中预览
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/targeting_req.md
 * @rules 条件树入库前整体校验；预览只做计数，不产生任何写入
 * @dependencies gorm.io/gorm, service/models
 * @refs service/targeting/criteria.go
 */

package targeting

import (
	"fmt"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/models"

	"gorm.io/gorm"
)

// CriteriaService 瞄准条件管理服务
type CriteriaService struct {
	db        *gorm.DB
	evaluator *CriteriaEvaluator
}

// NewCriteriaService 创建瞄准条件管理服务
func NewCriteriaService(db *gorm.DB) *CriteriaService {
	return &CriteriaService{db: db, evaluator: NewCriteriaEvaluator(db)}
}

// CreateCriteria 校验并保存整棵条件树
func (s *CriteriaService) CreateCriteria(criteria *models.TargetingCriteria) error {
	if err := criteria.Validate(); err != nil {
		return err
	}
	if err := s.db.Create(criteria).Error; err != nil {
		return fmt.Errorf("保存瞄准条件失败: %w", err)
	}
	return nil
}

// GetCriteria 按ID取条件树及全部过滤器
func (s *CriteriaService) GetCriteria(id string) (*models.TargetingCriteria, error) {
	var criteria models.TargetingCriteria
	err := s.db.
		Preload("Rules.Filters").
		Preload("Rules.CollectorFilters").
		Preload("Rules.IndividualFilters").
		First(&criteria, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询瞄准条件失败: %w", err)
	}
	return &criteria, nil
}

// PreviewCount 对项目活跃住户套用条件树，返回命中住户数，不落库
func (s *CriteriaService) PreviewCount(programID string, criteria *models.TargetingCriteria) (int64, error) {
	if err := criteria.Validate(); err != nil {
		return 0, err
	}

	base := models.ActiveHouseholds(s.db.Model(&models.Household{})).
		Where("households.program_id = ?", programID)
	filtered, err := s.evaluator.Apply(base, criteria)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := filtered.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("预览计数查询失败: %w", err)
	}
	return count, nil
}
