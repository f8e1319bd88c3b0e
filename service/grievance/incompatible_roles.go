/*
 * @module service/grievance/incompatible_roles
 * @description 不相容角色对管理：无序对唯一校验、已同时持有两个角色的用户阻断定义
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/grievance_req.md
 * @rules (R1,R2) 与 (R2,R1) 视为同一对；同业务区域内已有用户同时持有两个角色时拒绝定义并列出邮箱
 * @dependencies gorm.io/gorm, service/models
 * @refs service/models/account.go
 */

package grievance

import (
	"fmt"
	"sort"
	"strings"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/models"

	"gorm.io/gorm"
)

// IncompatibleRolesService 不相容角色对服务
type IncompatibleRolesService struct {
	db *gorm.DB
}

// NewIncompatibleRolesService 创建不相容角色对服务
func NewIncompatibleRolesService(db *gorm.DB) *IncompatibleRolesService {
	return &IncompatibleRolesService{db: db}
}

// Create 定义一对不相容角色
func (s *IncompatibleRolesService) Create(pair *models.IncompatibleRoles) error {
	if pair.RoleOneID == pair.RoleTwoID {
		return apperrors.NewValidation("角色不能与自身不相容")
	}

	// 无序对唯一：正反两个方向都算已存在
	var count int64
	err := s.db.Model(&models.IncompatibleRoles{}).
		Where("business_area = ?", pair.BusinessArea).
		Where("(role_one_id = ? AND role_two_id = ?) OR (role_one_id = ? AND role_two_id = ?)",
			pair.RoleOneID, pair.RoleTwoID, pair.RoleTwoID, pair.RoleOneID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("查询既有角色对失败: %w", err)
	}
	if count > 0 {
		return apperrors.NewValidation("This combination of roles already exists as incompatible pair.")
	}

	emails, err := s.usersHoldingBoth(pair.BusinessArea, pair.RoleOneID, pair.RoleTwoID)
	if err != nil {
		return err
	}
	if len(emails) > 0 {
		return apperrors.NewValidation(
			"Cannot mark these roles as incompatible: users %s currently hold both roles in this business area.",
			strings.Join(emails, ", "))
	}

	return s.db.Create(pair).Error
}

// List 列出业务区域内的不相容角色对
func (s *IncompatibleRolesService) List(businessArea string) ([]models.IncompatibleRoles, error) {
	var pairs []models.IncompatibleRoles
	query := s.db.Preload("RoleOne").Preload("RoleTwo")
	if businessArea != "" {
		query = query.Where("business_area = ?", businessArea)
	}
	err := query.Order("created_at").Find(&pairs).Error
	return pairs, err
}

// usersHoldingBoth 返回同业务区域内同时持有两个角色的用户邮箱，排序保证报错信息稳定
func (s *IncompatibleRolesService) usersHoldingBoth(businessArea, roleOneID, roleTwoID string) ([]string, error) {
	var one []string
	err := s.db.Model(&models.UserRole{}).
		Where("business_area = ? AND role_id = ?", businessArea, roleOneID).
		Pluck("user_email", &one).Error
	if err != nil {
		return nil, fmt.Errorf("查询角色持有人失败: %w", err)
	}

	var two []string
	err = s.db.Model(&models.UserRole{}).
		Where("business_area = ? AND role_id = ?", businessArea, roleTwoID).
		Pluck("user_email", &two).Error
	if err != nil {
		return nil, fmt.Errorf("查询角色持有人失败: %w", err)
	}

	holdsTwo := make(map[string]bool, len(two))
	for _, email := range two {
		holdsTwo[email] = true
	}

	seen := map[string]bool{}
	var both []string
	for _, email := range one {
		if holdsTwo[email] && !seen[email] {
			both = append(both, email)
			seen[email] = true
		}
	}
	sort.Strings(both)
	return both, nil
}
