/*
 * @module service/models/versioned
 * @description 乐观锁更新助手：带版本号条件更新，并发写导致零行更新时返回冲突错误
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/targeting_req.md
 * @rules 所有带 Version 字段的行必须经由本助手更新，调用方收到冲突错误后自行重试
 * @dependencies gorm.io/gorm, service/apperrors
 * @refs service/grievance, service/payment_plan
 */

package models

import (
	"beneficiary-service/service/apperrors"

	"gorm.io/gorm"
)

// UpdateWithVersion 按 (id, version) 条件更新并递增版本号
// 更新零行说明版本已被并发修改，返回 ErrConflict
func UpdateWithVersion(tx *gorm.DB, model interface{}, id string, version int, updates map[string]interface{}) error {
	updates["version"] = version + 1
	result := tx.Model(model).Where("id = ? AND version = ?", id, version).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrConflict
	}
	return nil
}
