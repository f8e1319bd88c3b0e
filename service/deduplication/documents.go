/*
 * @module service/deduplication/documents
 * @description 证件硬查重：同类型同号码的证件精确碰撞，较新的重复证件直接置 INVALID，不开工单
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 收集批次证件 -> 按(类型,号码)分组 -> 保留最早的有效证件，其余置 INVALID
 * @dependencies gorm.io/gorm, service/models
 * @refs service/deduplication/pipeline.go
 */

package deduplication

import (
	"fmt"

	"beneficiary-service/service/models"

	"gorm.io/gorm"
)

// invalidateDuplicateDocuments 对批次个人的证件做精确碰撞检查
// 与全库同(类型,号码)的证件比较，按创建时间保留最早一份，其余标记 INVALID
func (p *Pipeline) invalidateDuplicateDocuments(tx *gorm.DB, individuals []*models.Individual) error {
	ids := make([]string, 0, len(individuals))
	for _, ind := range individuals {
		ids = append(ids, ind.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	var batchDocs []models.Document
	if err := tx.Where("individual_id IN ?", ids).Find(&batchDocs).Error; err != nil {
		return fmt.Errorf("查询批次证件失败: %w", err)
	}
	if len(batchDocs) == 0 {
		return nil
	}

	type docKey struct {
		Type   string
		Number string
	}
	seen := make(map[docKey]bool, len(batchDocs))
	keys := make([]docKey, 0, len(batchDocs))
	for _, d := range batchDocs {
		k := docKey{Type: d.Type, Number: d.DocumentNumber}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		var group []models.Document
		err := tx.Where("type = ? AND document_number = ? AND status <> ?",
			k.Type, k.Number, models.DocumentStatusInvalid).
			Order("created_at").Find(&group).Error
		if err != nil {
			return fmt.Errorf("查询碰撞证件失败: %w", err)
		}
		if len(group) < 2 {
			continue
		}
		// 最早的一份保留，其余全部作废
		for i := 1; i < len(group); i++ {
			if err := tx.Model(&models.Document{}).Where("id = ?", group[i].ID).
				Update("status", models.DocumentStatusInvalid).Error; err != nil {
				return fmt.Errorf("作废重复证件失败: %w", err)
			}
		}
	}
	return nil
}
