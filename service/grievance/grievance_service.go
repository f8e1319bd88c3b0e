/*
 * @module service/grievance/grievance_service
 * @description 申诉工单服务：工单创建、状态流转与关闭；关闭副作用按类别分发且只触发一次
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/grievance_req.md
 * @stateFlow NEW -> ASSIGNED -> IN_PROGRESS -> FOR_APPROVAL(可跳过) -> CLOSED
 * @rules 需审批类别未经 approve_status 确认时关闭是空操作而非错误；
 *        关闭副作用在行锁事务内执行，同住户的并发关闭被串行化
 * @dependencies gorm.io/gorm, service/models, service/meta, service/event
 * @refs service/grievance/close_services.go
 */

package grievance

import (
	"context"
	"fmt"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/event"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GrievanceService 申诉工单服务
type GrievanceService struct {
	db     *gorm.DB
	events *event.Dispatcher
}

// NewGrievanceService 创建申诉工单服务
func NewGrievanceService(db *gorm.DB, events *event.Dispatcher) *GrievanceService {
	return &GrievanceService{db: db, events: events}
}

// CreateTicket 创建工单，类别与问题类型在模型钩子中校验
func (s *GrievanceService) CreateTicket(ticket *models.GrievanceTicket) error {
	if ticket.Status == "" {
		ticket.Status = meta.TicketStatusNew
	}
	if err := s.db.Create(ticket).Error; err != nil {
		return err
	}
	return nil
}

// GetTicket 按ID取工单及其类别明细
func (s *GrievanceService) GetTicket(id string) (*models.GrievanceTicket, error) {
	var ticket models.GrievanceTicket
	err := s.preloadDetails(s.db).First(&ticket, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询工单失败: %w", err)
	}
	return &ticket, nil
}

// ListTickets 分页查询工单
func (s *GrievanceService) ListTickets(page, pageSize int, category, status, programID string) ([]models.GrievanceTicket, int64, error) {
	var tickets []models.GrievanceTicket
	var total int64

	query := s.db.Model(&models.GrievanceTicket{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if programID != "" {
		query = query.Where("program_id = ?", programID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&tickets).Error
	return tickets, total, err
}

// UpdateStatus 执行一次显式状态流转
func (s *GrievanceService) UpdateStatus(id, newStatus, assignedTo string) (*models.GrievanceTicket, error) {
	var ticket models.GrievanceTicket
	if err := s.db.First(&ticket, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("查询工单失败: %w", err)
	}

	if newStatus == meta.TicketStatusClosed {
		return nil, apperrors.NewValidation("关闭工单必须走关闭接口")
	}
	if !meta.CanTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewValidation("工单不允许从 %s 流转到 %s", ticket.Status, newStatus)
	}

	ticket.Status = newStatus
	if assignedTo != "" {
		ticket.AssignedTo = assignedTo
	}
	if err := s.db.Save(&ticket).Error; err != nil {
		return nil, fmt.Errorf("保存工单状态失败: %w", err)
	}
	return &ticket, nil
}

// Close 关闭工单并触发类别副作用
// 返回值指示工单是否真正关闭：需审批类别未经确认时返回 (false, nil)，工单保持打开
func (s *GrievanceService) Close(ctx context.Context, id string) (bool, error) {
	closed := false
	category := ""

	err := s.db.Transaction(func(tx *gorm.DB) error {
		ticket, err := s.lockTicket(tx, id)
		if err != nil {
			return err
		}
		category = ticket.Category

		if ticket.IsClosed() {
			return apperrors.NewValidation("工单已关闭")
		}
		if !ticket.CanClose() {
			return apperrors.NewValidation("工单状态 %s 不允许关闭", ticket.Status)
		}

		// 明确的业务规则：需审批类别未经确认时关闭是空操作，工单保持打开且副作用不触发
		if meta.RequiresApproval(ticket.Category) && !ticketApproved(ticket) {
			return nil
		}

		if closeFn := closeServiceFor(ticket); closeFn != nil {
			if err := closeFn(tx, ticket); err != nil {
				return err
			}
		}

		now := time.Now()
		ticket.Status = meta.TicketStatusClosed
		ticket.ClosedAt = &now
		if err := tx.Save(ticket).Error; err != nil {
			return fmt.Errorf("保存关闭状态失败: %w", err)
		}
		closed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if closed && s.events != nil {
		s.events.Dispatch(ctx, event.EventTicketClosed, id, map[string]interface{}{"category": category})
	}
	return closed, nil
}

// lockTicket 行锁加载工单及全部明细；sqlite 不支持 FOR UPDATE，仅在 postgres 上加锁
func (s *GrievanceService) lockTicket(tx *gorm.DB, id string) (*models.GrievanceTicket, error) {
	query := s.preloadDetails(tx)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "grievance_tickets"}})
	}

	var ticket models.GrievanceTicket
	err := query.First(&ticket, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询工单失败: %w", err)
	}
	return &ticket, nil
}

func (s *GrievanceService) preloadDetails(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("AddIndividualDetails").
		Preload("DeleteIndividualDetails").
		Preload("DeleteHouseholdDetails").
		Preload("HouseholdDataUpdateDetails").
		Preload("IndividualDataUpdateDetails").
		Preload("NeedsAdjudicationDetails").
		Preload("SystemFlaggingDetails").
		Preload("ReferralDetails")
}

// ticketApproved 判断需审批类别的明细是否已确认
func ticketApproved(t *models.GrievanceTicket) bool {
	switch t.Category {
	case meta.CategoryDataChange:
		switch t.IssueType {
		case meta.IssueTypeAddIndividual:
			return t.AddIndividualDetails != nil && t.AddIndividualDetails.ApproveStatus
		case meta.IssueTypeDeleteIndividual:
			return t.DeleteIndividualDetails != nil && t.DeleteIndividualDetails.ApproveStatus
		case meta.IssueTypeDeleteHousehold:
			return t.DeleteHouseholdDetails != nil && t.DeleteHouseholdDetails.ApproveStatus
		case meta.IssueTypeHouseholdDataUpdate:
			return t.HouseholdDataUpdateDetails != nil && t.HouseholdDataUpdateDetails.ApproveStatus
		case meta.IssueTypeIndividualDataUpdate:
			return t.IndividualDataUpdateDetails != nil && t.IndividualDataUpdateDetails.ApproveStatus
		}
		return false
	case meta.CategorySystemFlagging:
		return t.SystemFlaggingDetails != nil && t.SystemFlaggingDetails.ApproveStatus
	case meta.CategoryNeedsAdjudication:
		return t.NeedsAdjudicationDetails != nil && t.NeedsAdjudicationDetails.ApproveStatus
	}
	return true
}
