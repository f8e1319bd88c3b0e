/*
 * @module service/models/grievance
 * @description 申诉工单模型与各类别明细表（每类别一张 1:1 明细）
 * @architecture 分层架构 - 数据模型层，按类别的明细表映射为服务层标签分发
 * @documentReference ai_docs/grievance_req.md
 * @stateFlow NEW -> ASSIGNED -> IN_PROGRESS -> FOR_APPROVAL -> CLOSED
 * @rules issue_type 必须对 category 合法，模型校验时强制；关闭副作用只触发一次
 * @dependencies gorm.io/gorm, github.com/google/uuid, github.com/lib/pq, service/meta
 * @refs service/grievance
 */

package models

import (
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// GrievanceTicket 申诉工单
type GrievanceTicket struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	BusinessArea string `json:"business_area" gorm:"not null;size:100;index"`
	ProgramID    string `json:"program_id,omitempty" gorm:"type:varchar(36);index"`
	Category     string `json:"category" gorm:"not null;size:40;index"`
	IssueType    string `json:"issue_type,omitempty" gorm:"size:40"`
	Status       string `json:"status" gorm:"not null;size:20;default:'NEW';index"`
	Description  string `json:"description,omitempty" gorm:"type:text"`
	AssignedTo   string `json:"assigned_to,omitempty" gorm:"size:255"`

	HouseholdID  *string `json:"household_id,omitempty" gorm:"type:varchar(36);index"`
	IndividualID *string `json:"individual_id,omitempty" gorm:"type:varchar(36);index"`

	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string     `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 各类别明细，1:1，仅与 Category 对应的一条非空
	AddIndividualDetails        *TicketAddIndividualDetails        `json:"add_individual_details,omitempty" gorm:"foreignKey:TicketID"`
	DeleteIndividualDetails     *TicketDeleteIndividualDetails     `json:"delete_individual_details,omitempty" gorm:"foreignKey:TicketID"`
	DeleteHouseholdDetails      *TicketDeleteHouseholdDetails      `json:"delete_household_details,omitempty" gorm:"foreignKey:TicketID"`
	HouseholdDataUpdateDetails  *TicketHouseholdDataUpdateDetails  `json:"household_data_update_details,omitempty" gorm:"foreignKey:TicketID"`
	IndividualDataUpdateDetails *TicketIndividualDataUpdateDetails `json:"individual_data_update_details,omitempty" gorm:"foreignKey:TicketID"`
	NeedsAdjudicationDetails    *TicketNeedsAdjudicationDetails    `json:"needs_adjudication_details,omitempty" gorm:"foreignKey:TicketID"`
	SystemFlaggingDetails       *TicketSystemFlaggingDetails       `json:"system_flagging_details,omitempty" gorm:"foreignKey:TicketID"`
	ReferralDetails             *TicketReferralDetails             `json:"referral_details,omitempty" gorm:"foreignKey:TicketID"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验类别与问题类型
func (t *GrievanceTicket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "system"
	}
	return t.ValidateCategory()
}

// BeforeUpdate GORM钩子，更新前校验类别与问题类型
func (t *GrievanceTicket) BeforeUpdate(tx *gorm.DB) error {
	return t.ValidateCategory()
}

// ValidateCategory 校验问题类型对类别是否合法
func (t *GrievanceTicket) ValidateCategory() error {
	if !meta.IsValidCategory(t.Category) {
		return apperrors.NewFieldValidation("category", "未知的工单类别: %s", t.Category)
	}
	if !meta.IsValidIssueType(t.Category, t.IssueType) {
		return apperrors.NewFieldValidation("issue_type", "Invalid issue type for selected category")
	}
	return nil
}

// IsClosed 判断工单是否已关闭
func (t *GrievanceTicket) IsClosed() bool {
	return t.Status == meta.TicketStatusClosed
}

// CanClose 判断工单当前状态是否允许关闭
func (t *GrievanceTicket) CanClose() bool {
	return meta.CanTransition(t.Status, meta.TicketStatusClosed)
}

// TicketAddIndividualDetails 新增个人明细
type TicketAddIndividualDetails struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID       string     `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	HouseholdID    string     `json:"household_id" gorm:"not null;type:varchar(36)"`
	IndividualData JSONBArray `json:"individual_data" gorm:"type:jsonb"` // 待新增个人的字段集合
	ApproveStatus  bool       `json:"approve_status" gorm:"default:false"`
}

// TicketDeleteIndividualDetails 删除个人明细
type TicketDeleteIndividualDetails struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID     string `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	IndividualID string `json:"individual_id" gorm:"not null;type:varchar(36)"`

	// RoleReassignData 被删个人持有角色的重新指派方案: role -> 新个人ID
	RoleReassignData JSONB `json:"role_reassign_data,omitempty" gorm:"type:jsonb"`
	ApproveStatus    bool  `json:"approve_status" gorm:"default:false"`
}

// TicketDeleteHouseholdDetails 删除住户明细
type TicketDeleteHouseholdDetails struct {
	ID            string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID      string `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	HouseholdID   string `json:"household_id" gorm:"not null;type:varchar(36)"`
	ApproveStatus bool   `json:"approve_status" gorm:"default:false"`
}

// TicketHouseholdDataUpdateDetails 住户数据更新明细
// HouseholdData 形如 {field: {"value": 新值, "approve_status": bool}}，仅 approve_status 为真的字段生效
type TicketHouseholdDataUpdateDetails struct {
	ID            string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID      string `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	HouseholdID   string `json:"household_id" gorm:"not null;type:varchar(36)"`
	HouseholdData JSONB  `json:"household_data" gorm:"type:jsonb"`
	ApproveStatus bool   `json:"approve_status" gorm:"default:false"`
}

// TicketIndividualDataUpdateDetails 个人数据更新明细，结构与住户更新一致
type TicketIndividualDataUpdateDetails struct {
	ID             string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID       string `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	IndividualID   string `json:"individual_id" gorm:"not null;type:varchar(36)"`
	IndividualData JSONB  `json:"individual_data" gorm:"type:jsonb"`
	ApproveStatus  bool   `json:"approve_status" gorm:"default:false"`
}

// TicketNeedsAdjudicationDetails 查重待裁定明细
// GoldenRecordsIndividualID 为金记录个人，PossibleDuplicateIDs 为全部候选重复个人
type TicketNeedsAdjudicationDetails struct {
	ID                        string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID                  string         `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	GoldenRecordsIndividualID string         `json:"golden_records_individual_id" gorm:"not null;type:varchar(36)"`
	PossibleDuplicateIDs      pq.StringArray `json:"possible_duplicate_ids" gorm:"type:text[]"`

	// SelectedIndividualIDs 审核人勾选为“确认重复”的个人
	SelectedIndividualIDs pq.StringArray `json:"selected_individual_ids" gorm:"type:text[]"`

	// ExtraData 各候选的相似度明细
	ExtraData     JSONB `json:"extra_data,omitempty" gorm:"type:jsonb"`
	ApproveStatus bool  `json:"approve_status" gorm:"default:false"`

	// IsMultipleDuplicatesVersion 一单多重复候选
	IsMultipleDuplicatesVersion bool `json:"is_multiple_duplicates_version" gorm:"default:false"`
}

// TicketSystemFlaggingDetails 制裁名单命中明细
type TicketSystemFlaggingDetails struct {
	ID                       string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID                 string  `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	IndividualID             string  `json:"individual_id" gorm:"not null;type:varchar(36)"`
	SanctionListIndividualID string  `json:"sanction_list_individual_id" gorm:"not null;type:varchar(36)"`
	MatchScore               float64 `json:"match_score" gorm:"default:0"`
	ApproveStatus            bool    `json:"approve_status" gorm:"default:false"`
}

// TicketReferralDetails 转介明细
type TicketReferralDetails struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TicketID string `json:"ticket_id" gorm:"not null;type:varchar(36);uniqueIndex"`
	Service  string `json:"service" gorm:"size:255"`
	Comments string `json:"comments,omitempty" gorm:"type:text"`
}

// BeforeCreate 各明细表创建前生成UUID
func (d *TicketAddIndividualDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketDeleteIndividualDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketDeleteHouseholdDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketHouseholdDataUpdateDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketIndividualDataUpdateDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketNeedsAdjudicationDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketSystemFlaggingDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

func (d *TicketReferralDetails) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
