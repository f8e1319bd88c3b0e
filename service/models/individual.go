/*
 * @module service/models/individual
 * @description 个人模型与证件模型，承载查重状态与制裁名单筛查结果
 * @architecture 分层架构 - 数据模型层
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 导入创建 -> 批内/金记录查重 -> 唯一/重复/待裁定；撤回为软删除
 * @rules 查重状态只能由查重管道写入，DUPLICATE 的最终确认只能经由待裁定工单
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/deduplication, service/models/household.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 金记录范围查重状态
const (
	DedupStatusUnique            = "UNIQUE"
	DedupStatusDuplicate         = "DUPLICATE"
	DedupStatusNeedsAdjudication = "NEEDS_ADJUDICATION"
	DedupStatusNotProcessed      = "NOT_PROCESSED"
)

// 批内范围查重状态
const (
	DedupBatchStatusUnique       = "UNIQUE_IN_BATCH"
	DedupBatchStatusDuplicate    = "DUPLICATE_IN_BATCH"
	DedupBatchStatusSimilar      = "SIMILAR_IN_BATCH"
	DedupBatchStatusNotProcessed = "NOT_PROCESSED"
)

// 性别
const (
	SexFemale = "FEMALE"
	SexMale   = "MALE"
)

// Individual 个人，可属于某住户，也可在“按个人登记”的项目中独立存在
type Individual struct {
	ID                  string  `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	ProgramID           string  `json:"program_id" gorm:"not null;type:varchar(36);index"`
	HouseholdID         *string `json:"household_id,omitempty" gorm:"type:varchar(36);index"`
	RegistrationBatchID *string `json:"registration_batch_id,omitempty" gorm:"type:varchar(36);index"`

	FullName   string    `json:"full_name" gorm:"not null;size:255;index"`
	GivenName  string    `json:"given_name,omitempty" gorm:"size:100"`
	FamilyName string    `json:"family_name,omitempty" gorm:"size:100"`
	BirthDate  time.Time `json:"birth_date" gorm:"not null"`
	Sex        string    `json:"sex" gorm:"not null;size:10"`
	PhoneNo    string    `json:"phone_no,omitempty" gorm:"size:40"`

	// 残障标记
	Disability           bool             `json:"disability" gorm:"default:false"`
	ObservedDisabilities JSONBStringArray `json:"observed_disabilities,omitempty" gorm:"type:jsonb"`

	// 查重状态：金记录范围与批内范围相互独立
	DeduplicationGoldenRecordStatus  string     `json:"deduplication_golden_record_status" gorm:"not null;size:30;default:'NOT_PROCESSED';index"`
	DeduplicationBatchStatus         string     `json:"deduplication_batch_status" gorm:"not null;size:30;default:'NOT_PROCESSED'"`
	DeduplicationGoldenRecordResults JSONBArray `json:"deduplication_golden_record_results,omitempty" gorm:"type:jsonb"`
	DeduplicationBatchResults        JSONBArray `json:"deduplication_batch_results,omitempty" gorm:"type:jsonb"`

	// 制裁名单筛查：疑似命中需人工确认，不自动拒绝
	SanctionListPossibleMatch  bool `json:"sanction_list_possible_match" gorm:"default:false"`
	SanctionListConfirmedMatch bool `json:"sanction_list_confirmed_match" gorm:"default:false"`

	// PhotoKey 人脸照片在对象存储中的键，生物识别查重使用
	PhotoKey string `json:"photo_key,omitempty" gorm:"size:255"`

	Withdrawn     bool       `json:"withdrawn" gorm:"default:false;index"`
	WithdrawnDate *time.Time `json:"withdrawn_date,omitempty"`

	// Duplicate 经工单裁定确认为重复后置位
	Duplicate bool `json:"duplicate" gorm:"default:false"`

	FlexFields JSONB `json:"flex_fields,omitempty" gorm:"type:jsonb"`

	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Household *Household `json:"household,omitempty" gorm:"foreignKey:HouseholdID"`
	Documents []Document `json:"documents,omitempty" gorm:"foreignKey:IndividualID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (i *Individual) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// Age 按给定时间计算年龄
func (i *Individual) Age(at time.Time) int {
	age := at.Year() - i.BirthDate.Year()
	if at.YearDay() < i.BirthDate.YearDay() {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age
}

// IsAdult 按当前时间判断是否成年
func (i *Individual) IsAdult() bool {
	return i.Age(time.Now()) >= 18
}

// NeedsAdjudication 判断金记录查重结果是否待裁定
func (i *Individual) NeedsAdjudication() bool {
	return i.DeduplicationGoldenRecordStatus == DedupStatusNeedsAdjudication
}

// ActiveIndividuals 仅返回未撤回且未确认重复个人的查询范围
func ActiveIndividuals(db *gorm.DB) *gorm.DB {
	return db.Where("withdrawn = ? AND duplicate = ?", false, false)
}

// 证件状态
const (
	DocumentStatusValid             = "VALID"
	DocumentStatusNeedInvestigation = "NEED_INVESTIGATION"
	DocumentStatusInvalid           = "INVALID"
)

// Document 个人证件，证件号精确碰撞是硬查重依据
type Document struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	IndividualID   string    `json:"individual_id" gorm:"not null;type:varchar(36);index"`
	Type           string    `json:"type" gorm:"not null;size:50"` // national_id, birth_certificate, passport...
	DocumentNumber string    `json:"document_number" gorm:"not null;size:100;index"`
	Status         string    `json:"status" gorm:"not null;size:30;default:'VALID'"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Individual *Individual `json:"individual,omitempty" gorm:"foreignKey:IndividualID"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
