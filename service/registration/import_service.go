/*
 * @module service/registration/import_service
 * @description 登记导入服务：固定表头CSV导入住户/个人（按页批量写入）、排队查重、并入正式人口
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/registration_req.md
 * @stateFlow IMPORTING -> IN_REVIEW -> (排队查重) DEDUPLICATION -> MERGED
 * @rules 导入整体在单事务内；同 household_code 的行归入同一住户；并入时把个人推送到搜索索引
 * @dependencies gorm.io/gorm, encoding/csv, client, service/models, service/meta
 * @refs service/deduplication/pipeline.go
 */

package registration

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"beneficiary-service/client"
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/event"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// importHeader 固定表头，一行一个个人，household_code 相同的行归入同一住户
var importHeader = []string{
	"household_code", "admin1", "admin2", "address", "household_size",
	"full_name", "given_name", "family_name", "birth_date", "sex", "phone_no",
	"disability", "role", "document_type", "document_number", "photo_key",
}

const importPageSize = 500

// ImportService 登记导入服务
type ImportService struct {
	db          *gorm.DB
	searchIndex client.SearchIndexClient
	events      *event.Dispatcher
}

// NewImportService 创建登记导入服务
func NewImportService(db *gorm.DB, searchIndex client.SearchIndexClient, events *event.Dispatcher) *ImportService {
	return &ImportService{db: db, searchIndex: searchIndex, events: events}
}

// importRow 解析后的单行
type importRow struct {
	HouseholdCode  string
	Admin1         string
	Admin2         string
	Address        string
	HouseholdSize  *int
	FullName       string
	GivenName      string
	FamilyName     string
	BirthDate      time.Time
	Sex            string
	PhoneNo        string
	Disability     bool
	Role           string
	DocumentType   string
	DocumentNumber string
	PhotoKey       string
}

// ImportCSV 导入固定表头CSV，创建批次及其住户/个人
func (s *ImportService) ImportCSV(ctx context.Context, programID, batchName string, reader io.Reader) (*models.RegistrationBatch, error) {
	var program models.Program
	if err := s.db.First(&program, "id = ?", programID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}

	rows, err := parseCSV(reader)
	if err != nil {
		return nil, err
	}

	batch := models.RegistrationBatch{
		ProgramID: programID,
		Name:      batchName,
		Status:    meta.BatchStatusImporting,
	}
	if err := s.db.Create(&batch).Error; err != nil {
		return nil, fmt.Errorf("创建批次失败: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.writeRows(tx, &program, &batch, rows)
	})
	if err != nil {
		batch.ErrorMessage = err.Error()
		if saveErr := s.db.Save(&batch).Error; saveErr != nil {
			slog.Error("保存批次错误信息失败", "batch_id", batch.ID, "error", saveErr)
		}
		return nil, err
	}

	batch.Status = meta.BatchStatusInReview
	if err := s.db.Save(&batch).Error; err != nil {
		return nil, fmt.Errorf("保存批次状态失败: %w", err)
	}

	slog.Info("登记批次导入完成", "batch_id", batch.ID,
		"households", batch.ImportedHouseholds, "individuals", batch.ImportedIndividuals)
	return &batch, nil
}

// parseCSV 校验表头并解析全部行
func parseCSV(reader io.Reader) ([]importRow, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, apperrors.NewValidation("读取CSV表头失败: %v", err)
	}
	if len(header) != len(importHeader) {
		return nil, apperrors.NewValidation("CSV表头列数不符，期望 %d 列", len(importHeader))
	}
	for i, name := range importHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return nil, apperrors.NewValidation("CSV表头第 %d 列应为 %s", i+1, name)
		}
	}

	var rows []importRow
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewValidation("CSV第 %d 行解析失败: %v", line+1, err)
		}
		line++

		row := importRow{
			HouseholdCode:  strings.TrimSpace(record[0]),
			Admin1:         strings.TrimSpace(record[1]),
			Admin2:         strings.TrimSpace(record[2]),
			Address:        strings.TrimSpace(record[3]),
			FullName:       strings.TrimSpace(record[5]),
			GivenName:      strings.TrimSpace(record[6]),
			FamilyName:     strings.TrimSpace(record[7]),
			Sex:            strings.ToUpper(strings.TrimSpace(record[9])),
			PhoneNo:        strings.TrimSpace(record[10]),
			Disability:     cast.ToBool(record[11]),
			Role:           strings.ToUpper(strings.TrimSpace(record[12])),
			DocumentType:   strings.TrimSpace(record[13]),
			DocumentNumber: strings.TrimSpace(record[14]),
			PhotoKey:       strings.TrimSpace(record[15]),
		}
		if row.HouseholdCode == "" {
			return nil, apperrors.NewValidation("CSV第 %d 行缺少 household_code", line)
		}
		if row.FullName == "" {
			return nil, apperrors.NewValidation("CSV第 %d 行缺少 full_name", line)
		}
		birth, err := time.Parse("2006-01-02", strings.TrimSpace(record[8]))
		if err != nil {
			return nil, apperrors.NewValidation("CSV第 %d 行 birth_date 非法: %v", line, err)
		}
		row.BirthDate = birth
		if sizeText := strings.TrimSpace(record[4]); sizeText != "" {
			size, err := cast.ToIntE(sizeText)
			if err != nil {
				return nil, apperrors.NewValidation("CSV第 %d 行 household_size 非法", line)
			}
			row.HouseholdSize = &size
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeRows 按 household_code 分组落库，个人和证件按页批量写入
func (s *ImportService) writeRows(tx *gorm.DB, program *models.Program, batch *models.RegistrationBatch, rows []importRow) error {
	householdIDs := map[string]string{} // household_code -> id
	var individuals []models.Individual
	var roles []models.IndividualRoleInHousehold
	var documents []models.Document

	for i := range rows {
		row := &rows[i]

		householdID, ok := householdIDs[row.HouseholdCode]
		if !ok {
			household := models.Household{
				ProgramID:           program.ID,
				RegistrationBatchID: &batch.ID,
				Size:                row.HouseholdSize,
				Address:             row.Address,
				Admin1:              row.Admin1,
				Admin2:              row.Admin2,
			}
			if err := tx.Create(&household).Error; err != nil {
				return fmt.Errorf("创建住户失败: %w", err)
			}
			householdID = household.ID
			householdIDs[row.HouseholdCode] = householdID
			batch.ImportedHouseholds++
		}

		hid := householdID
		ind := models.Individual{
			ProgramID:           program.ID,
			HouseholdID:         &hid,
			RegistrationBatchID: &batch.ID,
			FullName:            row.FullName,
			GivenName:           row.GivenName,
			FamilyName:          row.FamilyName,
			BirthDate:           row.BirthDate,
			Sex:                 row.Sex,
			PhoneNo:             row.PhoneNo,
			Disability:          row.Disability,
			PhotoKey:            row.PhotoKey,
		}
		// 个人需要即时ID供角色与证件引用
		if err := ind.BeforeCreate(tx); err != nil {
			return err
		}
		individuals = append(individuals, ind)
		batch.ImportedIndividuals++

		if row.Role == models.RoleHead || row.Role == models.RolePrimary || row.Role == models.RoleAlternate {
			roles = append(roles, models.IndividualRoleInHousehold{
				IndividualID: ind.ID,
				HouseholdID:  householdID,
				Role:         row.Role,
			})
		}
		if row.DocumentNumber != "" {
			documents = append(documents, models.Document{
				IndividualID:   ind.ID,
				Type:           row.DocumentType,
				DocumentNumber: row.DocumentNumber,
			})
		}
	}

	if len(individuals) > 0 {
		if err := tx.CreateInBatches(individuals, importPageSize).Error; err != nil {
			return fmt.Errorf("批量写入个人失败: %w", err)
		}
	}
	if len(roles) > 0 {
		if err := tx.CreateInBatches(roles, importPageSize).Error; err != nil {
			return fmt.Errorf("批量写入角色失败: %w", err)
		}
	}
	if len(documents) > 0 {
		if err := tx.CreateInBatches(documents, importPageSize).Error; err != nil {
			return fmt.Errorf("批量写入证件失败: %w", err)
		}
	}

	// 人口学计数按导入成员重算
	for _, id := range householdIDs {
		var household models.Household
		if err := tx.First(&household, "id = ?", id).Error; err != nil {
			return fmt.Errorf("查询住户失败: %w", err)
		}
		if err := models.RecountDemographics(tx, &household); err != nil {
			return err
		}
	}
	return nil
}

// QueueDeduplication 把批次排入查重队列，由调度器在分布式锁下执行
func (s *ImportService) QueueDeduplication(batchID string) error {
	var batch models.RegistrationBatch
	if err := s.db.First(&batch, "id = ?", batchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("查询批次失败: %w", err)
	}
	if !batch.CanDeduplicate() {
		return apperrors.NewValidation("批次状态 %s 不允许排队查重", batch.Status)
	}

	updates := map[string]interface{}{"dedup_queued": true}
	if batch.Status == meta.BatchStatusDeduplicationFailed {
		// 手工重新排队：重置重试计数
		updates["status"] = meta.BatchStatusInReview
		updates["dedup_retry_count"] = 0
		updates["error_message"] = ""
	}
	return s.db.Model(&models.RegistrationBatch{}).Where("id = ?", batchID).Updates(updates).Error
}

// Merge 查重完成后把批次并入正式人口：解除批次标记并把个人推送到搜索索引
func (s *ImportService) Merge(ctx context.Context, batchID string) error {
	var batch models.RegistrationBatch
	if err := s.db.First(&batch, "id = ?", batchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("查询批次失败: %w", err)
	}
	if !batch.CanMerge() {
		return apperrors.NewValidation("批次状态 %s 不允许并入", batch.Status)
	}

	var individuals []models.Individual
	err := models.ActiveIndividuals(s.db).
		Where("registration_batch_id = ?", batch.ID).Find(&individuals).Error
	if err != nil {
		return fmt.Errorf("查询批次个人失败: %w", err)
	}

	// 并入后个人要参与后续批次的金记录查重
	docs := make([]client.IndividualDocument, 0, len(individuals))
	for i := range individuals {
		docs = append(docs, client.IndividualDocument{
			IndividualID: individuals[i].ID,
			ProgramID:    individuals[i].ProgramID,
			FullName:     individuals[i].FullName,
			BirthDate:    individuals[i].BirthDate.Format("2006-01-02"),
			PhoneNo:      individuals[i].PhoneNo,
		})
	}
	if len(docs) > 0 && s.searchIndex != nil {
		if err := s.searchIndex.IndexIndividuals(ctx, docs); err != nil {
			return apperrors.NewExternal("search-index", err)
		}
	}

	batch.Status = meta.BatchStatusMerged
	if err := s.db.Save(&batch).Error; err != nil {
		return fmt.Errorf("保存批次状态失败: %w", err)
	}

	if s.events != nil {
		s.events.Dispatch(ctx, event.EventBatchMerged, batch.ID, map[string]interface{}{
			"individuals": len(individuals),
		})
	}
	return nil
}

// GetBatch 按ID取批次
func (s *ImportService) GetBatch(id string) (*models.RegistrationBatch, error) {
	var batch models.RegistrationBatch
	err := s.db.First(&batch, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}
	return &batch, nil
}

// ListBatches 分页查询批次
func (s *ImportService) ListBatches(page, pageSize int, programID, status string) ([]models.RegistrationBatch, int64, error) {
	var batches []models.RegistrationBatch
	var total int64

	query := s.db.Model(&models.RegistrationBatch{})
	if programID != "" {
		query = query.Where("program_id = ?", programID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&batches).Error
	return batches, total, err
}
