/*
 * @module service/deduplication/sanction
 * @description 制裁名单筛查：个人与本地名单表按姓名/生日打分比对，命中只开工单不自动拒绝；
 *              名单本身从上游数据源全量同步
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow 名单同步 -> 逐个人打分 -> 达阈值置疑似命中并开 SYSTEM_FLAGGING 工单
 * @rules 命中仅置 SanctionListPossibleMatch，确认命中必须经工单裁定
 * @dependencies gorm.io/gorm, client, service/models, service/meta, service/metrics
 * @refs service/deduplication/pipeline.go
 */

package deduplication

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/metrics"
	"beneficiary-service/service/models"

	"gorm.io/gorm"
)

// screenSanctions 把批次个人与本地制裁名单逐条打分比对
func (p *Pipeline) screenSanctions(tx *gorm.DB, program *models.Program, individuals []*models.Individual) error {
	var entries []models.SanctionListIndividual
	if err := tx.Find(&entries).Error; err != nil {
		return fmt.Errorf("查询制裁名单失败: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	for _, ind := range individuals {
		for i := range entries {
			score := sanctionMatchScore(ind, &entries[i])
			if score < p.cfg.SanctionScoreThreshold {
				continue
			}
			ind.SanctionListPossibleMatch = true
			if err := p.ensureFlaggingTicket(tx, program, ind, &entries[i], score); err != nil {
				return err
			}
		}
	}
	return nil
}

// sanctionMatchScore 姓名词集重合度占 0.7，出生日期精确一致加 0.3
func sanctionMatchScore(ind *models.Individual, entry *models.SanctionListIndividual) float64 {
	score := 0.7 * tokenOverlap(NormalizeName(ind.FullName), NormalizeName(entry.FullName))
	if entry.BirthDate != nil && sameDate(ind.BirthDate, *entry.BirthDate) {
		score += 0.3
	}
	return score
}

// tokenOverlap 两个归一化姓名的 Jaccard 词集重合度
func tokenOverlap(a, b string) float64 {
	setA := map[string]bool{}
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	setB := map[string]bool{}
	for _, t := range strings.Fields(b) {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	common := 0
	for t := range setA {
		if setB[t] {
			common++
		}
	}
	union := len(setA) + len(setB) - common
	return float64(common) / float64(union)
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// ensureFlaggingTicket 同一个人对同一名单条目只开一张未关闭的 SYSTEM_FLAGGING 工单
func (p *Pipeline) ensureFlaggingTicket(tx *gorm.DB, program *models.Program, ind *models.Individual, entry *models.SanctionListIndividual, score float64) error {
	var count int64
	err := tx.Model(&models.TicketSystemFlaggingDetails{}).
		Joins("JOIN grievance_tickets ON grievance_tickets.id = ticket_system_flagging_details.ticket_id").
		Where("ticket_system_flagging_details.individual_id = ?", ind.ID).
		Where("ticket_system_flagging_details.sanction_list_individual_id = ?", entry.ID).
		Where("grievance_tickets.status <> ?", meta.TicketStatusClosed).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("查询既有命中工单失败: %w", err)
	}
	if count > 0 {
		return nil
	}

	ticket := models.GrievanceTicket{
		BusinessArea: program.BusinessArea,
		ProgramID:    program.ID,
		Category:     meta.CategorySystemFlagging,
		Status:       meta.TicketStatusNew,
		IndividualID: &ind.ID,
		Description:  fmt.Sprintf("sanction list match for %s (%s)", ind.FullName, entry.ReferenceNo),
		SystemFlaggingDetails: &models.TicketSystemFlaggingDetails{
			IndividualID:             ind.ID,
			SanctionListIndividualID: entry.ID,
			MatchScore:               score,
		},
	}
	if err := tx.Create(&ticket).Error; err != nil {
		return fmt.Errorf("创建命中工单失败: %w", err)
	}
	metrics.DedupTicketsCreated.WithLabelValues(meta.CategorySystemFlagging).Inc()
	return nil
}

// SyncSanctionList 从上游数据源全量同步制裁名单，按参考号增量写入
func (p *Pipeline) SyncSanctionList(ctx context.Context) error {
	entries, err := p.sanctionSrc.FetchEntries(ctx)
	if err != nil {
		return apperrors.NewExternal("sanction-source", err)
	}

	synced := 0
	for _, e := range entries {
		var birth *time.Time
		if e.BirthDate != "" {
			if t, err := time.Parse("2006-01-02", e.BirthDate); err == nil {
				birth = &t
			}
		}

		var existing models.SanctionListIndividual
		err := p.db.Where("reference_no = ?", e.ReferenceNumber).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			row := models.SanctionListIndividual{
				FullName:    e.FullName,
				BirthDate:   birth,
				ReferenceNo: e.ReferenceNumber,
			}
			if err := p.db.Create(&row).Error; err != nil {
				return fmt.Errorf("写入制裁名单条目失败: %w", err)
			}
			synced++
			continue
		}
		if err != nil {
			return fmt.Errorf("查询制裁名单条目失败: %w", err)
		}

		existing.FullName = e.FullName
		existing.BirthDate = birth
		if err := p.db.Save(&existing).Error; err != nil {
			return fmt.Errorf("更新制裁名单条目失败: %w", err)
		}
	}

	slog.Info("制裁名单同步完成", "fetched", len(entries), "created", synced)
	return nil
}
