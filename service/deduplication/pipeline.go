/*
 * @module service/deduplication/pipeline
 * @description 查重管道：批内生平比对 -> 金记录检索 -> 制裁名单筛查 -> 证件硬查重，整批单事务
 * @architecture 分层架构 - 业务服务层，外部引擎经接口注入
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow IN_REVIEW -> (管道成功) DEDUPLICATION；失败回滚，重试超限落 DEDUPLICATION_FAILED
 * @rules 生物识别引擎失败判整批失败；项目开启延迟查重时整批跳过并保持 IN_REVIEW；
 *        每个待裁定个人恰好产生一张 NEEDS_ADJUDICATION 工单，批内碰撞组每组恰好一张
 * @dependencies gorm.io/gorm, client, service/models, service/meta, service/metrics
 * @refs service/scheduler, service/registration
 */

package deduplication

import (
	"context"
	"fmt"
	"log/slog"

	"beneficiary-service/client"
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/metrics"
	"beneficiary-service/service/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Config 查重管道阈值配置
type Config struct {
	// DuplicateScoreThreshold 金记录检索得分不低于该值判定 DUPLICATE
	DuplicateScoreThreshold float64
	// PossibleScoreThreshold 得分落在 [possible, duplicate) 区间判定 NEEDS_ADJUDICATION
	PossibleScoreThreshold float64
	// BiometricSimilarityThreshold 人脸相似对得分不低于该值按重复处理
	BiometricSimilarityThreshold float64
	// SanctionScoreThreshold 制裁名单比对得分不低于该值产生 SYSTEM_FLAGGING 工单
	SanctionScoreThreshold float64
	// MaxRetries 批次查重失败的重试上限，超限后落 DEDUPLICATION_FAILED
	MaxRetries int
}

// DefaultConfig 默认阈值
func DefaultConfig() Config {
	return Config{
		DuplicateScoreThreshold:      11.0,
		PossibleScoreThreshold:       6.0,
		BiometricSimilarityThreshold: 0.85,
		SanctionScoreThreshold:       0.7,
		MaxRetries:                   3,
	}
}

// Pipeline 查重管道
type Pipeline struct {
	db          *gorm.DB
	searchIndex client.SearchIndexClient
	biometric   client.BiometricClient
	sanctionSrc client.SanctionSourceClient
	cfg         Config
}

// NewPipeline 创建查重管道
func NewPipeline(db *gorm.DB, searchIndex client.SearchIndexClient, biometric client.BiometricClient, sanctionSrc client.SanctionSourceClient, cfg Config) *Pipeline {
	return &Pipeline{db: db, searchIndex: searchIndex, biometric: biometric, sanctionSrc: sanctionSrc, cfg: cfg}
}

// DeduplicateBatch 对登记批次执行完整查重管道
// 整批在单个事务内完成；任一环节失败整批回滚并计一次重试
func (p *Pipeline) DeduplicateBatch(ctx context.Context, batchID string) error {
	var batch models.RegistrationBatch
	if err := p.db.First(&batch, "id = ?", batchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("查询登记批次失败: %w", err)
	}

	var program models.Program
	if err := p.db.First(&program, "id = ?", batch.ProgramID).Error; err != nil {
		return fmt.Errorf("查询项目失败: %w", err)
	}

	if program.PostponeDeduplication {
		// 延迟查重项目：批次保持 IN_REVIEW 且不自动恢复，重新排队走手工接口
		slog.Info("项目配置延迟查重，批次跳过", "batch_id", batch.ID, "program_id", program.ID)
		metrics.DedupBatchesTotal.WithLabelValues("postponed").Inc()
		if err := p.db.Model(&models.RegistrationBatch{}).Where("id = ?", batch.ID).
			Update("dedup_queued", false).Error; err != nil {
			return fmt.Errorf("清除批次排队标记失败: %w", err)
		}
		return nil
	}

	if !batch.CanDeduplicate() {
		return apperrors.NewValidation("批次状态 %s 不允许查重", batch.Status)
	}

	runErr := p.db.Transaction(func(tx *gorm.DB) error {
		var individuals []*models.Individual
		if err := tx.Where("registration_batch_id = ? AND withdrawn = ?", batch.ID, false).
			Order("created_at").Find(&individuals).Error; err != nil {
			return fmt.Errorf("查询批次个人失败: %w", err)
		}

		var biometricPairs []client.SimilarityPair
		if program.BiometricDeduplicationEnabled {
			pairs, err := p.runBiometric(ctx, tx, &program, individuals)
			if err != nil {
				return err
			}
			biometricPairs = pairs
		}

		RunBatchPass(individuals, biometricPairs, p.cfg.BiometricSimilarityThreshold)

		if err := p.runGoldenPass(ctx, tx, &batch, individuals); err != nil {
			return err
		}

		if err := p.adjudicateBatchGroups(tx, &batch, individuals); err != nil {
			return err
		}

		if err := p.screenSanctions(tx, &program, individuals); err != nil {
			return err
		}

		if err := p.invalidateDuplicateDocuments(tx, individuals); err != nil {
			return err
		}

		for _, ind := range individuals {
			if err := tx.Save(ind).Error; err != nil {
				return fmt.Errorf("保存个人查重结果失败: %w", err)
			}
			metrics.DedupIndividualsProcessed.Inc()
		}

		batch.Status = meta.BatchStatusDeduplication
		batch.ErrorMessage = ""
		batch.DedupQueued = false
		if err := tx.Save(&batch).Error; err != nil {
			return fmt.Errorf("保存批次状态失败: %w", err)
		}
		return nil
	})

	if runErr != nil {
		p.failBatch(&batch, runErr)
		return runErr
	}

	slog.Info("批次查重完成", "batch_id", batch.ID)
	metrics.DedupBatchesTotal.WithLabelValues("ok").Inc()
	return nil
}

// failBatch 记一次失败；超过重试上限落为终态 DEDUPLICATION_FAILED，否则留给调度器重试
func (p *Pipeline) failBatch(batch *models.RegistrationBatch, cause error) {
	batch.DedupRetryCount++
	batch.ErrorMessage = cause.Error()
	if batch.DedupRetryCount >= p.cfg.MaxRetries {
		batch.Status = meta.BatchStatusDeduplicationFailed
		batch.DedupQueued = false
		metrics.DedupBatchesTotal.WithLabelValues("failed").Inc()
		slog.Error("批次查重重试超限", "batch_id", batch.ID, "retries", batch.DedupRetryCount, "error", cause)
	} else {
		slog.Warn("批次查重失败，等待重试", "batch_id", batch.ID, "retries", batch.DedupRetryCount, "error", cause)
	}
	if err := p.db.Save(batch).Error; err != nil {
		slog.Error("保存批次失败状态失败", "batch_id", batch.ID, "error", err)
	}
}

// runBiometric 人脸查重：确保查重集存在，上传有照片的个人，触发比对并拉取相似对
// 引擎任一步骤失败即判整批失败
func (p *Pipeline) runBiometric(ctx context.Context, tx *gorm.DB, program *models.Program, individuals []*models.Individual) ([]client.SimilarityPair, error) {
	if program.DeduplicationSetID == "" {
		setID, err := p.biometric.CreateDeduplicationSet(ctx, program.ID)
		if err != nil {
			return nil, apperrors.NewExternal("biometric-engine", err)
		}
		program.DeduplicationSetID = setID
		if err := tx.Model(&models.Program{}).Where("id = ?", program.ID).
			Update("deduplication_set_id", setID).Error; err != nil {
			return nil, fmt.Errorf("保存查重集ID失败: %w", err)
		}
	}

	images := make([]client.FaceImage, 0, len(individuals))
	for _, ind := range individuals {
		if ind.PhotoKey != "" {
			images = append(images, client.FaceImage{IndividualID: ind.ID, PhotoKey: ind.PhotoKey})
		}
	}
	if len(images) == 0 {
		return nil, nil
	}

	if err := p.biometric.UploadImages(ctx, program.DeduplicationSetID, images); err != nil {
		return nil, apperrors.NewExternal("biometric-engine", err)
	}
	if err := p.biometric.TriggerProcessing(ctx, program.DeduplicationSetID); err != nil {
		return nil, apperrors.NewExternal("biometric-engine", err)
	}
	pairs, err := p.biometric.GetSimilarityPairs(ctx, program.DeduplicationSetID, p.cfg.PossibleScoreThreshold)
	if err != nil {
		return nil, apperrors.NewExternal("biometric-engine", err)
	}
	return pairs, nil
}

// runGoldenPass 金记录查重：逐个人检索既有人口中的相似候选，按得分阈值落状态并开待裁定工单
func (p *Pipeline) runGoldenPass(ctx context.Context, tx *gorm.DB, batch *models.RegistrationBatch, individuals []*models.Individual) error {
	batchIDs := make([]string, 0, len(individuals))
	for _, ind := range individuals {
		batchIDs = append(batchIDs, ind.ID)
	}

	for _, ind := range individuals {
		candidates, err := p.searchIndex.SearchSimilar(ctx, &client.BiographicQuery{
			ProgramID:  batch.ProgramID,
			FullName:   NormalizeName(ind.FullName),
			BirthDate:  ind.BirthDate.Format("2006-01-02"),
			PhoneNo:    normalizePhone(ind.PhoneNo),
			ExcludeIDs: batchIDs,
			MinScore:   p.cfg.PossibleScoreThreshold,
		})
		if err != nil {
			return apperrors.NewExternal("search-index", err)
		}

		if len(candidates) == 0 {
			ind.DeduplicationGoldenRecordStatus = models.DedupStatusUnique
			ind.DeduplicationGoldenRecordResults = models.JSONBArray{}
			continue
		}

		results := make(models.JSONBArray, 0, len(candidates))
		maxScore := 0.0
		for _, c := range candidates {
			if c.Score > maxScore {
				maxScore = c.Score
			}
			results = append(results, map[string]interface{}{
				"hit_id": c.IndividualID,
				"score":  c.Score,
			})
		}
		ind.DeduplicationGoldenRecordResults = results

		if maxScore >= p.cfg.DuplicateScoreThreshold {
			ind.DeduplicationGoldenRecordStatus = models.DedupStatusDuplicate
		} else {
			ind.DeduplicationGoldenRecordStatus = models.DedupStatusNeedsAdjudication
		}

		if err := p.ensureAdjudicationTicket(tx, batch, ind, candidates); err != nil {
			return err
		}
	}
	return nil
}

// ensureAdjudicationTicket 为待裁定个人确保恰好一张 NEEDS_ADJUDICATION 工单
// 金记录取最高得分候选，其余候选一并挂入待裁定列表
func (p *Pipeline) ensureAdjudicationTicket(tx *gorm.DB, batch *models.RegistrationBatch, ind *models.Individual, candidates []client.SearchCandidate) error {
	golden := candidates[0]
	for _, c := range candidates {
		if c.Score > golden.Score {
			golden = c
		}
	}

	// 幂等保护：同一金记录下已有引用该个人的未关闭工单则不再开新单
	var existing []models.TicketNeedsAdjudicationDetails
	if err := tx.Joins("JOIN grievance_tickets ON grievance_tickets.id = ticket_needs_adjudication_details.ticket_id").
		Where("ticket_needs_adjudication_details.golden_records_individual_id = ?", golden.IndividualID).
		Where("grievance_tickets.status <> ?", meta.TicketStatusClosed).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("查询既有待裁定工单失败: %w", err)
	}
	for _, d := range existing {
		for _, dup := range d.PossibleDuplicateIDs {
			if dup == ind.ID {
				return nil
			}
		}
	}

	possibleIDs := pq.StringArray{ind.ID}
	extra := models.JSONB{"golden_score": golden.Score}
	for _, c := range candidates {
		if c.IndividualID != golden.IndividualID {
			possibleIDs = append(possibleIDs, c.IndividualID)
		}
		extra[c.IndividualID] = c.Score
	}

	ticket := models.GrievanceTicket{
		BusinessArea: batchBusinessArea(tx, batch),
		ProgramID:    batch.ProgramID,
		Category:     meta.CategoryNeedsAdjudication,
		Status:       meta.TicketStatusNew,
		IndividualID: &ind.ID,
		Description:  fmt.Sprintf("deduplication hit for %s", ind.FullName),
		NeedsAdjudicationDetails: &models.TicketNeedsAdjudicationDetails{
			GoldenRecordsIndividualID:   golden.IndividualID,
			PossibleDuplicateIDs:        possibleIDs,
			ExtraData:                   extra,
			IsMultipleDuplicatesVersion: len(possibleIDs) > 1,
		},
	}
	if err := tx.Create(&ticket).Error; err != nil {
		return fmt.Errorf("创建待裁定工单失败: %w", err)
	}
	metrics.DedupTicketsCreated.WithLabelValues(meta.CategoryNeedsAdjudication).Inc()
	return nil
}

// adjudicateBatchGroups 批内碰撞同样需要人工裁定：把批内比对命中连成组，每组置待裁定并开一张工单
// 组内按入库先后取最早的成员作为金记录，其余成员挂入待裁定列表
func (p *Pipeline) adjudicateBatchGroups(tx *gorm.DB, batch *models.RegistrationBatch, individuals []*models.Individual) error {
	parent := make(map[string]string, len(individuals))
	for _, ind := range individuals {
		parent[ind.ID] = ind.ID
	}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, ind := range individuals {
		for _, hit := range ind.DeduplicationBatchResults {
			hitID, _ := hit["hit_id"].(string)
			if _, ok := parent[hitID]; ok {
				parent[find(hitID)] = find(ind.ID)
			}
		}
	}

	// individuals 按入库时间有序，组内切片继承该顺序
	groups := make(map[string][]*models.Individual)
	for _, ind := range individuals {
		root := find(ind.ID)
		groups[root] = append(groups[root], ind)
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		for _, ind := range group {
			// 金记录检索已判 DUPLICATE 的不降级
			if ind.DeduplicationGoldenRecordStatus != models.DedupStatusDuplicate {
				ind.DeduplicationGoldenRecordStatus = models.DedupStatusNeedsAdjudication
			}
		}
		if err := p.ensureBatchAdjudicationTicket(tx, batch, group); err != nil {
			return err
		}
	}
	return nil
}

// ensureBatchAdjudicationTicket 为一个批内碰撞组确保恰好一张引用全组成员的 NEEDS_ADJUDICATION 工单
func (p *Pipeline) ensureBatchAdjudicationTicket(tx *gorm.DB, batch *models.RegistrationBatch, group []*models.Individual) error {
	golden := group[0]
	dups := group[1:]

	// 幂等保护：同一金记录下已有引用组内成员的未关闭工单则不再开新单
	var existing []models.TicketNeedsAdjudicationDetails
	if err := tx.Joins("JOIN grievance_tickets ON grievance_tickets.id = ticket_needs_adjudication_details.ticket_id").
		Where("ticket_needs_adjudication_details.golden_records_individual_id = ?", golden.ID).
		Where("grievance_tickets.status <> ?", meta.TicketStatusClosed).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("查询既有待裁定工单失败: %w", err)
	}
	for _, d := range existing {
		for _, dup := range d.PossibleDuplicateIDs {
			if dup == dups[0].ID {
				return nil
			}
		}
	}

	possibleIDs := pq.StringArray{}
	extra := models.JSONB{}
	for _, d := range dups {
		possibleIDs = append(possibleIDs, d.ID)
		extra[d.ID] = d.DeduplicationBatchStatus
	}

	ticket := models.GrievanceTicket{
		BusinessArea: batchBusinessArea(tx, batch),
		ProgramID:    batch.ProgramID,
		Category:     meta.CategoryNeedsAdjudication,
		Status:       meta.TicketStatusNew,
		IndividualID: &golden.ID,
		Description:  fmt.Sprintf("in-batch deduplication hit for %s", golden.FullName),
		NeedsAdjudicationDetails: &models.TicketNeedsAdjudicationDetails{
			GoldenRecordsIndividualID:   golden.ID,
			PossibleDuplicateIDs:        possibleIDs,
			ExtraData:                   extra,
			IsMultipleDuplicatesVersion: len(possibleIDs) > 1,
		},
	}
	if err := tx.Create(&ticket).Error; err != nil {
		return fmt.Errorf("创建待裁定工单失败: %w", err)
	}
	metrics.DedupTicketsCreated.WithLabelValues(meta.CategoryNeedsAdjudication).Inc()
	return nil
}

// batchBusinessArea 取批次所属项目的业务区域，查不到时退回项目ID
func batchBusinessArea(tx *gorm.DB, batch *models.RegistrationBatch) string {
	var program models.Program
	if err := tx.Select("business_area").First(&program, "id = ?", batch.ProgramID).Error; err != nil {
		return batch.ProgramID
	}
	return program.BusinessArea
}
