/*
 * @module service/deduplication/pipeline_test
 * @description 查重管道的单元测试：金记录检索落状态、待裁定工单幂等、失败重试、延迟查重跳过、
 *              证件硬查重与制裁名单筛查
 * @architecture 单元测试 - sqlite 内存库 + testify/mock 外部引擎替身
 * @documentReference ai_docs/deduplication_req.md
 * @stateFlow IN_REVIEW -> 管道执行 -> DEDUPLICATION / 重试 / DEDUPLICATION_FAILED
 * @rules 引擎失败整批回滚；每个待裁定个人恰好一张工单，批内碰撞组每组恰好一张；重试超限落终态
 * @dependencies testing, github.com/stretchr/testify/assert, github.com/stretchr/testify/mock
 * @refs pipeline.go, sanction.go, documents.go
 */

package deduplication

import (
	"context"
	"errors"
	"testing"
	"time"

	"beneficiary-service/client"
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"
	"beneficiary-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	tdb         *testutil.TestDB
	factory     *testutil.TestDataFactory
	searchIndex *testutil.MockSearchIndexClient
	biometric   *testutil.MockBiometricClient
	sanctionSrc *testutil.MockSanctionSourceClient
	pipeline    *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	searchIndex := &testutil.MockSearchIndexClient{}
	biometric := &testutil.MockBiometricClient{}
	sanctionSrc := &testutil.MockSanctionSourceClient{}
	return &pipelineFixture{
		tdb:         tdb,
		factory:     testutil.NewTestDataFactory(tdb.DB),
		searchIndex: searchIndex,
		biometric:   biometric,
		sanctionSrc: sanctionSrc,
		pipeline:    NewPipeline(tdb.DB, searchIndex, biometric, sanctionSrc, DefaultConfig()),
	}
}

// createBatchIndividual 在批次内创建个人
func (f *pipelineFixture) createBatchIndividual(programID, batchID, fullName, phone string) *models.Individual {
	return f.factory.CreateIndividual(programID, nil, func(ind *models.Individual) {
		ind.RegistrationBatchID = &batchID
		ind.FullName = fullName
		ind.PhoneNo = phone
	})
}

func (f *pipelineFixture) reloadBatch(t *testing.T, id string) *models.RegistrationBatch {
	var batch models.RegistrationBatch
	require.NoError(t, f.tdb.DB.First(&batch, "id = ?", id).Error)
	return &batch
}

func (f *pipelineFixture) reloadIndividual(t *testing.T, id string) *models.Individual {
	var ind models.Individual
	require.NoError(t, f.tdb.DB.First(&ind, "id = ?", id).Error)
	return &ind
}

// noSearchHits 让金记录检索对任意查询返回空候选
func (f *pipelineFixture) noSearchHits() {
	f.searchIndex.On("SearchSimilar", mock.Anything, mock.Anything).
		Return([]client.SearchCandidate{}, nil)
}

func TestPipeline_DeduplicateBatch(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	golden := f.factory.CreateIndividual(program.ID, nil, func(ind *models.Individual) {
		ind.FullName = "Omar Khan"
	})
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)

	sim1 := f.createBatchIndividual(program.ID, batch.ID, "Fatima Noor", "0700000001")
	sim2 := f.createBatchIndividual(program.ID, batch.ID, "FATIMA  NOOR", "0700000002")
	hit := f.createBatchIndividual(program.ID, batch.ID, "Omar Khan", "0700000003")

	// 金记录检索仅对 omar khan 返回候选
	f.searchIndex.On("SearchSimilar", mock.Anything, mock.MatchedBy(func(q *client.BiographicQuery) bool {
		return q.FullName == "omar khan"
	})).Return([]client.SearchCandidate{{IndividualID: golden.ID, Score: 8.0}}, nil)
	f.noSearchHits()

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	reloaded := f.reloadBatch(t, batch.ID)
	assert.Equal(t, meta.BatchStatusDeduplication, reloaded.Status)
	assert.False(t, reloaded.DedupQueued)
	assert.Empty(t, reloaded.ErrorMessage)

	// 同名同生日不同电话判批内相似
	assert.Equal(t, models.DedupBatchStatusSimilar, f.reloadIndividual(t, sim1.ID).DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusSimilar, f.reloadIndividual(t, sim2.ID).DeduplicationBatchStatus)

	// 得分落在 [6,11) 区间判待裁定
	reloadedHit := f.reloadIndividual(t, hit.ID)
	assert.Equal(t, models.DedupBatchStatusUnique, reloadedHit.DeduplicationBatchStatus)
	assert.Equal(t, models.DedupStatusNeedsAdjudication, reloadedHit.DeduplicationGoldenRecordStatus)

	// 批内相似对没有金记录命中也要进入人工裁定
	assert.Equal(t, models.DedupStatusNeedsAdjudication, f.reloadIndividual(t, sim1.ID).DeduplicationGoldenRecordStatus)
	assert.Equal(t, models.DedupStatusNeedsAdjudication, f.reloadIndividual(t, sim2.ID).DeduplicationGoldenRecordStatus)

	var tickets []models.GrievanceTicket
	require.NoError(t, f.tdb.DB.Preload("NeedsAdjudicationDetails").
		Where("category = ?", meta.CategoryNeedsAdjudication).Find(&tickets).Error)
	require.Len(t, tickets, 2)
	byGolden := map[string]*models.GrievanceTicket{}
	for i := range tickets {
		require.NotNil(t, tickets[i].NeedsAdjudicationDetails)
		byGolden[tickets[i].NeedsAdjudicationDetails.GoldenRecordsIndividualID] = &tickets[i]
	}

	// 金记录命中对应的工单
	hitTicket := byGolden[golden.ID]
	require.NotNil(t, hitTicket)
	assert.Equal(t, program.BusinessArea, hitTicket.BusinessArea)
	assert.Contains(t, hitTicket.NeedsAdjudicationDetails.PossibleDuplicateIDs, hit.ID)

	// 批内相似组的工单：最早入库的成员作金记录
	groupTicket := byGolden[sim1.ID]
	require.NotNil(t, groupTicket)
	assert.Contains(t, groupTicket.NeedsAdjudicationDetails.PossibleDuplicateIDs, sim2.ID)

	// 重新排队再跑一遍：既有未关闭工单仍引用这些个人，不再开新单
	require.NoError(t, f.tdb.DB.Model(&models.RegistrationBatch{}).
		Where("id = ?", batch.ID).Update("status", meta.BatchStatusInReview).Error)
	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	var count int64
	require.NoError(t, f.tdb.DB.Model(&models.GrievanceTicket{}).
		Where("category = ?", meta.CategoryNeedsAdjudication).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestPipeline_InBatchPairOpensAdjudicationTicket(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	first := f.createBatchIndividual(program.ID, batch.ID, "Fatima Noor", "0700000001")
	second := f.createBatchIndividual(program.ID, batch.ID, "Fatima  NOOR", "0700000002")
	unique := f.createBatchIndividual(program.ID, batch.ID, "Omar Khan", "0700000003")
	f.noSearchHits()

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	// 同名同生日的批内相似对置待裁定，无关成员保持唯一
	assert.Equal(t, models.DedupBatchStatusSimilar, f.reloadIndividual(t, first.ID).DeduplicationBatchStatus)
	assert.Equal(t, models.DedupStatusNeedsAdjudication, f.reloadIndividual(t, first.ID).DeduplicationGoldenRecordStatus)
	assert.Equal(t, models.DedupStatusNeedsAdjudication, f.reloadIndividual(t, second.ID).DeduplicationGoldenRecordStatus)
	assert.Equal(t, models.DedupStatusUnique, f.reloadIndividual(t, unique.ID).DeduplicationGoldenRecordStatus)

	// 全组恰好一张工单：最早入库的成员作金记录，其余成员挂入待裁定列表
	var tickets []models.GrievanceTicket
	require.NoError(t, f.tdb.DB.Preload("NeedsAdjudicationDetails").
		Where("category = ?", meta.CategoryNeedsAdjudication).Find(&tickets).Error)
	require.Len(t, tickets, 1)
	require.NotNil(t, tickets[0].NeedsAdjudicationDetails)
	assert.Equal(t, first.ID, tickets[0].NeedsAdjudicationDetails.GoldenRecordsIndividualID)
	assert.Equal(t, []string{second.ID}, []string(tickets[0].NeedsAdjudicationDetails.PossibleDuplicateIDs))

	// 重新排队再跑一遍不重复开单
	require.NoError(t, f.tdb.DB.Model(&models.RegistrationBatch{}).
		Where("id = ?", batch.ID).Update("status", meta.BatchStatusInReview).Error)
	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	var count int64
	require.NoError(t, f.tdb.DB.Model(&models.GrievanceTicket{}).
		Where("category = ?", meta.CategoryNeedsAdjudication).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPipeline_HighScoreMarksDuplicate(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	golden := f.factory.CreateIndividual(program.ID, nil)
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	ind := f.createBatchIndividual(program.ID, batch.ID, "Ahmed Ali", "0700000001")

	f.searchIndex.On("SearchSimilar", mock.Anything, mock.Anything).
		Return([]client.SearchCandidate{{IndividualID: golden.ID, Score: 12.5}}, nil)

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	assert.Equal(t, models.DedupStatusDuplicate,
		f.reloadIndividual(t, ind.ID).DeduplicationGoldenRecordStatus)

	// 高分命中同样走工单裁定，不自动撤回
	var count int64
	require.NoError(t, f.tdb.DB.Model(&models.GrievanceTicket{}).
		Where("category = ?", meta.CategoryNeedsAdjudication).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.False(t, f.reloadIndividual(t, ind.ID).Withdrawn)
}

func TestPipeline_RejectsMergedBatch(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusMerged)

	err := f.pipeline.DeduplicateBatch(context.Background(), batch.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestPipeline_BatchNotFound(t *testing.T) {
	f := newPipelineFixture(t)
	assert.ErrorIs(t, f.pipeline.DeduplicateBatch(context.Background(), "no-such-batch"), apperrors.ErrNotFound)
}

func TestPipeline_FailureRetriesThenTerminal(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	require.NoError(t, f.tdb.DB.Model(&models.RegistrationBatch{}).
		Where("id = ?", batch.ID).Update("dedup_queued", true).Error)
	f.createBatchIndividual(program.ID, batch.ID, "Fatima Noor", "0700000001")

	f.searchIndex.On("SearchSimilar", mock.Anything, mock.Anything).
		Return(nil, errors.New("index unavailable"))

	// 前两次失败留在 IN_REVIEW 等调度器重试
	for attempt := 1; attempt <= 2; attempt++ {
		err := f.pipeline.DeduplicateBatch(context.Background(), batch.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsExternal(err))

		reloaded := f.reloadBatch(t, batch.ID)
		assert.Equal(t, meta.BatchStatusInReview, reloaded.Status)
		assert.Equal(t, attempt, reloaded.DedupRetryCount)
		assert.True(t, reloaded.DedupQueued)
		assert.Contains(t, reloaded.ErrorMessage, "index unavailable")
	}

	// 第三次失败达到重试上限，落终态并出队
	require.Error(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))
	reloaded := f.reloadBatch(t, batch.ID)
	assert.Equal(t, meta.BatchStatusDeduplicationFailed, reloaded.Status)
	assert.Equal(t, 3, reloaded.DedupRetryCount)
	assert.False(t, reloaded.DedupQueued)
}

func TestPipeline_PostponedProgramSkipsBatch(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram(func(p *models.Program) {
		p.PostponeDeduplication = true
	})
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	require.NoError(t, f.tdb.DB.Model(&models.RegistrationBatch{}).
		Where("id = ?", batch.ID).Update("dedup_queued", true).Error)
	ind := f.createBatchIndividual(program.ID, batch.ID, "Fatima Noor", "0700000001")

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	// 批次保持 IN_REVIEW 但已出队，不会被调度器再次捡起
	reloaded := f.reloadBatch(t, batch.ID)
	assert.Equal(t, meta.BatchStatusInReview, reloaded.Status)
	assert.False(t, reloaded.DedupQueued)
	assert.Equal(t, 0, reloaded.DedupRetryCount)

	assert.Equal(t, models.DedupBatchStatusNotProcessed,
		f.reloadIndividual(t, ind.ID).DeduplicationBatchStatus)
	f.searchIndex.AssertNotCalled(t, "SearchSimilar", mock.Anything, mock.Anything)
}

func TestPipeline_BiometricPairsUpgradeBatchStatus(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram(func(p *models.Program) {
		p.BiometricDeduplicationEnabled = true
	})
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	first := f.factory.CreateIndividual(program.ID, nil, func(ind *models.Individual) {
		ind.RegistrationBatchID = &batch.ID
		ind.FullName = "Fatima Noor"
		ind.PhotoKey = "photos/fatima.jpg"
	})
	second := f.factory.CreateIndividual(program.ID, nil, func(ind *models.Individual) {
		ind.RegistrationBatchID = &batch.ID
		ind.FullName = "Omar Khan"
		ind.PhotoKey = "photos/omar.jpg"
	})

	f.biometric.On("CreateDeduplicationSet", mock.Anything, program.ID).Return("set-1", nil)
	f.biometric.On("UploadImages", mock.Anything, "set-1", mock.MatchedBy(func(images []client.FaceImage) bool {
		return len(images) == 2
	})).Return(nil)
	f.biometric.On("TriggerProcessing", mock.Anything, "set-1").Return(nil)
	f.biometric.On("GetSimilarityPairs", mock.Anything, "set-1", mock.Anything).
		Return([]client.SimilarityPair{{
			FirstIndividualID:  first.ID,
			SecondIndividualID: second.ID,
			Score:              0.91,
		}}, nil)
	f.noSearchHits()

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	// 人脸得分达阈值的两端都判批内重复
	assert.Equal(t, models.DedupBatchStatusDuplicate, f.reloadIndividual(t, first.ID).DeduplicationBatchStatus)
	assert.Equal(t, models.DedupBatchStatusDuplicate, f.reloadIndividual(t, second.ID).DeduplicationBatchStatus)

	// 人脸重复对同样进入人工裁定
	assert.Equal(t, models.DedupStatusNeedsAdjudication, f.reloadIndividual(t, first.ID).DeduplicationGoldenRecordStatus)
	var tickets []models.GrievanceTicket
	require.NoError(t, f.tdb.DB.Preload("NeedsAdjudicationDetails").
		Where("category = ?", meta.CategoryNeedsAdjudication).Find(&tickets).Error)
	require.Len(t, tickets, 1)
	require.NotNil(t, tickets[0].NeedsAdjudicationDetails)
	assert.Equal(t, first.ID, tickets[0].NeedsAdjudicationDetails.GoldenRecordsIndividualID)
	assert.Contains(t, tickets[0].NeedsAdjudicationDetails.PossibleDuplicateIDs, second.ID)

	// 查重集ID回写到项目
	var reloadedProgram models.Program
	require.NoError(t, f.tdb.DB.First(&reloadedProgram, "id = ?", program.ID).Error)
	assert.Equal(t, "set-1", reloadedProgram.DeduplicationSetID)
}

func TestPipeline_InvalidatesDuplicateDocuments(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	first := f.createBatchIndividual(program.ID, batch.ID, "Fatima Noor", "0700000001")
	second := f.createBatchIndividual(program.ID, batch.ID, "Omar Khan", "0700000002")

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	earlier := models.Document{
		IndividualID:   first.ID,
		Type:           "national_id",
		DocumentNumber: "ID-12345",
		Status:         models.DocumentStatusValid,
		CreatedAt:      base,
	}
	later := models.Document{
		IndividualID:   second.ID,
		Type:           "national_id",
		DocumentNumber: "ID-12345",
		Status:         models.DocumentStatusValid,
		CreatedAt:      base.Add(time.Hour),
	}
	require.NoError(t, f.tdb.DB.Create(&earlier).Error)
	require.NoError(t, f.tdb.DB.Create(&later).Error)
	f.noSearchHits()

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	var reloadedEarlier, reloadedLater models.Document
	require.NoError(t, f.tdb.DB.First(&reloadedEarlier, "id = ?", earlier.ID).Error)
	require.NoError(t, f.tdb.DB.First(&reloadedLater, "id = ?", later.ID).Error)
	assert.Equal(t, models.DocumentStatusValid, reloadedEarlier.Status)
	assert.Equal(t, models.DocumentStatusInvalid, reloadedLater.Status)
}

func TestPipeline_SanctionScreening(t *testing.T) {
	f := newPipelineFixture(t)

	program := f.factory.CreateProgram()
	batch := f.factory.CreateBatch(program.ID, meta.BatchStatusInReview)
	birth := time.Date(1975, 2, 20, 0, 0, 0, 0, time.UTC)
	match := f.factory.CreateIndividual(program.ID, nil, func(ind *models.Individual) {
		ind.RegistrationBatchID = &batch.ID
		ind.FullName = "Ahmed Ali Hassan"
		ind.BirthDate = birth
	})
	clean := f.createBatchIndividual(program.ID, batch.ID, "Fatima Noor", "0700000001")

	require.NoError(t, f.tdb.DB.Create(&models.SanctionListIndividual{
		FullName:    "AHMED Ali Hassan",
		BirthDate:   &birth,
		ReferenceNo: "SL-001",
	}).Error)
	f.noSearchHits()

	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	assert.True(t, f.reloadIndividual(t, match.ID).SanctionListPossibleMatch)
	assert.False(t, f.reloadIndividual(t, match.ID).SanctionListConfirmedMatch)
	assert.False(t, f.reloadIndividual(t, clean.ID).SanctionListPossibleMatch)

	var tickets []models.GrievanceTicket
	require.NoError(t, f.tdb.DB.Preload("SystemFlaggingDetails").
		Where("category = ?", meta.CategorySystemFlagging).Find(&tickets).Error)
	require.Len(t, tickets, 1)
	require.NotNil(t, tickets[0].SystemFlaggingDetails)
	assert.Equal(t, match.ID, tickets[0].SystemFlaggingDetails.IndividualID)
	assert.InDelta(t, 1.0, tickets[0].SystemFlaggingDetails.MatchScore, 0.001)

	// 再跑一遍不重复开单
	require.NoError(t, f.tdb.DB.Model(&models.RegistrationBatch{}).
		Where("id = ?", batch.ID).Update("status", meta.BatchStatusInReview).Error)
	require.NoError(t, f.pipeline.DeduplicateBatch(context.Background(), batch.ID))

	var count int64
	require.NoError(t, f.tdb.DB.Model(&models.GrievanceTicket{}).
		Where("category = ?", meta.CategorySystemFlagging).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPipeline_SyncSanctionList(t *testing.T) {
	f := newPipelineFixture(t)

	f.sanctionSrc.On("FetchEntries", mock.Anything).Return([]client.SanctionEntry{
		{ReferenceNumber: "SL-001", FullName: "John Doe", BirthDate: "1980-01-01"},
		{ReferenceNumber: "SL-002", FullName: "Jane Roe"},
	}, nil).Once()
	require.NoError(t, f.pipeline.SyncSanctionList(context.Background()))

	var entries []models.SanctionListIndividual
	require.NoError(t, f.tdb.DB.Order("reference_no").Find(&entries).Error)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].BirthDate)
	assert.Equal(t, 1980, entries[0].BirthDate.Year())
	assert.Nil(t, entries[1].BirthDate)

	// 同参考号按增量更新，不重复插入
	f.sanctionSrc.On("FetchEntries", mock.Anything).Return([]client.SanctionEntry{
		{ReferenceNumber: "SL-001", FullName: "John A Doe", BirthDate: "1980-01-01"},
	}, nil).Once()
	require.NoError(t, f.pipeline.SyncSanctionList(context.Background()))

	require.NoError(t, f.tdb.DB.Order("reference_no").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "John A Doe", entries[0].FullName)
}

func TestPipeline_SyncSanctionListSourceDown(t *testing.T) {
	f := newPipelineFixture(t)

	f.sanctionSrc.On("FetchEntries", mock.Anything).Return(nil, errors.New("source down"))
	err := f.pipeline.SyncSanctionList(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsExternal(err))
}
