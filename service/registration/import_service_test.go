/*
 * @module service/registration/import_service_test
 * @description 登记导入服务的单元测试：CSV解析与落库、排队查重、并入正式人口
 * @architecture 单元测试 - sqlite 内存库 + testify/mock 搜索索引替身
 * @documentReference ai_docs/registration_req.md
 * @stateFlow CSV -> IN_REVIEW -> 排队 -> DEDUPLICATION -> MERGED
 * @rules 同 household_code 的行归入同一住户；失败批次手工重排时重置重试计数
 * @dependencies testing, github.com/stretchr/testify/assert, github.com/stretchr/testify/mock
 * @refs import_service.go
 */

package registration

import (
	"context"
	"strings"
	"testing"

	"beneficiary-service/client"
	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"
	"beneficiary-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const importCSVHeader = "household_code,admin1,admin2,address,household_size," +
	"full_name,given_name,family_name,birth_date,sex,phone_no," +
	"disability,role,document_type,document_number,photo_key"

type importFixture struct {
	tdb         *testutil.TestDB
	factory     *testutil.TestDataFactory
	searchIndex *testutil.MockSearchIndexClient
	svc         *ImportService
	program     *models.Program
}

func newImportFixture(t *testing.T) *importFixture {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	factory := testutil.NewTestDataFactory(tdb.DB)
	searchIndex := &testutil.MockSearchIndexClient{}
	return &importFixture{
		tdb:         tdb,
		factory:     factory,
		searchIndex: searchIndex,
		svc:         NewImportService(tdb.DB, searchIndex, nil),
		program:     factory.CreateProgram(),
	}
}

func TestImportService_ImportCSV(t *testing.T) {
	f := newImportFixture(t)

	csvBody := importCSVHeader + "\n" +
		"HH-1,province-a,district-1,main street 1,3,Fatima Noor,Fatima,Noor,1988-05-20,FEMALE,0700000001,false,HEAD,national_id,ID-001,\n" +
		"HH-1,province-a,district-1,main street 1,3,Zahra Noor,Zahra,Noor,2024-02-11,FEMALE,,true,,,,\n" +
		"HH-2,province-a,district-2,hill road 9,1,Omar Khan,Omar,Khan,1975-11-02,MALE,0700000002,false,PRIMARY,passport,P-100,photos/omar.jpg\n"

	batch, err := f.svc.ImportCSV(context.Background(), f.program.ID, "august intake", strings.NewReader(csvBody))
	require.NoError(t, err)

	assert.Equal(t, meta.BatchStatusInReview, batch.Status)
	assert.Equal(t, int64(2), batch.ImportedHouseholds)
	assert.Equal(t, int64(3), batch.ImportedIndividuals)
	assert.Empty(t, batch.ErrorMessage)

	// 同 household_code 的两行归入同一住户
	var households []models.Household
	require.NoError(t, f.tdb.DB.Where("registration_batch_id = ?", batch.ID).
		Order("admin2").Find(&households).Error)
	require.Len(t, households, 2)
	first := households[0]
	require.NotNil(t, first.Size)
	assert.Equal(t, 3, *first.Size)
	assert.Equal(t, "main street 1", first.Address)

	var members []models.Individual
	require.NoError(t, f.tdb.DB.Where("household_id = ?", first.ID).Order("full_name").Find(&members).Error)
	require.Len(t, members, 2)
	assert.Equal(t, "Fatima Noor", members[0].FullName)
	assert.True(t, members[1].Disability)

	// 户主角色与证件随行创建
	var role models.IndividualRoleInHousehold
	require.NoError(t, f.tdb.DB.Where("household_id = ?", first.ID).First(&role).Error)
	assert.Equal(t, models.RoleHead, role.Role)
	assert.Equal(t, members[0].ID, role.IndividualID)

	var doc models.Document
	require.NoError(t, f.tdb.DB.Where("individual_id = ?", members[0].ID).First(&doc).Error)
	assert.Equal(t, "ID-001", doc.DocumentNumber)
	assert.Equal(t, models.DocumentStatusValid, doc.Status)

	// 人口学计数按导入成员重算：一名成年女性 + 一名 0-5 岁女童
	assert.Equal(t, 1, first.FemaleAgeGroup1859Count)
	assert.Equal(t, 1, first.FemaleAgeGroup05Count)
	assert.Equal(t, 1, first.ChildrenDisabledCount)
}

func TestImportService_ImportCSVValidation(t *testing.T) {
	f := newImportFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "表头列不符",
			body: "household_code,full_name\nHH-1,Fatima Noor\n",
		},
		{
			name: "出生日期非法",
			body: importCSVHeader + "\n" +
				"HH-1,province-a,district-1,addr,1,Fatima Noor,,,20-05-1988,FEMALE,,false,,,,\n",
		},
		{
			name: "缺少 household_code",
			body: importCSVHeader + "\n" +
				",province-a,district-1,addr,1,Fatima Noor,,,1988-05-20,FEMALE,,false,,,,\n",
		},
		{
			name: "缺少 full_name",
			body: importCSVHeader + "\n" +
				"HH-1,province-a,district-1,addr,1,,,,1988-05-20,FEMALE,,false,,,,\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ImportCSV(context.Background(), f.program.ID, "bad intake", strings.NewReader(tt.body))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}

	// 校验失败不留下住户和个人
	var count int64
	require.NoError(t, f.tdb.DB.Model(&models.Individual{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestImportService_ImportCSVProgramNotFound(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.svc.ImportCSV(context.Background(), "no-such-program", "intake", strings.NewReader(importCSVHeader+"\n"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestImportService_QueueDeduplication(t *testing.T) {
	f := newImportFixture(t)

	t.Run("审核中的批次入队", func(t *testing.T) {
		batch := f.factory.CreateBatch(f.program.ID, meta.BatchStatusInReview)
		require.NoError(t, f.svc.QueueDeduplication(batch.ID))

		reloaded, err := f.svc.GetBatch(batch.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.DedupQueued)
		assert.Equal(t, meta.BatchStatusInReview, reloaded.Status)
	})

	t.Run("失败批次重排时重置重试计数", func(t *testing.T) {
		batch := f.factory.CreateBatch(f.program.ID, meta.BatchStatusDeduplicationFailed)
		require.NoError(t, f.tdb.DB.Model(&models.RegistrationBatch{}).Where("id = ?", batch.ID).
			Updates(map[string]interface{}{"dedup_retry_count": 3, "error_message": "index unavailable"}).Error)

		require.NoError(t, f.svc.QueueDeduplication(batch.ID))

		reloaded, err := f.svc.GetBatch(batch.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.DedupQueued)
		assert.Equal(t, meta.BatchStatusInReview, reloaded.Status)
		assert.Equal(t, 0, reloaded.DedupRetryCount)
		assert.Empty(t, reloaded.ErrorMessage)
	})

	t.Run("已并入的批次拒绝排队", func(t *testing.T) {
		batch := f.factory.CreateBatch(f.program.ID, meta.BatchStatusMerged)
		err := f.svc.QueueDeduplication(batch.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("批次不存在", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.QueueDeduplication("no-such-batch"), apperrors.ErrNotFound)
	})
}

func TestImportService_Merge(t *testing.T) {
	f := newImportFixture(t)

	batch := f.factory.CreateBatch(f.program.ID, meta.BatchStatusDeduplication)
	kept := f.factory.CreateIndividual(f.program.ID, nil, func(ind *models.Individual) {
		ind.RegistrationBatchID = &batch.ID
		ind.FullName = "Fatima Noor"
		ind.PhoneNo = "0700000001"
	})
	// 已撤回的成员不推送索引
	f.factory.CreateIndividual(f.program.ID, nil, func(ind *models.Individual) {
		ind.RegistrationBatchID = &batch.ID
		ind.Withdrawn = true
	})

	f.searchIndex.On("IndexIndividuals", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Merge(context.Background(), batch.ID))

	reloaded, err := f.svc.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.BatchStatusMerged, reloaded.Status)

	calls := f.searchIndex.Calls
	require.Len(t, calls, 1)
	docs := calls[0].Arguments.Get(1).([]client.IndividualDocument)
	require.Len(t, docs, 1)
	assert.Equal(t, kept.ID, docs[0].IndividualID)
	assert.Equal(t, "1990-06-15", docs[0].BirthDate)
}

func TestImportService_MergeRequiresDeduplication(t *testing.T) {
	f := newImportFixture(t)

	batch := f.factory.CreateBatch(f.program.ID, meta.BatchStatusInReview)
	err := f.svc.Merge(context.Background(), batch.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	f.searchIndex.AssertNotCalled(t, "IndexIndividuals", mock.Anything, mock.Anything)
}

func TestImportService_ListBatches(t *testing.T) {
	f := newImportFixture(t)

	other := f.factory.CreateProgram()
	f.factory.CreateBatch(f.program.ID, meta.BatchStatusInReview)
	f.factory.CreateBatch(f.program.ID, meta.BatchStatusMerged)
	f.factory.CreateBatch(other.ID, meta.BatchStatusInReview)

	batches, total, err := f.svc.ListBatches(1, 10, f.program.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, batches, 2)

	batches, total, err = f.svc.ListBatches(1, 10, f.program.ID, meta.BatchStatusMerged)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, batches, 1)
	assert.Equal(t, meta.BatchStatusMerged, batches[0].Status)
}
