/*
 * @module service/export/export_service_test
 * @description 核验名单导出的单元测试：令牌签发与校验、过期处理、CSV输出
 * @architecture 单元测试 - sqlite 内存库
 * @documentReference ai_docs/export_req.md
 * @stateFlow 签发 -> 校验 -> 导出CSV
 * @rules 明文只返回一次；库里只有前缀和散列；任何校验失败一律 ErrUnauthorized
 * @dependencies testing, github.com/stretchr/testify/assert
 * @refs export_service.go
 */

package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"
	"beneficiary-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exportFixture struct {
	tdb     *testutil.TestDB
	factory *testutil.TestDataFactory
	svc     *ExportService
	program *models.Program
	plan    *models.PaymentPlan
}

// newExportFixture 准备一个构建完成的支付计划
func newExportFixture(t *testing.T) *exportFixture {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	factory := testutil.NewTestDataFactory(tdb.DB)
	program := factory.CreateProgram()
	cycle := factory.CreateProgramCycle(program.ID)
	criteria := factory.CreateCriteria()
	plan := factory.CreatePaymentPlan(program.ID, cycle.ID, criteria.ID)
	require.NoError(t, tdb.DB.Model(&models.PaymentPlan{}).
		Where("id = ?", plan.ID).Update("build_status", meta.BuildStatusOK).Error)

	return &exportFixture{
		tdb:     tdb,
		factory: factory,
		svc:     NewExportService(tdb.DB),
		program: program,
		plan:    plan,
	}
}

func TestExportService_TokenRoundTrip(t *testing.T) {
	f := newExportFixture(t)

	plaintext, token, err := f.svc.CreateToken(f.plan.ID, "officer@example.org")
	require.NoError(t, err)
	require.NotNil(t, token)

	// 明文形如 前缀.密文，库里只存前缀和散列
	parts := strings.SplitN(plaintext, ".", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, token.KeyPrefix, parts[0])
	assert.NotContains(t, token.KeyHash, parts[1])
	assert.Equal(t, "officer@example.org", token.CreatedBy)

	planID, err := f.svc.VerifyToken(plaintext)
	require.NoError(t, err)
	assert.Equal(t, f.plan.ID, planID)
}

func TestExportService_CreateTokenRequiresBuiltPlan(t *testing.T) {
	f := newExportFixture(t)

	require.NoError(t, f.tdb.DB.Model(&models.PaymentPlan{}).
		Where("id = ?", f.plan.ID).Update("build_status", meta.BuildStatusPending).Error)

	_, _, err := f.svc.CreateToken(f.plan.ID, "officer@example.org")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestExportService_CreateTokenPlanNotFound(t *testing.T) {
	f := newExportFixture(t)

	_, _, err := f.svc.CreateToken("no-such-plan", "officer@example.org")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExportService_VerifyTokenRejections(t *testing.T) {
	f := newExportFixture(t)

	plaintext, token, err := f.svc.CreateToken(f.plan.ID, "officer@example.org")
	require.NoError(t, err)

	t.Run("格式非法", func(t *testing.T) {
		_, err := f.svc.VerifyToken("not-a-token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("密文被篡改", func(t *testing.T) {
		_, err := f.svc.VerifyToken(token.KeyPrefix + ".deadbeef")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("前缀不存在", func(t *testing.T) {
		_, err := f.svc.VerifyToken("ffffffffffffffff." + strings.SplitN(plaintext, ".", 2)[1])
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("令牌过期", func(t *testing.T) {
		require.NoError(t, f.tdb.DB.Model(&models.ExportToken{}).
			Where("id = ?", token.ID).Update("expires_at", time.Now().Add(-time.Minute)).Error)
		_, err := f.svc.VerifyToken(plaintext)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestExportService_WriteVerificationList(t *testing.T) {
	f := newExportFixture(t)

	household := f.factory.CreateHousehold(f.program.ID)
	head := f.factory.CreateIndividual(f.program.ID, &household.ID, func(ind *models.Individual) {
		ind.FullName = "Fatima Noor"
		ind.PhoneNo = "0700000001"
	})
	f.factory.CreateRole(head.ID, household.ID, models.RoleHead)

	score := 8.0
	require.NoError(t, f.tdb.DB.Create(&models.PaymentPlanHousehold{
		PaymentPlanID:      f.plan.ID,
		HouseholdID:        household.ID,
		VulnerabilityScore: &score,
	}).Error)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteVerificationList(f.plan.ID, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{
		"household_id", "head_of_household", "phone_no", "size",
		"admin1", "admin2", "address", "vulnerability_score",
	}, records[0])
	assert.Equal(t, []string{
		household.ID, "Fatima Noor", "0700000001", "1",
		"province-a", "district-1", "test address", "8.00",
	}, records[1])
}

func TestExportService_WriteVerificationListHeadless(t *testing.T) {
	f := newExportFixture(t)

	// 没有户主角色的住户导出空的户主列
	household := f.factory.CreateHousehold(f.program.ID)
	require.NoError(t, f.tdb.DB.Create(&models.PaymentPlanHousehold{
		PaymentPlanID: f.plan.ID,
		HouseholdID:   household.ID,
	}).Error)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteVerificationList(f.plan.ID, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[1][1])
	assert.Equal(t, "", records[1][7])
}

func TestExportService_WriteVerificationListRequiresBuiltPlan(t *testing.T) {
	f := newExportFixture(t)

	require.NoError(t, f.tdb.DB.Model(&models.PaymentPlan{}).
		Where("id = ?", f.plan.ID).Update("build_status", meta.BuildStatusFailed).Error)

	var buf bytes.Buffer
	err := f.svc.WriteVerificationList(f.plan.ID, &buf)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, buf.Len())
}
