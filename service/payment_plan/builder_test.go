/*
 * @module service/payment_plan/builder_test
 * @description 支付计划构建器的单元测试：快照构建、重建确定性、状态机与资格脚本过滤
 * @architecture 单元测试 - sqlite 内存库
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 计划创建 -> 构建 -> 快照与聚合验证 -> 重建对比
 * @rules 同样输入重建得到同样的成员集与计数；构建失败必须落 FAILED 不得悬挂 BUILDING
 * @dependencies testing, github.com/stretchr/testify/assert
 * @refs builder.go
 */

package paymentplan

import (
	"context"
	"sort"
	"testing"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"
	"beneficiary-service/testutil"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixture 构建器测试的公共脚手架
type buildFixture struct {
	tdb      *testutil.TestDB
	factory  *testutil.TestDataFactory
	builder  *Builder
	program  *models.Program
	cycle    *models.ProgramCycle
	criteria *models.TargetingCriteria
}

func newBuildFixture(t *testing.T) *buildFixture {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	factory := testutil.NewTestDataFactory(tdb.DB)
	program := factory.CreateProgram()
	cycle := factory.CreateProgramCycle(program.ID)
	criteria := factory.CreateCriteria(func(c *models.TargetingCriteria) {
		c.Rules = []models.TargetingCriteriaRule{{
			Filters: []models.TargetingCriteriaRuleFilter{{
				FieldName:        "size",
				ComparisonMethod: meta.ComparisonRange,
				Arguments:        pq.StringArray{"1", "10"},
			}},
		}}
	})

	return &buildFixture{
		tdb:      tdb,
		factory:  factory,
		builder:  NewBuilder(tdb.DB, nil, nil),
		program:  program,
		cycle:    cycle,
		criteria: criteria,
	}
}

// createHousehold 创建指定规模和人口学计数的住户
func (f *buildFixture) createHousehold(size, female1859, male05 int) *models.Household {
	return f.factory.CreateHousehold(f.program.ID, func(h *models.Household) {
		h.Size = &size
		h.FemaleAgeGroup1859Count = female1859
		h.MaleAgeGroup05Count = male05
	})
}

func (f *buildFixture) snapshotHouseholdIDs(t *testing.T, planID string) []string {
	var ids []string
	require.NoError(t, f.tdb.DB.Model(&models.PaymentPlanHousehold{}).
		Where("payment_plan_id = ?", planID).Pluck("household_id", &ids).Error)
	sort.Strings(ids)
	return ids
}

func (f *buildFixture) reloadPlan(t *testing.T, planID string) *models.PaymentPlan {
	var plan models.PaymentPlan
	require.NoError(t, f.tdb.DB.First(&plan, "id = ?", planID).Error)
	return &plan
}

func TestBuilder_BuildFullListPopulation(t *testing.T) {
	f := newBuildFixture(t)

	expected := []string{
		f.createHousehold(2, 2, 1).ID,
		f.createHousehold(5, 2, 1).ID,
		f.createHousehold(8, 2, 1).ID,
	}
	sort.Strings(expected)
	f.createHousehold(20, 9, 9) // 条件不命中
	f.factory.CreateHousehold(f.program.ID, func(h *models.Household) {
		size := 3
		h.Size = &size
		h.Withdrawn = true // 撤回住户不进人口
	})

	plan := f.factory.CreatePaymentPlan(f.program.ID, f.cycle.ID, f.criteria.ID)
	require.NoError(t, f.builder.BuildPopulation(context.Background(), plan.ID))

	reloaded := f.reloadPlan(t, plan.ID)
	assert.Equal(t, meta.BuildStatusOK, reloaded.BuildStatus)
	assert.Empty(t, reloaded.BuildError)
	assert.NotNil(t, reloaded.BuildEndedAt)
	assert.Equal(t, int64(3), reloaded.TotalHouseholds)
	assert.Equal(t, int64(3), reloaded.SampleSize)
	// 聚合来自住户的分桶计数: 每户 2 女成年 + 1 男幼儿
	assert.Equal(t, int64(9), reloaded.TotalIndividuals)
	assert.Equal(t, int64(6), reloaded.FemaleAgeGroup1859Count)
	assert.Equal(t, int64(3), reloaded.MaleAgeGroup05Count)

	assert.Equal(t, expected, f.snapshotHouseholdIDs(t, plan.ID))
}

func TestBuilder_RebuildProducesIdenticalSnapshot(t *testing.T) {
	f := newBuildFixture(t)

	for i := 0; i < 4; i++ {
		f.createHousehold(3, 1, 1)
	}
	plan := f.factory.CreatePaymentPlan(f.program.ID, f.cycle.ID, f.criteria.ID)

	require.NoError(t, f.builder.BuildPopulation(context.Background(), plan.ID))
	firstMembers := f.snapshotHouseholdIDs(t, plan.ID)
	firstPlan := f.reloadPlan(t, plan.ID)

	// 构建完成的计划允许重建，旧快照整体替换
	require.NoError(t, f.builder.BuildPopulation(context.Background(), plan.ID))
	secondMembers := f.snapshotHouseholdIDs(t, plan.ID)
	secondPlan := f.reloadPlan(t, plan.ID)

	assert.Equal(t, firstMembers, secondMembers)
	assert.Equal(t, firstPlan.TotalHouseholds, secondPlan.TotalHouseholds)
	assert.Equal(t, firstPlan.TotalIndividuals, secondPlan.TotalIndividuals)

	var rows int64
	require.NoError(t, f.tdb.DB.Model(&models.PaymentPlanHousehold{}).
		Where("payment_plan_id = ?", plan.ID).Count(&rows).Error)
	assert.Equal(t, int64(4), rows)
}

func TestBuilder_EmptyPopulationSucceeds(t *testing.T) {
	f := newBuildFixture(t)

	plan := f.factory.CreatePaymentPlan(f.program.ID, f.cycle.ID, f.criteria.ID)
	require.NoError(t, f.builder.BuildPopulation(context.Background(), plan.ID))

	reloaded := f.reloadPlan(t, plan.ID)
	assert.Equal(t, meta.BuildStatusOK, reloaded.BuildStatus)
	assert.Equal(t, int64(0), reloaded.TotalHouseholds)
	assert.Empty(t, f.snapshotHouseholdIDs(t, plan.ID))
}

func TestBuilder_RejectsConcurrentBuild(t *testing.T) {
	f := newBuildFixture(t)

	plan := f.factory.CreatePaymentPlan(f.program.ID, f.cycle.ID, f.criteria.ID)
	require.NoError(t, f.tdb.DB.Model(&models.PaymentPlan{}).
		Where("id = ?", plan.ID).Update("build_status", meta.BuildStatusBuilding).Error)

	err := f.builder.BuildPopulation(context.Background(), plan.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestBuilder_PlanNotFound(t *testing.T) {
	f := newBuildFixture(t)

	err := f.builder.BuildPopulation(context.Background(), "no-such-plan")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBuilder_FailureMarksPlanFailed(t *testing.T) {
	f := newBuildFixture(t)

	// 条件树不存在导致构建失败
	plan := f.factory.CreatePaymentPlan(f.program.ID, f.cycle.ID, "missing-criteria")
	err := f.builder.BuildPopulation(context.Background(), plan.ID)
	require.Error(t, err)

	reloaded := f.reloadPlan(t, plan.ID)
	assert.Equal(t, meta.BuildStatusFailed, reloaded.BuildStatus)
	assert.NotEmpty(t, reloaded.BuildError)
	assert.NotNil(t, reloaded.BuildEndedAt)
}

func TestBuilder_EligibilityRuleFiltersAndScores(t *testing.T) {
	f := newBuildFixture(t)

	// 规模 4 得分 8 达门槛；规模 2 得分 4 被脚本淘汰
	kept := f.createHousehold(4, 1, 0)
	f.createHousehold(2, 1, 0)

	minScore := 6.0
	rule := models.EligibilityRule{
		Name:    "household-size-score",
		Enabled: true,
		Script: `
	size, _ := household["size"].(int)
	return float64(size) * 2
`,
		MinScore: &minScore,
	}
	require.NoError(t, f.tdb.DB.Create(&rule).Error)

	plan := f.factory.CreatePaymentPlan(f.program.ID, f.cycle.ID, f.criteria.ID)
	require.NoError(t, f.tdb.DB.Create(&models.PaymentPlanEligibilityRule{
		PaymentPlanID: plan.ID,
		RuleID:        rule.ID,
	}).Error)

	require.NoError(t, f.builder.BuildPopulation(context.Background(), plan.ID))

	assert.Equal(t, []string{kept.ID}, f.snapshotHouseholdIDs(t, plan.ID))

	var row models.PaymentPlanHousehold
	require.NoError(t, f.tdb.DB.
		Where("payment_plan_id = ? AND household_id = ?", plan.ID, kept.ID).
		First(&row).Error)
	require.NotNil(t, row.VulnerabilityScore)
	assert.Equal(t, 8.0, *row.VulnerabilityScore)
}
