/*
 * @module service/targeting/criteria_test
 * @description 瞄准条件求值器的单元测试：比较方法语义、规则组合逻辑与过滤器校验
 * @architecture 单元测试 - sqlite 内存库上验证谓词构造
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 测试数据准备 -> 条件求值 -> 命中集合验证
 * @rules RANGE 边界双端含入；规则间OR、规则内AND；非法过滤器必须在求值前报校验错误
 * @dependencies testing, github.com/stretchr/testify/assert
 * @refs criteria.go
 */

package targeting

import (
	"testing"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"
	"beneficiary-service/testutil"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// householdWithSize 创建指定规模的住户
func householdWithSize(factory *testutil.TestDataFactory, programID string, size int) *models.Household {
	return factory.CreateHousehold(programID, func(h *models.Household) {
		h.Size = &size
	})
}

func TestCriteriaEvaluator_RangeBoundariesInclusive(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	program := factory.CreateProgram()
	for _, size := range []int{1, 2, 3, 4, 5} {
		householdWithSize(factory, program.ID, size)
	}

	evaluator := NewCriteriaEvaluator(tdb.DB)
	criteria := &models.TargetingCriteria{
		Rules: []models.TargetingCriteriaRule{{
			Filters: []models.TargetingCriteriaRuleFilter{{
				FieldName:        "size",
				ComparisonMethod: meta.ComparisonRange,
				Arguments:        pq.StringArray{"2", "4"},
			}},
		}},
	}

	base := models.ActiveHouseholds(tdb.DB.Model(&models.Household{})).
		Where("households.program_id = ?", program.ID)
	filtered, err := evaluator.Apply(base, criteria)
	require.NoError(t, err)

	var ids []string
	require.NoError(t, filtered.Pluck("households.id", &ids).Error)
	// 边界 2 和 4 都在命中集内
	assert.Len(t, ids, 3)

	var sizes []int
	require.NoError(t, tdb.DB.Model(&models.Household{}).
		Where("id IN ?", ids).Order("size").Pluck("size", &sizes).Error)
	assert.Equal(t, []int{2, 3, 4}, sizes)
}

func TestCriteriaEvaluator_RulesCombineWithOr(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	program := factory.CreateProgram()
	matchBySize := householdWithSize(factory, program.ID, 7)
	matchByArea := factory.CreateHousehold(program.ID, func(h *models.Household) {
		h.Admin1 = "province-b"
	})
	factory.CreateHousehold(program.ID) // 两条规则都不命中

	evaluator := NewCriteriaEvaluator(tdb.DB)
	criteria := &models.TargetingCriteria{
		Rules: []models.TargetingCriteriaRule{
			{
				Filters: []models.TargetingCriteriaRuleFilter{{
					FieldName:        "size",
					ComparisonMethod: meta.ComparisonEquals,
					Arguments:        pq.StringArray{"7"},
				}},
			},
			{
				Filters: []models.TargetingCriteriaRuleFilter{{
					FieldName:        "admin1",
					ComparisonMethod: meta.ComparisonEquals,
					Arguments:        pq.StringArray{"province-b"},
				}},
			},
		},
	}

	base := models.ActiveHouseholds(tdb.DB.Model(&models.Household{})).
		Where("households.program_id = ?", program.ID)
	filtered, err := evaluator.Apply(base, criteria)
	require.NoError(t, err)

	var ids []string
	require.NoError(t, filtered.Pluck("households.id", &ids).Error)
	assert.ElementsMatch(t, []string{matchBySize.ID, matchByArea.ID}, ids)
}

func TestCriteriaEvaluator_FiltersWithinRuleCombineWithAnd(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	program := factory.CreateProgram()
	match := factory.CreateHousehold(program.ID, func(h *models.Household) {
		size := 4
		h.Size = &size
		h.Admin1 = "province-b"
	})
	householdWithSize(factory, program.ID, 4) // admin1 不符
	factory.CreateHousehold(program.ID, func(h *models.Household) {
		h.Admin1 = "province-b" // size 不符
	})

	evaluator := NewCriteriaEvaluator(tdb.DB)
	criteria := &models.TargetingCriteria{
		Rules: []models.TargetingCriteriaRule{{
			Filters: []models.TargetingCriteriaRuleFilter{
				{
					FieldName:        "size",
					ComparisonMethod: meta.ComparisonEquals,
					Arguments:        pq.StringArray{"4"},
				},
				{
					FieldName:        "admin1",
					ComparisonMethod: meta.ComparisonEquals,
					Arguments:        pq.StringArray{"province-b"},
				},
			},
		}},
	}

	base := models.ActiveHouseholds(tdb.DB.Model(&models.Household{})).
		Where("households.program_id = ?", program.ID)
	filtered, err := evaluator.Apply(base, criteria)
	require.NoError(t, err)

	var ids []string
	require.NoError(t, filtered.Pluck("households.id", &ids).Error)
	assert.Equal(t, []string{match.ID}, ids)
}

func TestCriteriaEvaluator_IndividualFilterHitsHousehold(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	program := factory.CreateProgram()
	match := factory.CreateHousehold(program.ID)
	factory.CreateIndividual(program.ID, &match.ID, func(i *models.Individual) {
		i.Disability = true
	})
	other := factory.CreateHousehold(program.ID)
	factory.CreateIndividual(program.ID, &other.ID)

	evaluator := NewCriteriaEvaluator(tdb.DB)
	criteria := &models.TargetingCriteria{
		Rules: []models.TargetingCriteriaRule{{
			IndividualFilters: []models.TargetingIndividualRuleFilter{{
				FieldName:        "disability",
				ComparisonMethod: meta.ComparisonEquals,
				Arguments:        pq.StringArray{"true"},
			}},
		}},
	}

	base := models.ActiveHouseholds(tdb.DB.Model(&models.Household{})).
		Where("households.program_id = ?", program.ID)
	filtered, err := evaluator.Apply(base, criteria)
	require.NoError(t, err)

	var ids []string
	require.NoError(t, filtered.Pluck("households.id", &ids).Error)
	assert.Equal(t, []string{match.ID}, ids)
}

func TestCriteriaEvaluator_CollectorFilterScopesToPrimaryCollector(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	program := factory.CreateProgram()

	// 主领取人电话命中
	match := factory.CreateHousehold(program.ID)
	collector := factory.CreateIndividual(program.ID, &match.ID, func(i *models.Individual) {
		i.PhoneNo = "+880170000001"
	})
	factory.CreateRole(collector.ID, match.ID, models.RolePrimary)

	// 普通成员电话相同但非主领取人，不命中
	other := factory.CreateHousehold(program.ID)
	factory.CreateIndividual(program.ID, &other.ID, func(i *models.Individual) {
		i.PhoneNo = "+880170000001"
	})

	evaluator := NewCriteriaEvaluator(tdb.DB)
	criteria := &models.TargetingCriteria{
		Rules: []models.TargetingCriteriaRule{{
			CollectorFilters: []models.TargetingCollectorRuleFilter{{
				FieldName:        "phone_no",
				ComparisonMethod: meta.ComparisonContains,
				Arguments:        pq.StringArray{"880170000001"},
			}},
		}},
	}

	base := models.ActiveHouseholds(tdb.DB.Model(&models.Household{})).
		Where("households.program_id = ?", program.ID)
	filtered, err := evaluator.Apply(base, criteria)
	require.NoError(t, err)

	var ids []string
	require.NoError(t, filtered.Pluck("households.id", &ids).Error)
	assert.Equal(t, []string{match.ID}, ids)
}

func TestCriteriaEvaluator_WithdrawnHouseholdsExcluded(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	program := factory.CreateProgram()
	householdWithSize(factory, program.ID, 3)
	factory.CreateHousehold(program.ID, func(h *models.Household) {
		size := 3
		h.Size = &size
		h.Withdrawn = true
	})

	evaluator := NewCriteriaEvaluator(tdb.DB)
	criteria := &models.TargetingCriteria{
		Rules: []models.TargetingCriteriaRule{{
			Filters: []models.TargetingCriteriaRuleFilter{{
				FieldName:        "size",
				ComparisonMethod: meta.ComparisonEquals,
				Arguments:        pq.StringArray{"3"},
			}},
		}},
	}

	base := models.ActiveHouseholds(tdb.DB.Model(&models.Household{})).
		Where("households.program_id = ?", program.ID)
	filtered, err := evaluator.Apply(base, criteria)
	require.NoError(t, err)

	var count int64
	require.NoError(t, filtered.Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTargetingCriteria_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		criteria *models.TargetingCriteria
		contains string
	}{
		{
			name:     "没有规则",
			criteria: &models.TargetingCriteria{},
			contains: "至少需要一条规则",
		},
		{
			name: "规则没有过滤器",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{}},
			},
			contains: "至少需要一个过滤器",
		},
		{
			name: "未知字段",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{
					Filters: []models.TargetingCriteriaRuleFilter{{
						FieldName:        "no_such_field",
						ComparisonMethod: meta.ComparisonEquals,
						Arguments:        pq.StringArray{"1"},
					}},
				}},
			},
			contains: "no_such_field",
		},
		{
			name: "RANGE 参数个数不对",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{
					Filters: []models.TargetingCriteriaRuleFilter{{
						FieldName:        "size",
						ComparisonMethod: meta.ComparisonRange,
						Arguments:        pq.StringArray{"2"},
					}},
				}},
			},
			contains: "恰好两个参数",
		},
		{
			name: "RANGE 下界大于上界",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{
					Filters: []models.TargetingCriteriaRuleFilter{{
						FieldName:        "size",
						ComparisonMethod: meta.ComparisonRange,
						Arguments:        pq.StringArray{"5", "2"},
					}},
				}},
			},
			contains: "不能大于上界",
		},
		{
			name: "比较方法对字段类型不合法",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{
					Filters: []models.TargetingCriteriaRuleFilter{{
						FieldName:        "size",
						ComparisonMethod: meta.ComparisonContains,
						Arguments:        pq.StringArray{"3"},
					}},
				}},
			},
			contains: "不合法",
		},
		{
			name: "个人范围字段不能用于住户过滤器",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{
					Filters: []models.TargetingCriteriaRuleFilter{{
						FieldName:        "disability",
						ComparisonMethod: meta.ComparisonEquals,
						Arguments:        pq.StringArray{"true"},
					}},
				}},
			},
			contains: "不能用于 household 过滤器",
		},
		{
			name: "领取人范围字段不能用于个人过滤器",
			criteria: &models.TargetingCriteria{
				Rules: []models.TargetingCriteriaRule{{
					IndividualFilters: []models.TargetingIndividualRuleFilter{{
						FieldName:        "phone_no",
						ComparisonMethod: meta.ComparisonContains,
						Arguments:        pq.StringArray{"880"},
					}},
				}},
			},
			contains: "不能用于 individual 过滤器",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
