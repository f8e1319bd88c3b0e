/*
 * @module service/payment_plan/builder
 * @description 支付计划人口构建器：条件求值 -> 资格脚本评分 -> 抽样 -> 成员快照落库 -> 聚合计数
 * @architecture 分层架构 - 业务服务层，构建状态机 PENDING -> BUILDING -> OK/FAILED
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 置 BUILDING -> 事务内构建 -> 成功置 OK / 失败置 FAILED（绝不静默跳过）
 * @rules 同样输入重建必须得到同样的成员集与计数；redis 短TTL幂等键防止同计划并发构建；
 *        状态流转走乐观锁版本检查，冲突由调用方重试
 * @dependencies gorm.io/gorm, github.com/go-redis/redis/v8, service/targeting, service/models
 * @refs service/targeting/criteria.go, service/targeting/sampling.go
 */

package paymentplan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/event"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/metrics"
	"beneficiary-service/service/models"
	"beneficiary-service/service/targeting"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 500
	buildLockTTL    = 5 * time.Minute
	buildLockPrefix = "beneficiary:plan_build:"
)

// Builder 支付计划人口构建器
type Builder struct {
	db        *gorm.DB
	rdb       *redis.Client
	evaluator *targeting.CriteriaEvaluator
	sampler   *targeting.SamplingEngine
	scorer    *targeting.EligibilityScorer
	events    *event.Dispatcher
	pageSize  int
}

// NewBuilder 创建构建器；rdb 为空时跳过幂等键保护（测试环境）
func NewBuilder(db *gorm.DB, rdb *redis.Client, events *event.Dispatcher) *Builder {
	return &Builder{
		db:        db,
		rdb:       rdb,
		evaluator: targeting.NewCriteriaEvaluator(db),
		sampler:   targeting.NewSamplingEngine(db),
		scorer:    targeting.NewEligibilityScorer(),
		events:    events,
		pageSize:  defaultPageSize,
	}
}

// BuildPopulation 构建支付计划人口快照
// 构建失败时状态落 FAILED 并记录原因，绝不保持 BUILDING 悬挂
func (b *Builder) BuildPopulation(ctx context.Context, planID string) error {
	if b.rdb != nil {
		ok, err := b.rdb.SetNX(ctx, buildLockPrefix+planID, "1", buildLockTTL).Result()
		if err != nil {
			return fmt.Errorf("获取构建幂等键失败: %w", err)
		}
		if !ok {
			return apperrors.NewValidation("支付计划 %s 的构建任务已在执行", planID)
		}
		defer b.rdb.Del(ctx, buildLockPrefix+planID)
	}

	var plan models.PaymentPlan
	if err := b.db.First(&plan, "id = ?", planID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("查询支付计划失败: %w", err)
	}

	if !plan.CanBuild() {
		return apperrors.NewValidation("支付计划状态 %s 不允许构建", plan.BuildStatus)
	}

	now := time.Now()
	err := models.UpdateWithVersion(b.db, &models.PaymentPlan{}, plan.ID, plan.Version, map[string]interface{}{
		"build_status":     meta.BuildStatusBuilding,
		"build_started_at": now,
		"build_error":      "",
	})
	if err != nil {
		return err
	}
	plan.Version++

	buildErr := b.db.Transaction(func(tx *gorm.DB) error {
		return b.run(ctx, tx, &plan)
	})

	if buildErr != nil {
		ended := time.Now()
		if err := models.UpdateWithVersion(b.db, &models.PaymentPlan{}, plan.ID, plan.Version, map[string]interface{}{
			"build_status":   meta.BuildStatusFailed,
			"build_ended_at": ended,
			"build_error":    buildErr.Error(),
		}); err != nil {
			slog.Error("保存构建失败状态失败", "plan_id", plan.ID, "error", err)
		}
		metrics.PlanBuildsTotal.WithLabelValues("failed").Inc()
		slog.Error("支付计划构建失败", "plan_id", plan.ID, "error", buildErr)
		return buildErr
	}

	metrics.PlanBuildsTotal.WithLabelValues("ok").Inc()
	if b.events != nil {
		b.events.Dispatch(ctx, event.EventPlanBuilt, plan.ID, nil)
	}
	slog.Info("支付计划构建完成", "plan_id", plan.ID)
	return nil
}

// run 事务内的构建主流程
func (b *Builder) run(ctx context.Context, tx *gorm.DB, plan *models.PaymentPlan) error {
	criteria, err := b.loadCriteria(tx, plan.TargetingCriteriaID)
	if err != nil {
		return err
	}

	base := models.ActiveHouseholds(tx.Model(&models.Household{})).
		Where("households.program_id = ?", plan.ProgramID)
	filtered, err := b.evaluator.Apply(base, criteria)
	if err != nil {
		return err
	}

	// 资格脚本评分：启用脚本时先按得分过滤候选集，得分随快照落库
	scores, population, err := b.applyEligibilityRules(tx, plan, filtered)
	if err != nil {
		return err
	}

	spec := &targeting.SamplingSpec{
		SamplingType:            plan.SamplingType,
		FullListArguments:       plan.FullListArguments,
		RandomSamplingArguments: plan.RandomSamplingArguments,
	}
	result, err := b.sampler.ProcessSampling(spec, population)
	if err != nil {
		return err
	}

	if err := b.storeSnapshot(tx, plan, result.HouseholdIDs, scores); err != nil {
		return err
	}

	agg, err := b.aggregateCounts(tx, plan.ID)
	if err != nil {
		return err
	}

	ended := time.Now()
	updates := map[string]interface{}{
		"build_status":                 meta.BuildStatusOK,
		"build_ended_at":               ended,
		"build_error":                  "",
		"arguments_snapshot":           result.ArgumentsSnapshot,
		"sample_size":                  int64(result.SampleSize),
		"total_households":             agg.TotalHouseholds,
		"total_individuals":            agg.TotalIndividuals(),
		"female_age_group_0_5_count":   agg.Female05,
		"female_age_group_6_11_count":  agg.Female611,
		"female_age_group_12_17_count": agg.Female1217,
		"female_age_group_18_59_count": agg.Female1859,
		"female_age_group_60_count":    agg.Female60,
		"male_age_group_0_5_count":     agg.Male05,
		"male_age_group_6_11_count":    agg.Male611,
		"male_age_group_12_17_count":   agg.Male1217,
		"male_age_group_18_59_count":   agg.Male1859,
		"male_age_group_60_count":      agg.Male60,
		"children_disabled_count":      agg.ChildrenDisabled,
		"adults_disabled_count":        agg.AdultsDisabled,
	}
	if err := models.UpdateWithVersion(tx, &models.PaymentPlan{}, plan.ID, plan.Version, updates); err != nil {
		return err
	}
	plan.Version++
	return nil
}

// loadCriteria 加载条件树及全部过滤器
func (b *Builder) loadCriteria(tx *gorm.DB, criteriaID string) (*models.TargetingCriteria, error) {
	var criteria models.TargetingCriteria
	err := tx.
		Preload("Rules.Filters").
		Preload("Rules.CollectorFilters").
		Preload("Rules.IndividualFilters").
		First(&criteria, "id = ?", criteriaID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("瞄准条件 %s: %w", criteriaID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询瞄准条件失败: %w", err)
	}
	return &criteria, nil
}

// applyEligibilityRules 对候选住户执行启用的资格脚本
// 返回各户得分与过滤后的住户查询；未挂脚本时原查询原样返回
func (b *Builder) applyEligibilityRules(tx *gorm.DB, plan *models.PaymentPlan, filtered *gorm.DB) (map[string]float64, *gorm.DB, error) {
	var links []models.PaymentPlanEligibilityRule
	if err := tx.Preload("Rule").Where("payment_plan_id = ?", plan.ID).Find(&links).Error; err != nil {
		return nil, nil, fmt.Errorf("查询资格规则失败: %w", err)
	}

	rules := make([]*models.EligibilityRule, 0, len(links))
	for i := range links {
		if links[i].Rule != nil && links[i].Rule.Enabled {
			rules = append(rules, links[i].Rule)
		}
	}
	if len(rules) == 0 {
		return nil, filtered, nil
	}

	scores := map[string]float64{}
	var keptIDs []string

	// 候选集按页遍历，避免一次性持有全量结果
	offset := 0
	for {
		var page []models.Household
		err := filtered.Session(&gorm.Session{}).
			Order("households.id").Offset(offset).Limit(b.pageSize).Find(&page).Error
		if err != nil {
			return nil, nil, fmt.Errorf("分页查询候选住户失败: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			h := &page[i]
			input := targeting.HouseholdScriptInput(h)
			total := 0.0
			passedAll := true
			for _, rule := range rules {
				score, passed, err := b.scorer.Passes(rule, input)
				if err != nil {
					return nil, nil, err
				}
				total += score
				if !passed {
					passedAll = false
					break
				}
			}
			if passedAll {
				scores[h.ID] = total
				keptIDs = append(keptIDs, h.ID)
			}
		}

		offset += len(page)
	}

	population := models.ActiveHouseholds(tx.Model(&models.Household{}))
	if len(keptIDs) == 0 {
		// 全部被脚本淘汰：收敛为空集而不报错
		population = population.Where("1 = 0")
	} else {
		population = population.Where("households.id IN ?", keptIDs)
	}
	return scores, population, nil
}

// storeSnapshot 重建成员快照：清空旧行后按页批量写入
func (b *Builder) storeSnapshot(tx *gorm.DB, plan *models.PaymentPlan, householdIDs []string, scores map[string]float64) error {
	if err := tx.Where("payment_plan_id = ?", plan.ID).
		Delete(&models.PaymentPlanHousehold{}).Error; err != nil {
		return fmt.Errorf("清空旧成员快照失败: %w", err)
	}

	rows := make([]models.PaymentPlanHousehold, 0, len(householdIDs))
	for _, id := range householdIDs {
		row := models.PaymentPlanHousehold{PaymentPlanID: plan.ID, HouseholdID: id}
		if score, ok := scores[id]; ok {
			s := score
			row.VulnerabilityScore = &s
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(rows, b.pageSize).Error; err != nil {
		return fmt.Errorf("写入成员快照失败: %w", err)
	}
	return nil
}

// planAggregates 单条聚合查询的结果行
type planAggregates struct {
	TotalHouseholds  int64
	Female05         int64
	Female611        int64
	Female1217       int64
	Female1859       int64
	Female60         int64
	Male05           int64
	Male611          int64
	Male1217         int64
	Male1859         int64
	Male60           int64
	ChildrenDisabled int64
	AdultsDisabled   int64
}

// TotalIndividuals 全部年龄段 x 性别分桶之和
func (a *planAggregates) TotalIndividuals() int64 {
	return a.Female05 + a.Female611 + a.Female1217 + a.Female1859 + a.Female60 +
		a.Male05 + a.Male611 + a.Male1217 + a.Male1859 + a.Male60
}

// aggregateCounts 对成员快照执行单条聚合查询
func (b *Builder) aggregateCounts(tx *gorm.DB, planID string) (*planAggregates, error) {
	var agg planAggregates
	err := tx.Model(&models.Household{}).
		Select(`COUNT(*) AS total_households,
			COALESCE(SUM(households.female_age_group_0_5_count), 0) AS female05,
			COALESCE(SUM(households.female_age_group_6_11_count), 0) AS female611,
			COALESCE(SUM(households.female_age_group_12_17_count), 0) AS female1217,
			COALESCE(SUM(households.female_age_group_18_59_count), 0) AS female1859,
			COALESCE(SUM(households.female_age_group_60_count), 0) AS female60,
			COALESCE(SUM(households.male_age_group_0_5_count), 0) AS male05,
			COALESCE(SUM(households.male_age_group_6_11_count), 0) AS male611,
			COALESCE(SUM(households.male_age_group_12_17_count), 0) AS male1217,
			COALESCE(SUM(households.male_age_group_18_59_count), 0) AS male1859,
			COALESCE(SUM(households.male_age_group_60_count), 0) AS male60,
			COALESCE(SUM(households.children_disabled_count), 0) AS children_disabled,
			COALESCE(SUM(households.adults_disabled_count), 0) AS adults_disabled`).
		Joins("JOIN payment_plan_households pph ON pph.household_id = households.id").
		Where("pph.payment_plan_id = ?", planID).
		Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("聚合计数查询失败: %w", err)
	}
	return &agg, nil
}
