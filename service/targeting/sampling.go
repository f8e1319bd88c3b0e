/*
 * @module service/targeting/sampling
 * @description 抽样引擎：全列表抽样与基于置信水平/误差边际的随机抽样（可按年龄段/性别分层）
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 参数校验 -> 样本量计算 -> 随机抽取/全列表过滤 -> 返回抽样结果与参数快照
 * @rules 同样的总体与参数必须算出相同样本量；抽取本身不要求跨运行可复现；样本量不小于总体时取全量
 * @dependencies gorm.io/gorm, github.com/spf13/cast, service/models, service/meta
 * @refs service/payment_plan/builder.go
 */

package targeting

import (
	"math"
	"math/rand"

	"beneficiary-service/service/apperrors"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// SamplingSpec 抽样规格，sampling_type 与参数二选一严格对应
type SamplingSpec struct {
	SamplingType            string       `json:"sampling_type"`
	FullListArguments       models.JSONB `json:"full_list_arguments,omitempty"`
	RandomSamplingArguments models.JSONB `json:"random_sampling_arguments,omitempty"`
}

// SamplingResult 抽样结果
type SamplingResult struct {
	HouseholdIDs       []string     `json:"household_ids"`
	SampleSize         int          `json:"sample_size"`
	NumberOfRecipients int          `json:"number_of_recipients"`
	ArgumentsSnapshot  models.JSONB `json:"arguments_snapshot"`
}

// SamplingEngine 抽样引擎
type SamplingEngine struct {
	db *gorm.DB
}

// NewSamplingEngine 创建抽样引擎
func NewSamplingEngine(db *gorm.DB) *SamplingEngine {
	return &SamplingEngine{db: db}
}

// samplingUnit 抽样单元：住户及其户主属性（分层抽样使用）
type samplingUnit struct {
	ID      string
	HeadSex string
	HeadAge int
}

// ProcessSampling 对给定住户查询应用抽样规格
// 空总体返回零接收者而不报错；计算出的样本量不小于总体时取全量
func (s *SamplingEngine) ProcessSampling(spec *SamplingSpec, query *gorm.DB) (*SamplingResult, error) {
	if err := s.validateSpec(spec); err != nil {
		return nil, err
	}

	switch spec.SamplingType {
	case meta.SamplingFullList:
		return s.processFullList(spec, query)
	default:
		return s.processRandom(spec, query)
	}
}

// validateSpec 校验抽样类型与参数的对应关系
func (s *SamplingEngine) validateSpec(spec *SamplingSpec) error {
	if !meta.IsValidSamplingType(spec.SamplingType) {
		return apperrors.NewFieldValidation("sampling_type", "未知的抽样类型: %s", spec.SamplingType)
	}
	if spec.SamplingType == meta.SamplingFullList && spec.RandomSamplingArguments != nil {
		return apperrors.NewFieldValidation("random_sampling_arguments", "FULL_LIST 抽样不允许携带随机抽样参数")
	}
	if spec.SamplingType == meta.SamplingRandom {
		if spec.RandomSamplingArguments == nil {
			return apperrors.NewFieldValidation("random_sampling_arguments", "RANDOM 抽样必须提供随机抽样参数")
		}
		if spec.FullListArguments != nil {
			return apperrors.NewFieldValidation("full_list_arguments", "RANDOM 抽样不允许携带全列表参数")
		}
	}
	return nil
}

// processFullList 全列表抽样：给了键列表就按列表过滤，否则取全部
func (s *SamplingEngine) processFullList(spec *SamplingSpec, query *gorm.DB) (*SamplingResult, error) {
	excluded := stringSliceArg(spec.FullListArguments, "excluded_admin_areas")
	if len(excluded) > 0 {
		query = query.Where("households.admin1 NOT IN ?", excluded)
	}

	included := stringSliceArg(spec.FullListArguments, "household_ids")
	if len(included) > 0 {
		query = query.Where("households.id IN ?", included)
	}

	var ids []string
	if err := query.Pluck("households.id", &ids).Error; err != nil {
		return nil, err
	}

	snapshot := models.JSONB{"sampling_type": meta.SamplingFullList}
	if spec.FullListArguments != nil {
		snapshot["full_list_arguments"] = map[string]interface{}(spec.FullListArguments)
	}

	return &SamplingResult{
		HouseholdIDs:       ids,
		SampleSize:         len(ids),
		NumberOfRecipients: len(ids),
		ArgumentsSnapshot:  snapshot,
	}, nil
}

// processRandom 随机抽样：有限总体样本量公式 + 均匀抽取，可选按户主年龄段/性别分层
func (s *SamplingEngine) processRandom(spec *SamplingSpec, query *gorm.DB) (*SamplingResult, error) {
	args := spec.RandomSamplingArguments
	confidence := floatArg(args, "confidence_interval", 0.95)
	margin := floatArg(args, "margin_of_error", 0.05)
	if confidence <= 0 || confidence >= 1 {
		return nil, apperrors.NewFieldValidation("confidence_interval", "置信水平必须在 (0,1) 区间内")
	}
	if margin <= 0 || margin >= 1 {
		return nil, apperrors.NewFieldValidation("margin_of_error", "误差边际必须在 (0,1) 区间内")
	}

	units, err := s.fetchUnits(query)
	if err != nil {
		return nil, err
	}

	snapshot := models.JSONB{
		"sampling_type":       meta.SamplingRandom,
		"confidence_interval": confidence,
		"margin_of_error":     margin,
		"population_size":     len(units),
	}

	if len(units) == 0 {
		return &SamplingResult{HouseholdIDs: []string{}, SampleSize: 0, NumberOfRecipients: 0, ArgumentsSnapshot: snapshot}, nil
	}

	sampleSize := SampleSizeFor(len(units), confidence, margin)
	snapshot["sample_size"] = sampleSize

	if sampleSize >= len(units) {
		ids := make([]string, len(units))
		for i, u := range units {
			ids[i] = u.ID
		}
		return &SamplingResult{HouseholdIDs: ids, SampleSize: len(ids), NumberOfRecipients: len(ids), ArgumentsSnapshot: snapshot}, nil
	}

	var ids []string
	if boolArg(args, "stratify_by_sex") || boolArg(args, "stratify_by_age") {
		ids = drawStratified(units, sampleSize, boolArg(args, "stratify_by_sex"), boolArg(args, "stratify_by_age"))
		snapshot["stratified"] = true
	} else {
		ids = drawUniform(units, sampleSize)
	}

	return &SamplingResult{
		HouseholdIDs:       ids,
		SampleSize:         sampleSize,
		NumberOfRecipients: len(ids),
		ArgumentsSnapshot:  snapshot,
	}, nil
}

// fetchUnits 取抽样单元及户主属性
func (s *SamplingEngine) fetchUnits(query *gorm.DB) ([]samplingUnit, error) {
	type row struct {
		ID        string
		HeadSex   string
		HeadBirth string
	}

	var rows []row
	err := query.
		Select("households.id AS id, head.sex AS head_sex, CAST(head.birth_date AS TEXT) AS head_birth").
		Joins("LEFT JOIN individual_role_in_households hr ON hr.household_id = households.id AND hr.role = ?", models.RoleHead).
		Joins("LEFT JOIN individuals head ON head.id = hr.individual_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	units := make([]samplingUnit, 0, len(rows))
	for _, r := range rows {
		units = append(units, samplingUnit{ID: r.ID, HeadSex: r.HeadSex, HeadAge: ageFromBirthString(r.HeadBirth)})
	}
	return units, nil
}

// SampleSizeFor 有限总体样本量公式: n0 = z^2 * p(1-p) / e^2, n = n0 / (1 + (n0-1)/N)
// p 取最保守的 0.5；结果向上取整，对同样的 (N, confidence, margin) 恒定
func SampleSizeFor(population int, confidence, margin float64) int {
	if population <= 0 {
		return 0
	}
	z := zScoreFor(confidence)
	n0 := z * z * 0.25 / (margin * margin)
	n := n0 / (1 + (n0-1)/float64(population))
	size := int(math.Ceil(n))
	if size > population {
		size = population
	}
	return size
}

// zScoreFor 常用置信水平的 z 值
func zScoreFor(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.960
	case confidence >= 0.90:
		return 1.645
	case confidence >= 0.85:
		return 1.440
	default:
		return 1.282 // 80%
	}
}

// drawUniform 无放回均匀抽取
func drawUniform(units []samplingUnit, sampleSize int) []string {
	perm := rand.Perm(len(units))
	ids := make([]string, 0, sampleSize)
	for _, idx := range perm[:sampleSize] {
		ids = append(ids, units[idx].ID)
	}
	return ids
}

// drawStratified 分层抽样：按层占比分配样本量，余数按最大余数法分配，层内均匀抽取
func drawStratified(units []samplingUnit, sampleSize int, bySex, byAge bool) []string {
	strata := make(map[string][]samplingUnit)
	var order []string
	for _, u := range units {
		key := stratumKey(u, bySex, byAge)
		if _, ok := strata[key]; !ok {
			order = append(order, key)
		}
		strata[key] = append(strata[key], u)
	}

	type allocation struct {
		key       string
		base      int
		remainder float64
	}

	total := float64(len(units))
	allocs := make([]allocation, 0, len(order))
	allocated := 0
	for _, key := range order {
		exact := float64(sampleSize) * float64(len(strata[key])) / total
		base := int(math.Floor(exact))
		allocs = append(allocs, allocation{key: key, base: base, remainder: exact - float64(base)})
		allocated += base
	}

	// 最大余数法分配剩余名额
	for allocated < sampleSize {
		bestIdx := -1
		for i := range allocs {
			if allocs[i].base >= len(strata[allocs[i].key]) {
				continue
			}
			if bestIdx == -1 || allocs[i].remainder > allocs[bestIdx].remainder {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		allocs[bestIdx].base++
		allocs[bestIdx].remainder = -1
		allocated++
	}

	var ids []string
	for _, a := range allocs {
		members := strata[a.key]
		take := a.base
		if take > len(members) {
			take = len(members)
		}
		perm := rand.Perm(len(members))
		for _, idx := range perm[:take] {
			ids = append(ids, members[idx].ID)
		}
	}
	return ids
}

// stratumKey 构造分层键
func stratumKey(u samplingUnit, bySex, byAge bool) string {
	key := ""
	if bySex {
		key += u.HeadSex
	}
	if byAge {
		key += "|" + ageBand(u.HeadAge)
	}
	return key
}

// ageBand 年龄段分桶，与住户人口学分桶一致
func ageBand(age int) string {
	switch {
	case age <= 5:
		return "0-5"
	case age <= 11:
		return "6-11"
	case age <= 17:
		return "12-17"
	case age <= 59:
		return "18-59"
	default:
		return "60+"
	}
}

// ageFromBirthString 从日期文本粗算年龄，解析失败按 0 处理
func ageFromBirthString(birth string) int {
	if len(birth) < 4 {
		return 0
	}
	year, err := cast.ToIntE(birth[:4])
	if err != nil {
		return 0
	}
	age := currentYear() - year
	if age < 0 {
		age = 0
	}
	return age
}
