/*
 * @module service/meta/statuses
 * @description 支付计划构建状态、抽样类型与登记批次状态的元数据
 * @architecture 元数据层 - 静态注册表
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow 构建: PENDING -> BUILDING -> OK/FAILED；批次: IMPORTING -> IN_REVIEW -> DEDUPLICATION -> MERGED
 * @rules 状态集中定义，服务层不得散落字符串字面量
 * @dependencies 无
 * @refs service/payment_plan, service/registration
 */

package meta

// 支付计划构建状态
const (
	BuildStatusPending  = "PENDING"
	BuildStatusBuilding = "BUILDING"
	BuildStatusOK       = "OK"
	BuildStatusFailed   = "FAILED"
)

// 抽样类型
const (
	SamplingFullList = "FULL_LIST"
	SamplingRandom   = "RANDOM"
)

// 登记批次状态
const (
	BatchStatusImporting           = "IMPORTING"
	BatchStatusInReview            = "IN_REVIEW"
	BatchStatusDeduplication       = "DEDUPLICATION"
	BatchStatusDeduplicationFailed = "DEDUPLICATION_FAILED"
	BatchStatusMerged              = "MERGED"
)

var buildStatusDisplayNames = map[string]string{
	BuildStatusPending:  "待构建",
	BuildStatusBuilding: "构建中",
	BuildStatusOK:       "构建完成",
	BuildStatusFailed:   "构建失败",
}

// IsValidSamplingType 判断抽样类型是否合法
func IsValidSamplingType(samplingType string) bool {
	return samplingType == SamplingFullList || samplingType == SamplingRandom
}

// GetBuildStatusDisplayName 返回构建状态的显示名称
func GetBuildStatusDisplayName(status string) string {
	if name, ok := buildStatusDisplayNames[status]; ok {
		return name
	}
	return status
}
