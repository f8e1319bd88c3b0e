/*
 * @module service/meta/grievance
 * @description 申诉工单的类别、问题类型与状态机元数据
 * @architecture 元数据层 - 静态注册表
 * @documentReference ai_docs/grievance_req.md
 * @stateFlow NEW -> ASSIGNED -> IN_PROGRESS -> FOR_APPROVAL -> CLOSED，FOR_APPROVAL 可跳过
 * @rules 问题类型必须对类别合法；不要求问题类型的类别不允许携带问题类型
 * @dependencies 无
 * @refs service/models/grievance.go, service/grievance
 */

package meta

// 工单类别
const (
	CategoryDataChange        = "DATA_CHANGE"
	CategorySensitive         = "SENSITIVE_GRIEVANCE"
	CategoryReferral          = "REFERRAL"
	CategoryPositiveFeedback  = "POSITIVE_FEEDBACK"
	CategoryNegativeFeedback  = "NEGATIVE_FEEDBACK"
	CategorySystemFlagging    = "SYSTEM_FLAGGING"
	CategoryNeedsAdjudication = "NEEDS_ADJUDICATION"
)

// 数据变更类问题类型
const (
	IssueTypeAddIndividual        = "ADD_INDIVIDUAL"
	IssueTypeDeleteIndividual     = "DELETE_INDIVIDUAL"
	IssueTypeDeleteHousehold      = "DELETE_HOUSEHOLD"
	IssueTypeHouseholdDataUpdate  = "HOUSEHOLD_DATA_UPDATE"
	IssueTypeIndividualDataUpdate = "INDIVIDUAL_DATA_UPDATE"
)

// 敏感类问题类型
const (
	IssueTypeFraudForgery    = "FRAUD_FORGERY"
	IssueTypeMiscUse         = "MISUSE"
	IssueTypeHarassment      = "HARASSMENT"
	IssueTypeUnauthorizedUse = "UNAUTHORIZED_USE"
)

// 工单状态
const (
	TicketStatusNew         = "NEW"
	TicketStatusAssigned    = "ASSIGNED"
	TicketStatusInProgress  = "IN_PROGRESS"
	TicketStatusForApproval = "FOR_APPROVAL"
	TicketStatusClosed      = "CLOSED"
)

// categoryIssueTypes 各类别合法的问题类型；空表表示该类别不允许设置问题类型
var categoryIssueTypes = map[string][]string{
	CategoryDataChange: {
		IssueTypeAddIndividual,
		IssueTypeDeleteIndividual,
		IssueTypeDeleteHousehold,
		IssueTypeHouseholdDataUpdate,
		IssueTypeIndividualDataUpdate,
	},
	CategorySensitive: {
		IssueTypeFraudForgery,
		IssueTypeMiscUse,
		IssueTypeHarassment,
		IssueTypeUnauthorizedUse,
	},
	CategoryReferral:          {},
	CategoryPositiveFeedback:  {},
	CategoryNegativeFeedback:  {},
	CategorySystemFlagging:    {},
	CategoryNeedsAdjudication: {},
}

// categoriesRequiringApproval 关闭前需要审核人确认 approve_status 的类别
var categoriesRequiringApproval = map[string]bool{
	CategoryDataChange:        true,
	CategorySystemFlagging:    true,
	CategoryNeedsAdjudication: true,
}

// ticketTransitions 合法的状态迁移表
var ticketTransitions = map[string][]string{
	TicketStatusNew:         {TicketStatusAssigned},
	TicketStatusAssigned:    {TicketStatusInProgress},
	TicketStatusInProgress:  {TicketStatusForApproval, TicketStatusClosed},
	TicketStatusForApproval: {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusClosed:      {},
}

// IsValidCategory 判断类别是否合法
func IsValidCategory(category string) bool {
	_, ok := categoryIssueTypes[category]
	return ok
}

// IsValidIssueType 判断问题类型对类别是否合法
// 类别要求问题类型时 issueType 不能为空；类别不接受问题类型时 issueType 必须为空
func IsValidIssueType(category, issueType string) bool {
	issueTypes, ok := categoryIssueTypes[category]
	if !ok {
		return false
	}
	if len(issueTypes) == 0 {
		return issueType == ""
	}
	for _, it := range issueTypes {
		if it == issueType {
			return true
		}
	}
	return false
}

// RequiresApproval 判断类别关闭前是否需要审核确认
func RequiresApproval(category string) bool {
	return categoriesRequiringApproval[category]
}

// CategoryIssueTypes 返回各类别合法问题类型的注册表副本
func CategoryIssueTypes() map[string][]string {
	out := make(map[string][]string, len(categoryIssueTypes))
	for category, issueTypes := range categoryIssueTypes {
		out[category] = append([]string(nil), issueTypes...)
	}
	return out
}

// CanTransition 判断工单状态迁移是否合法
func CanTransition(from, to string) bool {
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
