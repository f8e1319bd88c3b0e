/*
 * @module api/controllers/payment_plan_controller
 * @description 支付计划控制器：计划CRUD、资格规则挂接、触发人口构建
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow HTTP请求处理流程
 * @rules 构建异步执行：触发接口只把计划置回 PENDING，由调度器拾取
 * @dependencies beneficiary-service/service, github.com/go-chi/chi/v5
 * @refs service/payment_plan
 */

package controllers

import (
	"net/http"
	"strconv"

	"beneficiary-service/service"
	"beneficiary-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// PaymentPlanController 支付计划控制器
type PaymentPlanController struct{}

// NewPaymentPlanController 创建支付计划控制器实例
func NewPaymentPlanController() *PaymentPlanController {
	return &PaymentPlanController{}
}

// CreatePlan 创建支付计划
// @Summary 创建支付计划
// @Description 创建新的支付计划，抽样类型与参数必须严格对应
// @Tags 支付计划
// @Accept json
// @Produce json
// @Param plan body models.PaymentPlan true "支付计划信息"
// @Success 201 {object} APIResponse{data=models.PaymentPlan} "创建成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /payment-plans [post]
func (c *PaymentPlanController) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var plan models.PaymentPlan
	if err := render.DecodeJSON(r.Body, &plan); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	if err := service.GlobalPlanService.CreatePlan(&plan); err != nil {
		renderError(w, r, err, "创建支付计划失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusCreated,
		Msg:    "创建支付计划成功",
		Data:   plan,
	})
}

// GetPlan 获取支付计划
// @Summary 获取支付计划
// @Description 按ID获取计划详情及条件树
// @Tags 支付计划
// @Produce json
// @Param id path string true "计划ID"
// @Success 200 {object} APIResponse{data=models.PaymentPlan} "获取成功"
// @Failure 404 {object} APIResponse "计划不存在"
// @Router /payment-plans/{id} [get]
func (c *PaymentPlanController) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	plan, err := service.GlobalPlanService.GetPlan(id)
	if err != nil {
		renderError(w, r, err, "获取支付计划失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取支付计划成功",
		Data:   plan,
	})
}

// ListPlans 获取支付计划列表
// @Summary 获取支付计划列表
// @Description 分页获取支付计划列表
// @Tags 支付计划
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(10)
// @Param program_id query string false "项目ID"
// @Param build_status query string false "构建状态"
// @Success 200 {object} PaginatedResponse{data=[]models.PaymentPlan} "获取成功"
// @Router /payment-plans [get]
func (c *PaymentPlanController) ListPlans(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 10
	}

	plans, total, err := service.GlobalPlanService.ListPlans(page, size,
		r.URL.Query().Get("program_id"), r.URL.Query().Get("build_status"))
	if err != nil {
		renderError(w, r, err, "获取支付计划列表失败")
		return
	}

	render.JSON(w, r, PaginatedResponse{
		Status: http.StatusOK,
		Msg:    "获取支付计划列表成功",
		Data:   plans,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// attachRuleRequest 挂接资格规则请求体
type attachRuleRequest struct {
	RuleID string `json:"rule_id"`
}

// AttachEligibilityRule 挂接资格规则
// @Summary 挂接资格规则
// @Description 把资格评分规则挂接到支付计划，构建时执行
// @Tags 支付计划
// @Accept json
// @Produce json
// @Param id path string true "计划ID"
// @Param request body attachRuleRequest true "规则ID"
// @Success 200 {object} APIResponse "挂接成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Router /payment-plans/{id}/eligibility-rules [post]
func (c *PaymentPlanController) AttachEligibilityRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req attachRuleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	if err := service.GlobalPlanService.AttachEligibilityRule(id, req.RuleID); err != nil {
		renderError(w, r, err, "挂接资格规则失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "挂接资格规则成功",
	})
}

// TriggerBuild 触发人口构建
// @Summary 触发人口构建
// @Description 把计划置回 PENDING，由后台调度器执行构建
// @Tags 支付计划
// @Produce json
// @Param id path string true "计划ID"
// @Success 200 {object} APIResponse{data=models.PaymentPlan} "触发成功"
// @Failure 400 {object} APIResponse "计划正在构建中"
// @Failure 404 {object} APIResponse "计划不存在"
// @Router /payment-plans/{id}/build [post]
func (c *PaymentPlanController) TriggerBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	plan, err := service.GlobalPlanService.TriggerBuild(id)
	if err != nil {
		renderError(w, r, err, "触发构建失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "触发构建成功",
		Data:   plan,
	})
}
