/*
 * @module api/controllers/targeting_controller
 * @description 瞄准条件控制器：条件树创建、查询、校验与命中预览
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow HTTP请求处理流程
 * @rules 统一的错误处理和响应格式
 * @dependencies beneficiary-service/service, github.com/go-chi/chi/v5
 * @refs service/targeting
 */

package controllers

import (
	"net/http"

	"beneficiary-service/service"
	"beneficiary-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// TargetingController 瞄准条件控制器
type TargetingController struct{}

// NewTargetingController 创建瞄准条件控制器实例
func NewTargetingController() *TargetingController {
	return &TargetingController{}
}

// CreateCriteria 创建瞄准条件
// @Summary 创建瞄准条件
// @Description 校验并保存整棵瞄准条件树
// @Tags 瞄准
// @Accept json
// @Produce json
// @Param criteria body models.TargetingCriteria true "瞄准条件树"
// @Success 201 {object} APIResponse{data=models.TargetingCriteria} "创建成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /targeting/criteria [post]
func (c *TargetingController) CreateCriteria(w http.ResponseWriter, r *http.Request) {
	var criteria models.TargetingCriteria
	if err := render.DecodeJSON(r.Body, &criteria); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	if err := service.GlobalCriteriaService.CreateCriteria(&criteria); err != nil {
		renderError(w, r, err, "创建瞄准条件失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusCreated,
		Msg:    "创建瞄准条件成功",
		Data:   criteria,
	})
}

// GetCriteria 获取瞄准条件
// @Summary 获取瞄准条件
// @Description 按ID获取条件树及全部过滤器
// @Tags 瞄准
// @Produce json
// @Param id path string true "条件ID"
// @Success 200 {object} APIResponse{data=models.TargetingCriteria} "获取成功"
// @Failure 404 {object} APIResponse "条件不存在"
// @Router /targeting/criteria/{id} [get]
func (c *TargetingController) GetCriteria(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	criteria, err := service.GlobalCriteriaService.GetCriteria(id)
	if err != nil {
		renderError(w, r, err, "获取瞄准条件失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取瞄准条件成功",
		Data:   criteria,
	})
}

// previewRequest 预览请求体
type previewRequest struct {
	ProgramID string                   `json:"program_id"`
	Criteria  models.TargetingCriteria `json:"criteria"`
}

// PreviewCriteria 预览条件命中数
// @Summary 预览条件命中数
// @Description 对项目活跃住户套用条件树并返回命中住户数，不产生写入
// @Tags 瞄准
// @Accept json
// @Produce json
// @Param request body previewRequest true "预览请求"
// @Success 200 {object} APIResponse{data=int64} "预览成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Router /targeting/criteria/preview [post]
func (c *TargetingController) PreviewCriteria(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	count, err := service.GlobalCriteriaService.PreviewCount(req.ProgramID, &req.Criteria)
	if err != nil {
		renderError(w, r, err, "预览条件命中数失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "预览条件命中数成功",
		Data:   count,
	})
}
