/*
 * @module api/controllers/grievance_controller
 * @description 申诉工单控制器：工单CRUD、状态流转、关闭副作用、不相容角色管理
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/grievance_req.md
 * @stateFlow HTTP请求处理流程
 * @rules 关闭待审核工单未获批时返回工单未关闭的结果而非错误
 * @dependencies beneficiary-service/service, github.com/go-chi/chi/v5
 * @refs service/grievance
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

// GrievanceController 申诉工单控制器
type GrievanceController struct{}

// NewGrievanceController 创建申诉工单控制器实例
func NewGrievanceController() *GrievanceController {
	return &GrievanceController{}
}

// CreateTicket 创建工单
// @Summary 创建工单
// @Description 创建新的申诉工单，问题类型必须对类别合法
// @Tags 申诉工单
// @Accept json
// @Produce json
// @Param ticket body models.GrievanceTicket true "工单信息"
// @Success 201 {object} APIResponse{data=models.GrievanceTicket} "创建成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Router /grievance/tickets [post]
func (c *GrievanceController) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var ticket models.GrievanceTicket
	if err := render.DecodeJSON(r.Body, &ticket); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	if err := service.GlobalGrievanceService.CreateTicket(&ticket); err != nil {
		renderError(w, r, err, "创建工单失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusCreated,
		Msg:    "创建工单成功",
		Data:   ticket,
	})
}

// GetTicket 获取工单
// @Summary 获取工单
// @Description 按ID获取工单及类别明细
// @Tags 申诉工单
// @Produce json
// @Param id path string true "工单ID"
// @Success 200 {object} APIResponse{data=models.GrievanceTicket} "获取成功"
// @Failure 404 {object} APIResponse "工单不存在"
// @Router /grievance/tickets/{id} [get]
func (c *GrievanceController) GetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ticket, err := service.GlobalGrievanceService.GetTicket(id)
	if err != nil {
		renderError(w, r, err, "获取工单失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取工单成功",
		Data:   ticket,
	})
}

// ListTickets 获取工单列表
// @Summary 获取工单列表
// @Description 分页获取工单列表，支持类别/状态/项目过滤
// @Tags 申诉工单
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(10)
// @Param category query string false "工单类别"
// @Param status query string false "工单状态"
// @Param program_id query string false "项目ID"
// @Success 200 {object} PaginatedResponse{data=[]models.GrievanceTicket} "获取成功"
// @Router /grievance/tickets [get]
func (c *GrievanceController) ListTickets(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 10
	}

	tickets, total, err := service.GlobalGrievanceService.ListTickets(page, size,
		r.URL.Query().Get("category"), r.URL.Query().Get("status"), r.URL.Query().Get("program_id"))
	if err != nil {
		renderError(w, r, err, "获取工单列表失败")
		return
	}

	render.JSON(w, r, PaginatedResponse{
		Status: http.StatusOK,
		Msg:    "获取工单列表成功",
		Data:   tickets,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// updateStatusRequest 状态流转请求体
type updateStatusRequest struct {
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// UpdateTicketStatus 工单状态流转
// @Summary 工单状态流转
// @Description 按状态机推进工单状态；关闭必须走 close 接口
// @Tags 申诉工单
// @Accept json
// @Produce json
// @Param id path string true "工单ID"
// @Param request body updateStatusRequest true "目标状态"
// @Success 200 {object} APIResponse{data=models.GrievanceTicket} "流转成功"
// @Failure 400 {object} APIResponse "非法状态迁移"
// @Router /grievance/tickets/{id}/status [put]
func (c *GrievanceController) UpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	ticket, err := service.GlobalGrievanceService.UpdateStatus(id, req.Status, req.AssignedTo)
	if err != nil {
		renderError(w, r, err, "工单状态流转失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "工单状态流转成功",
		Data:   ticket,
	})
}

// closeResult 关闭结果
type closeResult struct {
	Closed bool `json:"closed"`
}

// CloseTicket 关闭工单
// @Summary 关闭工单
// @Description 执行类别对应的关闭副作用；待审核类别未获批时工单保持打开
// @Tags 申诉工单
// @Produce json
// @Param id path string true "工单ID"
// @Success 200 {object} APIResponse{data=closeResult} "处理完成"
// @Failure 400 {object} APIResponse "工单不允许关闭"
// @Failure 404 {object} APIResponse "工单不存在"
// @Router /grievance/tickets/{id}/close [post]
func (c *GrievanceController) CloseTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	closed, err := service.GlobalGrievanceService.Close(r.Context(), id)
	if err != nil {
		renderError(w, r, err, "关闭工单失败")
		return
	}

	msg := "工单已关闭"
	if !closed {
		msg = "工单待审核，未关闭"
	}
	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    msg,
		Data:   closeResult{Closed: closed},
	})
}

// CreateIncompatiblePair 创建不相容角色对
// @Summary 创建不相容角色对
// @Description 登记一对不允许同时持有的角色，无序对唯一
// @Tags 申诉工单
// @Accept json
// @Produce json
// @Param pair body models.IncompatibleRoles true "角色对"
// @Success 201 {object} APIResponse{data=models.IncompatibleRoles} "创建成功"
// @Failure 400 {object} APIResponse "角色对已存在或有用户同时持有"
// @Router /grievance/incompatible-roles [post]
func (c *GrievanceController) CreateIncompatiblePair(w http.ResponseWriter, r *http.Request) {
	var pair models.IncompatibleRoles
	if err := render.DecodeJSON(r.Body, &pair); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "请求参数格式错误",
		})
		return
	}

	if err := service.GlobalIncompatibleRolesService.Create(&pair); err != nil {
		renderError(w, r, err, "创建不相容角色对失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusCreated,
		Msg:    "创建不相容角色对成功",
		Data:   pair,
	})
}

// ListIncompatiblePairs 获取不相容角色对列表
// @Summary 获取不相容角色对列表
// @Description 按业务域获取不相容角色对
// @Tags 申诉工单
// @Produce json
// @Param business_area query string false "业务域"
// @Success 200 {object} APIResponse{data=[]models.IncompatibleRoles} "获取成功"
// @Router /grievance/incompatible-roles [get]
func (c *GrievanceController) ListIncompatiblePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := service.GlobalIncompatibleRolesService.List(r.URL.Query().Get("business_area"))
	if err != nil {
		renderError(w, r, err, "获取不相容角色对失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取不相容角色对成功",
		Data:   pairs,
	})
}
