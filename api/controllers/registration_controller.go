/*
 * @module api/controllers/registration_controller
 * @description 登记导入控制器：CSV上传、批次查询、查重排队与并入
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/registration_req.md
 * @stateFlow HTTP请求处理流程
 * @rules CSV以 multipart 文件上传；查重为异步操作，排队后由调度器执行
 * @dependencies beneficiary-service/service, github.com/go-chi/chi/v5
 * @refs service/registration
 */

package controllers

import (
	"net/http"
	"strconv"

	"beneficiary-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const maxImportSize = 64 << 20 // 64MB

// RegistrationController 登记导入控制器
type RegistrationController struct{}

// NewRegistrationController 创建登记导入控制器实例
func NewRegistrationController() *RegistrationController {
	return &RegistrationController{}
}

// ImportCSV 导入登记CSV
// @Summary 导入登记CSV
// @Description 上传固定表头的CSV创建登记批次及其住户/个人
// @Tags 登记导入
// @Accept multipart/form-data
// @Produce json
// @Param program_id formData string true "项目ID"
// @Param name formData string true "批次名称"
// @Param file formData file true "CSV文件"
// @Success 201 {object} APIResponse{data=models.RegistrationBatch} "导入成功"
// @Failure 400 {object} APIResponse "CSV格式或内容非法"
// @Router /registration/batches/import [post]
func (c *RegistrationController) ImportCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "解析上传表单失败",
		})
		return
	}

	programID := r.FormValue("program_id")
	name := r.FormValue("name")
	if programID == "" || name == "" {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "program_id 与 name 不能为空",
		})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		render.JSON(w, r, APIResponse{
			Status: http.StatusBadRequest,
			Msg:    "缺少CSV文件",
		})
		return
	}
	defer file.Close()

	batch, err := service.GlobalImportService.ImportCSV(r.Context(), programID, name, file)
	if err != nil {
		renderError(w, r, err, "导入登记CSV失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusCreated,
		Msg:    "导入登记CSV成功",
		Data:   batch,
	})
}

// GetBatch 获取登记批次
// @Summary 获取登记批次
// @Description 按ID获取批次详情
// @Tags 登记导入
// @Produce json
// @Param id path string true "批次ID"
// @Success 200 {object} APIResponse{data=models.RegistrationBatch} "获取成功"
// @Failure 404 {object} APIResponse "批次不存在"
// @Router /registration/batches/{id} [get]
func (c *RegistrationController) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := service.GlobalImportService.GetBatch(id)
	if err != nil {
		renderError(w, r, err, "获取登记批次失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取登记批次成功",
		Data:   batch,
	})
}

// ListBatches 获取登记批次列表
// @Summary 获取登记批次列表
// @Description 分页获取登记批次列表
// @Tags 登记导入
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(10)
// @Param program_id query string false "项目ID"
// @Param status query string false "批次状态"
// @Success 200 {object} PaginatedResponse{data=[]models.RegistrationBatch} "获取成功"
// @Router /registration/batches [get]
func (c *RegistrationController) ListBatches(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 10
	}

	batches, total, err := service.GlobalImportService.ListBatches(page, size,
		r.URL.Query().Get("program_id"), r.URL.Query().Get("status"))
	if err != nil {
		renderError(w, r, err, "获取登记批次列表失败")
		return
	}

	render.JSON(w, r, PaginatedResponse{
		Status: http.StatusOK,
		Msg:    "获取登记批次列表成功",
		Data:   batches,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// QueueDeduplication 批次排队查重
// @Summary 批次排队查重
// @Description 把批次排入查重队列；查重失败的批次可重新排队
// @Tags 登记导入
// @Produce json
// @Param id path string true "批次ID"
// @Success 200 {object} APIResponse "排队成功"
// @Failure 400 {object} APIResponse "批次状态不允许查重"
// @Router /registration/batches/{id}/deduplicate [post]
func (c *RegistrationController) QueueDeduplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := service.GlobalImportService.QueueDeduplication(id); err != nil {
		renderError(w, r, err, "批次排队查重失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "批次已排队查重",
	})
}

// MergeBatch 并入批次
// @Summary 并入批次
// @Description 把查重完成的批次并入正式人口并推送搜索索引
// @Tags 登记导入
// @Produce json
// @Param id path string true "批次ID"
// @Success 200 {object} APIResponse "并入成功"
// @Failure 400 {object} APIResponse "批次状态不允许并入"
// @Router /registration/batches/{id}/merge [post]
func (c *RegistrationController) MergeBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := service.GlobalImportService.Merge(r.Context(), id); err != nil {
		renderError(w, r, err, "并入批次失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "批次并入成功",
	})
}
