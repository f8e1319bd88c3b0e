/*
 * @module api/controllers/meta_controller
 * @description 元数据控制器：瞄准字段注册表、比较方法、工单类别与问题类型
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/targeting_req.md
 * @stateFlow HTTP请求处理流程
 * @rules 只读接口，返回静态注册表内容
 * @dependencies beneficiary-service/service/meta
 * @refs service/meta
 */

package controllers

import (
	"net/http"

	"beneficiary-service/service/meta"

	"github.com/go-chi/render"
)

// MetaController 元数据控制器
type MetaController struct{}

// NewMetaController 创建元数据控制器实例
func NewMetaController() *MetaController {
	return &MetaController{}
}

// targetingFieldMeta 瞄准字段元数据响应项
type targetingFieldMeta struct {
	meta.FieldDefinition
	AllowedComparisonMethods []string `json:"allowed_comparison_methods"`
}

// GetTargetingFields 获取瞄准字段注册表
// @Summary 获取瞄准字段注册表
// @Description 返回全部内置瞄准字段及各自允许的比较方法
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]targetingFieldMeta} "获取成功"
// @Router /meta/targeting-fields [get]
func (c *MetaController) GetTargetingFields(w http.ResponseWriter, r *http.Request) {
	fields := make([]targetingFieldMeta, 0, len(meta.CoreFieldDefinitions))
	for _, def := range meta.CoreFieldDefinitions {
		fields = append(fields, targetingFieldMeta{
			FieldDefinition:          def,
			AllowedComparisonMethods: meta.AllowedComparisonMethods(def.Type),
		})
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取瞄准字段成功",
		Data:   fields,
	})
}

// GetGrievanceCategories 获取工单类别与问题类型
// @Summary 获取工单类别与问题类型
// @Description 返回各工单类别及其合法问题类型列表
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=map[string][]string} "获取成功"
// @Router /meta/grievance-categories [get]
func (c *MetaController) GetGrievanceCategories(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取工单类别成功",
		Data:   meta.CategoryIssueTypes(),
	})
}

// GetSamplingTypes 获取抽样类型
// @Summary 获取抽样类型
// @Description 返回支付计划支持的抽样类型
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]string} "获取成功"
// @Router /meta/sampling-types [get]
func (c *MetaController) GetSamplingTypes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, APIResponse{
		Status: http.StatusOK,
		Msg:    "获取抽样类型成功",
		Data:   []string{meta.SamplingFullList, meta.SamplingRandom},
	})
}
