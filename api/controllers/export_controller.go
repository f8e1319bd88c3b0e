/*
 * @module api/controllers/export_controller
 * @description 导出控制器：核验名单下载令牌签发与CSV下载
 * @architecture 分层架构 - 控制器层
 * @documentReference ai_docs/export_req.md
 * @stateFlow 签发令牌 -> 携带令牌下载CSV
 * @rules 令牌明文只在签发响应中出现一次；下载校验失败一律返回401
 * @dependencies beneficiary-service/service, github.com/go-chi/chi/v5
 * @refs service/export
 */

package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"beneficiary-service/service"
	"beneficiary-service/service/export"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ExportController 导出控制器
type ExportController struct{}

// NewExportController 创建导出控制器实例
func NewExportController() *ExportController {
	return &ExportController{}
}

// tokenResponse 令牌签发响应，Token 明文仅此一次返回
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// CreateToken 签发导出令牌
// @Summary 签发导出令牌
// @Description 为构建完成的支付计划签发核验名单下载令牌
// @Tags 导出
// @Produce json
// @Param id path string true "计划ID"
// @Success 201 {object} APIResponse{data=tokenResponse} "签发成功"
// @Failure 400 {object} APIResponse "计划状态不允许导出"
// @Failure 404 {object} APIResponse "计划不存在"
// @Router /payment-plans/{id}/export-token [post]
func (c *ExportController) CreateToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	plaintext, token, err := service.GlobalExportService.CreateToken(id, "api")
	if err != nil {
		renderError(w, r, err, "签发导出令牌失败")
		return
	}

	render.JSON(w, r, APIResponse{
		Status: http.StatusCreated,
		Msg:    "签发导出令牌成功",
		Data: tokenResponse{
			Token:     plaintext,
			ExpiresAt: token.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		},
	})
}

// DownloadVerificationList 下载核验名单
// @Summary 下载核验名单
// @Description 校验导出令牌后输出计划成员快照CSV
// @Tags 导出
// @Produce text/csv
// @Param token query string true "导出令牌"
// @Success 200 {string} string "CSV内容"
// @Failure 401 {object} APIResponse "令牌无效或已过期"
// @Router /export/verification-list [get]
func (c *ExportController) DownloadVerificationList(w http.ResponseWriter, r *http.Request) {
	planID, err := service.GlobalExportService.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, export.ErrUnauthorized) {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, APIResponse{
				Status: http.StatusUnauthorized,
				Msg:    "导出令牌无效或已过期",
			})
			return
		}
		renderError(w, r, err, "校验导出令牌失败")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="verification_list_%s.csv"`, planID))
	if err := service.GlobalExportService.WriteVerificationList(planID, w); err != nil {
		// 响应头已写出，只能记录在响应体后中断
		render.JSON(w, r, APIResponse{
			Status: http.StatusInternalServerError,
			Msg:    "导出核验名单失败",
		})
	}
}
