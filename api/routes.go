/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/backend_requirements.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs ai_docs/model.md
 */

package api

import (
	"beneficiary-service/api/controllers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 元数据
	r.Route("/meta", func(r chi.Router) {
		metaController := controllers.NewMetaController()
		r.Get("/targeting-fields", metaController.GetTargetingFields)
		r.Get("/grievance-categories", metaController.GetGrievanceCategories)
		r.Get("/sampling-types", metaController.GetSamplingTypes)
	})

	// 瞄准条件
	r.Route("/targeting", func(r chi.Router) {
		targetingController := controllers.NewTargetingController()
		r.Post("/criteria", targetingController.CreateCriteria)
		r.Post("/criteria/preview", targetingController.PreviewCriteria)
		r.Get("/criteria/{id}", targetingController.GetCriteria)
	})

	// 支付计划
	r.Route("/payment-plans", func(r chi.Router) {
		paymentPlanController := controllers.NewPaymentPlanController()
		exportController := controllers.NewExportController()

		r.Post("/", paymentPlanController.CreatePlan)
		r.Get("/", paymentPlanController.ListPlans)
		r.Get("/{id}", paymentPlanController.GetPlan)
		r.Post("/{id}/build", paymentPlanController.TriggerBuild)
		r.Post("/{id}/eligibility-rules", paymentPlanController.AttachEligibilityRule)
		r.Post("/{id}/export-token", exportController.CreateToken)
	})

	// 核验名单下载
	r.Get("/export/verification-list", controllers.NewExportController().DownloadVerificationList)

	// 申诉工单
	r.Route("/grievance", func(r chi.Router) {
		grievanceController := controllers.NewGrievanceController()

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", grievanceController.CreateTicket)
			r.Get("/", grievanceController.ListTickets)
			r.Get("/{id}", grievanceController.GetTicket)
			r.Put("/{id}/status", grievanceController.UpdateTicketStatus)
			r.Post("/{id}/close", grievanceController.CloseTicket)
		})

		r.Route("/incompatible-roles", func(r chi.Router) {
			r.Post("/", grievanceController.CreateIncompatiblePair)
			r.Get("/", grievanceController.ListIncompatiblePairs)
		})
	})

	// 登记导入
	r.Route("/registration", func(r chi.Router) {
		registrationController := controllers.NewRegistrationController()

		r.Route("/batches", func(r chi.Router) {
			r.Post("/import", registrationController.ImportCSV)
			r.Get("/", registrationController.ListBatches)
			r.Get("/{id}", registrationController.GetBatch)
			r.Post("/{id}/deduplicate", registrationController.QueueDeduplication)
			r.Post("/{id}/merge", registrationController.MergeBatch)
		})
	})
}
