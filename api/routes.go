/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers
 */

package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"bireport-service/api/controllers"
	apimiddleware "bireport-service/api/middleware"
	"bireport-service/service"
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

	// SSE事件订阅（注册表变更推送）
	eventController := controllers.NewEventController()
	r.Get("/sse", eventController.HandleSSE)

	// SQL视图管理
	r.Route("/sql-views", func(r chi.Router) {
		sqlViewController := controllers.NewSQLViewController()

		// 基础CRUD操作
		r.Post("/", sqlViewController.CreateSQLView)
		r.Get("/", sqlViewController.ListSQLViews)
		r.Get("/{id}", sqlViewController.GetSQLView)
		r.Put("/{id}", sqlViewController.UpdateSQLView)
		r.Delete("/{id}", sqlViewController.DeleteSQLView)

		// 字段标注
		r.Put("/fields/{field_id}", sqlViewController.UpdateField)

		// 执行动态SQL的转换接口加一层限流
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.SQLExecutionLimit(service.GlobalRateLimiter))
			r.Post("/{id}/validate", sqlViewController.Validate)
			r.Post("/{id}/create-model", sqlViewController.CreateModelAndRelation)
			r.Post("/{id}/refresh", sqlViewController.Refresh)
		})

		// 其余生命周期转换
		r.Post("/{id}/create-ui", sqlViewController.CreateUI)
		r.Post("/{id}/reset", sqlViewController.ResetToDraft)
		r.Post("/{id}/duplicate", sqlViewController.Duplicate)

		// 打开图表
		r.Get("/{id}/open", sqlViewController.OpenView)
	})
}
