/*
 * @module api/controllers/sql_view_controller
 * @description SQL视图控制器，提供视图的CRUD和生命周期转换接口
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 请求验证 -> 服务调用 -> 响应返回
 * @rules 前置状态错误返回400，记录不存在返回404，SQL和供给错误返回500
 * @dependencies chi, render, service/sqlview
 * @refs api/routes.go
 */

package controllers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"bireport-service/service"
	"bireport-service/service/models"
	"bireport-service/service/sqlview"
)

// SQLViewController SQL视图控制器
type SQLViewController struct {
	service *sqlview.Service
}

// NewSQLViewController 创建SQL视图控制器实例
func NewSQLViewController() *SQLViewController {
	return &SQLViewController{
		service: service.GlobalSQLViewService,
	}
}

// CreateSQLViewRequest 创建SQL视图请求
type CreateSQLViewRequest struct {
	Name           string `json:"name" validate:"required" example:"月度订单分析"`
	TechnicalName  string `json:"technical_name" validate:"required" example:"orders_by_month"`
	Query          string `json:"query" example:"SELECT row_number() OVER () AS id, ..."`
	IsMaterialized *bool  `json:"is_materialized" example:"true"`
}

// renderError 按错误类别映射HTTP状态码
func (c *SQLViewController) renderError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, sqlview.ErrPrecondition) {
		status = http.StatusBadRequest
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		status = http.StatusNotFound
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse(status, msg+": "+err.Error(), err))
}

// CreateSQLView 创建SQL视图
// @Summary 创建SQL视图
// @Description 以draft状态创建一个SQL视图，查询为空时使用占位查询
// @Tags SQL视图
// @Accept json
// @Produce json
// @Param request body CreateSQLViewRequest true "创建请求"
// @Success 200 {object} APIResponse{data=models.SQLView}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views [post]
func (c *SQLViewController) CreateSQLView(w http.ResponseWriter, r *http.Request) {
	var req CreateSQLViewRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数格式错误", err))
		return
	}

	view := &models.SQLView{
		Name:           req.Name,
		TechnicalName:  req.TechnicalName,
		Query:          req.Query,
		IsMaterialized: true,
	}
	if req.IsMaterialized != nil {
		view.IsMaterialized = *req.IsMaterialized
	}

	if err := c.service.CreateSQLView(view); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "创建SQL视图失败: "+err.Error(), err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", view))
}

// ListSQLViews 查询SQL视图列表
// @Summary 查询SQL视图列表
// @Description 分页查询SQL视图
// @Tags SQL视图
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(10)
// @Success 200 {object} PaginatedResponse{data=[]models.SQLView}
// @Failure 500 {object} APIResponse
// @Router /sql-views [get]
func (c *SQLViewController) ListSQLViews(w http.ResponseWriter, r *http.Request) {
	page := cast.ToInt(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	size := cast.ToInt(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 10
	}

	views, total, err := c.service.ListSQLViews(page, size)
	if err != nil {
		c.renderError(w, r, "查询SQL视图列表失败", err)
		return
	}

	render.JSON(w, r, SuccessPaginatedResponse("查询成功", views, total, page, size))
}

// GetSQLView 查询SQL视图详情
// @Summary 查询SQL视图详情
// @Description 查询SQL视图及其字段目录，字段按序号排序
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse{data=models.SQLView}
// @Failure 404 {object} APIResponse
// @Router /sql-views/{id} [get]
func (c *SQLViewController) GetSQLView(w http.ResponseWriter, r *http.Request) {
	view, err := c.service.GetSQLView(chi.URLParam(r, "id"))
	if err != nil {
		c.renderError(w, r, "查询SQL视图失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", view))
}

// UpdateSQLView 更新SQL视图
// @Summary 更新SQL视图
// @Description 更新显示名；技术名称、查询和物化标记只能在draft状态修改
// @Tags SQL视图
// @Accept json
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Param request body map[string]interface{} true "更新字段"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /sql-views/{id} [put]
func (c *SQLViewController) UpdateSQLView(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := render.DecodeJSON(r.Body, &updates); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数格式错误", err))
		return
	}

	if err := c.service.UpdateSQLView(chi.URLParam(r, "id"), updates); err != nil {
		c.renderError(w, r, "更新SQL视图失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("更新成功", nil))
}

// DeleteSQLView 删除SQL视图
// @Summary 删除SQL视图
// @Description 删除draft状态的SQL视图及其字段目录
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /sql-views/{id} [delete]
func (c *SQLViewController) DeleteSQLView(w http.ResponseWriter, r *http.Request) {
	if err := c.service.DeleteSQLView(chi.URLParam(r, "id")); err != nil {
		c.renderError(w, r, "删除SQL视图失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("删除成功", nil))
}

// UpdateField 更新字段标注
// @Summary 更新字段标注
// @Description 更新字段的显示名、类型、选项、目标模型、索引标记和图表角色
// @Tags SQL视图
// @Accept json
// @Produce json
// @Param field_id path string true "字段ID" format(uuid)
// @Param request body map[string]interface{} true "更新字段"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /sql-views/fields/{field_id} [put]
func (c *SQLViewController) UpdateField(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := render.DecodeJSON(r.Body, &updates); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数格式错误", err))
		return
	}

	if err := c.service.UpdateField(chi.URLParam(r, "field_id"), updates); err != nil {
		c.renderError(w, r, "更新字段失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("更新成功", nil))
}

// Validate 校验查询
// @Summary 校验查询
// @Description 在回滚事务中试执行查询并协调字段目录，成功后状态推进到sql_valid
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse{data=models.SQLView}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views/{id}/validate [post]
func (c *SQLViewController) Validate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.service.Validate(id); err != nil {
		c.renderError(w, r, "查询校验失败", err)
		return
	}

	view, err := c.service.GetSQLView(id)
	if err != nil {
		c.renderError(w, r, "查询SQL视图失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("校验成功", view))
}

// CreateModelAndRelation 供给关系和后端模型
// @Summary 供给关系和后端模型
// @Description 创建真实(物化)视图、后端模型、字段和索引，状态推进到model_valid
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views/{id}/create-model [post]
func (c *SQLViewController) CreateModelAndRelation(w http.ResponseWriter, r *http.Request) {
	if err := c.service.CreateModelAndRelation(chi.URLParam(r, "id")); err != nil {
		c.renderError(w, r, "供给模型失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("供给成功", nil))
}

// CreateUI 供给UI制品
// @Summary 供给UI制品
// @Description 创建图表视图、动作和菜单，状态推进到ui_valid
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views/{id}/create-ui [post]
func (c *SQLViewController) CreateUI(w http.ResponseWriter, r *http.Request) {
	if err := c.service.CreateUI(chi.URLParam(r, "id")); err != nil {
		c.renderError(w, r, "创建UI失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("创建成功", nil))
}

// ResetToDraft 回退到draft状态
// @Summary 回退到draft状态
// @Description 删除关系、索引、后端模型和UI制品，保留字段目录
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views/{id}/reset [post]
func (c *SQLViewController) ResetToDraft(w http.ResponseWriter, r *http.Request) {
	if err := c.service.ResetToDraft(chi.URLParam(r, "id")); err != nil {
		c.renderError(w, r, "回退失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("回退成功", nil))
}

// Refresh 手动刷新物化视图
// @Summary 刷新物化视图
// @Description 执行REFRESH MATERIALIZED VIEW并重算空间占用
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views/{id}/refresh [post]
func (c *SQLViewController) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := c.service.Refresh(chi.URLParam(r, "id")); err != nil {
		c.renderError(w, r, "刷新失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("刷新成功", nil))
}

// Duplicate 复制SQL视图
// @Summary 复制SQL视图
// @Description 复制视图和字段标注，副本以draft状态创建，不复制任何制品句柄
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse{data=models.SQLView}
// @Failure 404 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /sql-views/{id}/duplicate [post]
func (c *SQLViewController) Duplicate(w http.ResponseWriter, r *http.Request) {
	duplicated, err := c.service.Duplicate(chi.URLParam(r, "id"))
	if err != nil {
		c.renderError(w, r, "复制失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("复制成功", duplicated))
}

// OpenView 获取打开图表视图的定位信息
// @Summary 获取打开图表视图的定位信息
// @Description 返回UI层打开图表所需的模型名、视图ID和视图模式
// @Tags SQL视图
// @Produce json
// @Param id path string true "视图ID" format(uuid)
// @Success 200 {object} APIResponse{data=sqlview.OpenViewDescriptor}
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /sql-views/{id}/open [get]
func (c *SQLViewController) OpenView(w http.ResponseWriter, r *http.Request) {
	descriptor, err := c.service.OpenView(chi.URLParam(r, "id"))
	if err != nil {
		c.renderError(w, r, "获取视图定位信息失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", descriptor))
}
