/*
 * @module service/registry/provisioner
 * @description 对象注册表供给服务，负责后端模型、字段、图表视图、动作、菜单等制品的创建与回收
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 供给请求 -> 注册表行写入 -> registry_changed通知
 * @rules 注册表纯数据驱动，无编译期schema需要重载；删除模型级联删除其字段
 * @dependencies bireport-service/service/models, gorm.io/gorm
 * @refs service/sqlview/service.go, service/event/event_service.go
 */

package registry

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"bireport-service/service/models"
)

// NotifyChannel 注册表变更通知使用的PostgreSQL通道名
const NotifyChannel = "bi_registry_changed"

// Service 对象注册表供给服务
type Service struct {
	db *gorm.DB
}

// NewService 创建注册表供给服务实例
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// WithTx 返回绑定到指定事务的服务实例，供给和生命周期转换共用一个事务边界
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx}
}

// CreateModel 创建后端模型
func (s *Service) CreateModel(name, model string) (*models.RegistryModel, error) {
	registryModel := &models.RegistryModel{
		Name:  name,
		Model: model,
	}
	if err := s.db.Create(registryModel).Error; err != nil {
		return nil, fmt.Errorf("创建后端模型 %s 失败: %w", model, err)
	}
	return registryModel, nil
}

// DeleteModel 删除后端模型，级联删除其全部字段
func (s *Service) DeleteModel(modelID string) error {
	if err := s.db.Where("model_id = ?", modelID).Delete(&models.RegistryField{}).Error; err != nil {
		return fmt.Errorf("删除模型 %s 的字段失败: %w", modelID, err)
	}
	if err := s.db.Delete(&models.RegistryModel{}, "id = ?", modelID).Error; err != nil {
		return fmt.Errorf("删除后端模型 %s 失败: %w", modelID, err)
	}
	return nil
}

// CreateField 为后端模型创建一个类型化字段
func (s *Service) CreateField(modelID, name, description, ttype, selection, relation string) (*models.RegistryField, error) {
	field := &models.RegistryField{
		ModelID:     modelID,
		Name:        name,
		Description: description,
		TType:       ttype,
		Relation:    relation,
	}
	if ttype == "selection" {
		field.Selection = selection
	}
	if err := s.db.Create(field).Error; err != nil {
		return nil, fmt.Errorf("创建字段 %s 失败: %w", name, err)
	}
	return field, nil
}

// DeleteField 删除后端字段
func (s *Service) DeleteField(fieldID string) error {
	if err := s.db.Delete(&models.RegistryField{}, "id = ?", fieldID).Error; err != nil {
		return fmt.Errorf("删除字段 %s 失败: %w", fieldID, err)
	}
	return nil
}

// CreateUIView 创建UI视图制品，arch为生成的图表XML
func (s *Service) CreateUIView(name, viewType, model, arch string) (*models.UIView, error) {
	view := &models.UIView{
		Name:  name,
		Type:  viewType,
		Model: model,
		Arch:  arch,
	}
	if err := s.db.Create(view).Error; err != nil {
		return nil, fmt.Errorf("创建UI视图 %s 失败: %w", name, err)
	}
	return view, nil
}

// CreateAction 创建绑定后端模型和UI视图的动作
func (s *Service) CreateAction(name, resModel, uiViewID string) (*models.UIAction, error) {
	action := &models.UIAction{
		Name:     name,
		ResModel: resModel,
		UIViewID: uiViewID,
		ViewMode: "graph",
	}
	if err := s.db.Create(action).Error; err != nil {
		return nil, fmt.Errorf("创建动作 %s 失败: %w", name, err)
	}
	return action, nil
}

// CreateMenu 在固定父菜单下创建指向动作的菜单项
func (s *Service) CreateMenu(name, parent, actionID string) (*models.UIMenu, error) {
	menu := &models.UIMenu{
		Name:     name,
		Parent:   parent,
		ActionID: actionID,
	}
	if err := s.db.Create(menu).Error; err != nil {
		return nil, fmt.Errorf("创建菜单 %s 失败: %w", name, err)
	}
	return menu, nil
}

// CreateCronJob 登记一个周期刷新任务
func (s *Service) CreateCronJob(name, sqlViewID, cronExpr string) (*models.CronJob, error) {
	job := &models.CronJob{
		Name:      name,
		SQLViewID: sqlViewID,
		CronExpr:  cronExpr,
		IsActive:  true,
	}
	if err := s.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("创建定时任务 %s 失败: %w", name, err)
	}
	return job, nil
}

// UnlinkUIView 删除UI视图制品
func (s *Service) UnlinkUIView(id string) error {
	return s.db.Delete(&models.UIView{}, "id = ?", id).Error
}

// UnlinkAction 删除动作制品
func (s *Service) UnlinkAction(id string) error {
	return s.db.Delete(&models.UIAction{}, "id = ?", id).Error
}

// UnlinkMenu 删除菜单制品
func (s *Service) UnlinkMenu(id string) error {
	return s.db.Delete(&models.UIMenu{}, "id = ?", id).Error
}

// UnlinkCronJob 删除定时任务
func (s *Service) UnlinkCronJob(id string) error {
	return s.db.Delete(&models.CronJob{}, "id = ?", id).Error
}

// NotifyChanged 供给完成后发出注册表变更通知，订阅方据此重载制品缓存
func (s *Service) NotifyChanged(payload string) {
	if err := s.db.Exec("SELECT pg_notify(?, ?)", NotifyChannel, payload).Error; err != nil {
		// 通知失败不影响供给结果，仅记录日志
		slog.Warn("发送注册表变更通知失败", "payload", payload, "error", err)
	}
}
