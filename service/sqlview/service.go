/*
 * @module service/sqlview/service
 * @description SQL视图生命周期服务，驱动 draft -> sql_valid -> model_valid -> ui_valid 状态机
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 校验查询 -> 反射列结构 -> 协调字段目录 -> 供给关系/模型/索引 -> 供给UI制品
 * @rules 每次状态转换在一个事务边界内完成；查询试执行必须回滚；前置状态不满足立即拒绝且无副作用
 * @dependencies bireport-service/service/models, bireport-service/service/registry, gorm.io/gorm
 * @refs service/sqlview/reconciler.go, service/sqlview/refresh_scheduler.go
 */

package sqlview

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"bireport-service/service/models"
	"bireport-service/service/registry"
)

// MenuParent UI菜单的固定父菜单
const MenuParent = "reporting"

// DefaultRefreshCron 物化视图刷新任务的默认调度表达式
const DefaultRefreshCron = "@hourly"

// defaultQuery 新建视图的占位查询
const defaultQuery = "SELECT\n    my_field AS x_my_field\nFROM my_table"

var (
	// ErrPrecondition 状态前置条件不满足，属用法错误，与SQL错误区分
	ErrPrecondition = errors.New("当前状态不允许该操作")

	// errRollbackCheck 查询试执行的哨兵错误，用于强制回滚事务
	errRollbackCheck = errors.New("sql check rollback")
)

// Service SQL视图生命周期服务
type Service struct {
	db        *gorm.DB
	registry  *registry.Service
	scheduler *RefreshScheduler
}

// NewService 创建SQL视图生命周期服务实例
func NewService(db *gorm.DB, reg *registry.Service) *Service {
	return &Service{
		db:       db,
		registry: reg,
	}
}

// SetScheduler 注入刷新调度器，供给/回收定时任务时同步登记
func (s *Service) SetScheduler(scheduler *RefreshScheduler) {
	s.scheduler = scheduler
}

// logExecute 记录并执行动态SQL语句
func (s *Service) logExecute(tx *gorm.DB, req string) error {
	slog.Info("执行SQL请求", "sql", req)
	return tx.Exec(req).Error
}

// === CRUD ===

// CreateSQLView 创建SQL视图，初始为draft状态
func (s *Service) CreateSQLView(view *models.SQLView) error {
	if err := ValidateTechnicalName(view.TechnicalName); err != nil {
		return err
	}
	var count int64
	s.db.Model(&models.SQLView{}).Where("technical_name = ?", view.TechnicalName).Count(&count)
	if count > 0 {
		return fmt.Errorf("技术名称 %s 已存在", view.TechnicalName)
	}
	view.State = models.SQLViewStateDraft
	if view.Query == "" {
		view.Query = defaultQuery
	}
	return s.db.Create(view).Error
}

// GetSQLView 查询SQL视图详情，包含字段目录
func (s *Service) GetSQLView(id string) (*models.SQLView, error) {
	var view models.SQLView
	err := s.db.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence")
	}).First(&view, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListSQLViews 分页查询SQL视图列表
func (s *Service) ListSQLViews(page, size int) ([]models.SQLView, int64, error) {
	var views []models.SQLView
	var total int64

	if err := s.db.Model(&models.SQLView{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * size
	err := s.db.Order("created_at DESC").Offset(offset).Limit(size).Find(&views).Error
	return views, total, err
}

// UpdateSQLView 更新SQL视图。技术名称、查询和物化标记只能在draft状态修改。
func (s *Service) UpdateSQLView(id string, updates map[string]interface{}) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}

	if view.State != models.SQLViewStateDraft {
		for _, key := range []string{"technical_name", "query", "is_materialized"} {
			if _, ok := updates[key]; ok {
				return fmt.Errorf("%w: %s 只能在draft状态修改", ErrPrecondition, key)
			}
		}
	}
	if name, ok := updates["technical_name"].(string); ok {
		if err := ValidateTechnicalName(name); err != nil {
			return err
		}
	}

	return s.db.Model(&models.SQLView{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateField 更新字段的用户标注（显示名、类型、选项、目标模型、索引标记、图表角色）
func (s *Service) UpdateField(fieldID string, updates map[string]interface{}) error {
	var field models.SQLViewField
	if err := s.db.First(&field, "id = ?", fieldID).Error; err != nil {
		return err
	}

	var view models.SQLView
	if err := s.db.First(&view, "id = ?", field.SQLViewID).Error; err != nil {
		return err
	}
	if view.State != models.SQLViewStateDraft && view.State != models.SQLViewStateSQLValid {
		return fmt.Errorf("%w: 字段标注只能在模型供给前修改", ErrPrecondition)
	}

	// 列名、SQL类型和序号只跟踪反射结果，不接受用户修改
	allowed := map[string]bool{
		"description": true, "ttype": true, "selection": true,
		"many2one_model": true, "is_index": true, "graph_type": true,
	}
	filtered := make(map[string]interface{}, len(updates))
	for key, value := range updates {
		if allowed[key] {
			filtered[key] = value
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return s.db.Model(&models.SQLViewField{}).Where("id = ?", fieldID).Updates(filtered).Error
}

// DeleteSQLView 删除SQL视图，只允许draft状态
func (s *Service) DeleteSQLView(id string) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}
	if view.State != models.SQLViewStateDraft {
		return fmt.Errorf("%w: 只有draft状态的视图可以删除", ErrPrecondition)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sql_view_id = ?", id).Delete(&models.SQLViewField{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.SQLView{}, "id = ?", id).Error
	})
}

// Duplicate 复制SQL视图。副本强制回到draft状态，清空全部制品句柄；
// 字段目录连同用户标注一起复制，但不复制已供给的后端字段句柄。
func (s *Service) Duplicate(id string) (*models.SQLView, error) {
	view, err := s.GetSQLView(id)
	if err != nil {
		return nil, err
	}

	duplicated := &models.SQLView{
		Name:           fmt.Sprintf("%s (副本)", view.Name),
		TechnicalName:  fmt.Sprintf("%s_copy", view.TechnicalName),
		IsMaterialized: view.IsMaterialized,
		Query:          view.Query,
		State:          models.SQLViewStateDraft,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(duplicated).Error; err != nil {
			return fmt.Errorf("复制视图失败: %w", err)
		}
		for _, field := range view.Fields {
			copied := models.SQLViewField{
				SQLViewID:     duplicated.ID,
				Name:          field.Name,
				SQLType:       field.SQLType,
				Sequence:      field.Sequence,
				IsIndex:       field.IsIndex,
				GraphType:     field.GraphType,
				Description:   field.Description,
				TType:         field.TType,
				Selection:     field.Selection,
				Many2oneModel: field.Many2oneModel,
			}
			if err := tx.Create(&copied).Error; err != nil {
				return fmt.Errorf("复制字段 %s 失败: %w", field.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return duplicated, nil
}

// === 状态机转换 ===

// Validate 校验查询：在必定回滚的事务里以普通视图方式试执行查询，
// 成功后反射列结构并协调字段目录，状态推进到sql_valid。
// 无论成败，试执行创建的视图都不会留存。
func (s *Service) Validate(id string) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}
	if view.State != models.SQLViewStateDraft {
		return fmt.Errorf("%w: 只有draft状态的视图可以校验", ErrPrecondition)
	}
	if err := ValidateTechnicalName(view.TechnicalName); err != nil {
		return err
	}

	viewName := ViewName(view.TechnicalName)

	// 试执行：创建临时视图并反射，随后用哨兵错误强制回滚
	var columns []ReflectedColumn
	err = s.db.Transaction(func(tx *gorm.DB) error {
		req := fmt.Sprintf("CREATE VIEW %s AS (%s);", viewName, view.Query)
		if err := s.logExecute(tx, req); err != nil {
			return fmt.Errorf("校验 VIEW %s 的SQL失败:\n%s", viewName, err.Error())
		}
		reflected, err := ReflectColumns(tx, viewName)
		if err != nil {
			return err
		}
		columns = reflected
		return errRollbackCheck
	})
	if err != nil && !errors.Is(err, errRollbackCheck) {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := ReconcileFields(tx, s.registry.WithTx(tx), id, columns); err != nil {
			return err
		}
		return tx.Model(&models.SQLView{}).Where("id = ?", id).
			Update("state", models.SQLViewStateSQLValid).Error
	})
}

// CreateModelAndRelation 供给真实关系、后端模型、字段和索引，状态推进到model_valid。
// 整个转换在一个事务内执行，任一步失败则整体回滚，不留半供给状态。
func (s *Service) CreateModelAndRelation(id string) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}
	if view.State != models.SQLViewStateSQLValid {
		return fmt.Errorf("%w: 只有sql_valid状态的视图可以供给模型", ErrPrecondition)
	}

	viewName := ViewName(view.TechnicalName)
	modelName := ModelName(view.TechnicalName)
	materialized := view.MaterializedText()

	var cronJob *models.CronJob
	err = s.db.Transaction(func(tx *gorm.DB) error {
		reg := s.registry.WithTx(tx)

		// (a) 重建真实关系
		if err := s.logExecute(tx, fmt.Sprintf("DROP %s VIEW IF EXISTS %s", materialized, viewName)); err != nil {
			return fmt.Errorf("删除 %s VIEW %s 失败:\n%s", materialized, viewName, err.Error())
		}
		req := fmt.Sprintf("CREATE %s VIEW %s AS (%s);", materialized, viewName, view.Query)
		if err := s.logExecute(tx, req); err != nil {
			return fmt.Errorf("创建 %s VIEW %s 失败:\n%s", materialized, viewName, err.Error())
		}

		// (b) 供给后端模型和字段
		registryModel, err := reg.CreateModel(view.Name, modelName)
		if err != nil {
			return err
		}
		for i := range view.Fields {
			field := &view.Fields[i]
			if field.Description == "" || field.TType == "" {
				continue
			}
			registryField, err := reg.CreateField(registryModel.ID, field.Name,
				field.Description, field.TType, field.Selection, field.Many2oneModel)
			if err != nil {
				return err
			}
			err = tx.Model(field).Update("field_id", registryField.ID).Error
			if err != nil {
				return err
			}
		}

		// (c) 供给索引
		for _, field := range view.Fields {
			if !field.IsIndex {
				continue
			}
			req := fmt.Sprintf("CREATE INDEX %s ON %s (%s);",
				IndexName(viewName, field.Name), viewName, field.Name)
			if err := s.logExecute(tx, req); err != nil {
				return fmt.Errorf("创建索引 %s 失败:\n%s", IndexName(viewName, field.Name), err.Error())
			}
		}

		// (d) 物化视图登记周期刷新任务
		updates := map[string]interface{}{
			"model_id": registryModel.ID,
			"state":    models.SQLViewStateModelValid,
		}
		if view.IsMaterialized {
			cronJob, err = reg.CreateCronJob(
				fmt.Sprintf("Refresh Materialized View %s", viewName), view.ID, DefaultRefreshCron)
			if err != nil {
				return err
			}
			updates["cron_id"] = cronJob.ID
		}

		// (e) 记录关系占用空间
		size, err := s.relationSize(tx, viewName)
		if err != nil {
			return err
		}
		updates["size"] = size

		return tx.Model(&models.SQLView{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	// 事务提交后再广播注册表变更并登记调度
	s.registry.NotifyChanged(modelName)
	if cronJob != nil && s.scheduler != nil {
		s.scheduler.Register(cronJob)
	}
	return nil
}

// CreateUI 供给图表视图、动作和菜单，状态推进到ui_valid
func (s *Service) CreateUI(id string) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}
	if view.State != models.SQLViewStateModelValid {
		return fmt.Errorf("%w: 只有model_valid状态的视图可以创建UI", ErrPrecondition)
	}

	modelName := ModelName(view.TechnicalName)

	return s.db.Transaction(func(tx *gorm.DB) error {
		reg := s.registry.WithTx(tx)

		uiView, err := reg.CreateUIView(view.Name, "graph", modelName, BuildGraphArch(view.Fields))
		if err != nil {
			return err
		}
		action, err := reg.CreateAction(view.Name, modelName, uiView.ID)
		if err != nil {
			return err
		}
		menu, err := reg.CreateMenu(view.Name, MenuParent, action.ID)
		if err != nil {
			return err
		}

		return tx.Model(&models.SQLView{}).Where("id = ?", id).Updates(map[string]interface{}{
			"ui_view_id": uiView.ID,
			"action_id":  action.ID,
			"menu_id":    menu.ID,
			"state":      models.SQLViewStateUIValid,
		}).Error
	})
}

// ResetToDraft 回退到draft：删除索引和真实关系，回收后端模型和UI制品，注销刷新任务。
// 字段目录保留，用户标注在下一次校验协调时继续生效。
func (s *Service) ResetToDraft(id string) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}
	if view.State != models.SQLViewStateModelValid && view.State != models.SQLViewStateUIValid {
		return fmt.Errorf("%w: 只有model_valid或ui_valid状态的视图可以回退", ErrPrecondition)
	}

	viewName := ViewName(view.TechnicalName)
	cronID := view.CronID

	err = s.db.Transaction(func(tx *gorm.DB) error {
		reg := s.registry.WithTx(tx)

		for _, field := range view.Fields {
			if !field.IsIndex {
				continue
			}
			req := fmt.Sprintf("DROP INDEX %s", IndexName(viewName, field.Name))
			if err := s.logExecute(tx, req); err != nil {
				return fmt.Errorf("删除索引 %s 失败:\n%s", IndexName(viewName, field.Name), err.Error())
			}
		}
		req := fmt.Sprintf("DROP %s VIEW IF EXISTS %s", view.MaterializedText(), viewName)
		if err := s.logExecute(tx, req); err != nil {
			return fmt.Errorf("删除 %s VIEW %s 失败:\n%s", view.MaterializedText(), viewName, err.Error())
		}

		if view.ModelID != nil {
			if err := reg.DeleteModel(*view.ModelID); err != nil {
				return err
			}
		}
		// 字段目录保留，只释放已供给的后端字段句柄
		err := tx.Model(&models.SQLViewField{}).Where("sql_view_id = ?", id).
			Update("field_id", nil).Error
		if err != nil {
			return err
		}

		if view.UIViewID != nil {
			if err := reg.UnlinkUIView(*view.UIViewID); err != nil {
				return err
			}
		}
		if view.ActionID != nil {
			if err := reg.UnlinkAction(*view.ActionID); err != nil {
				return err
			}
		}
		if view.MenuID != nil {
			if err := reg.UnlinkMenu(*view.MenuID); err != nil {
				return err
			}
		}
		if view.CronID != nil {
			if err := reg.UnlinkCronJob(*view.CronID); err != nil {
				return err
			}
		}

		return tx.Model(&models.SQLView{}).Where("id = ?", id).Updates(map[string]interface{}{
			"state":      models.SQLViewStateDraft,
			"size":       "",
			"model_id":   nil,
			"ui_view_id": nil,
			"action_id":  nil,
			"menu_id":    nil,
			"cron_id":    nil,
		}).Error
	})
	if err != nil {
		return err
	}

	if cronID != nil && s.scheduler != nil {
		s.scheduler.Unregister(*cronID)
	}
	return nil
}

// Refresh 刷新物化视图并重算空间占用。由调度器周期触发，不改变生命周期状态。
func (s *Service) Refresh(id string) error {
	view, err := s.GetSQLView(id)
	if err != nil {
		return err
	}
	if !view.IsMaterialized {
		return fmt.Errorf("%w: 只有物化视图可以刷新", ErrPrecondition)
	}
	if view.State != models.SQLViewStateModelValid && view.State != models.SQLViewStateUIValid {
		return fmt.Errorf("%w: 视图 %s 尚未供给模型，无法刷新", ErrPrecondition, view.TechnicalName)
	}

	viewName := ViewName(view.TechnicalName)
	return s.db.Transaction(func(tx *gorm.DB) error {
		req := fmt.Sprintf("REFRESH MATERIALIZED VIEW %s", viewName)
		if err := s.logExecute(tx, req); err != nil {
			return fmt.Errorf("刷新 MATERIALIZED VIEW %s 失败:\n%s", viewName, err.Error())
		}
		size, err := s.relationSize(tx, viewName)
		if err != nil {
			return err
		}
		return tx.Model(&models.SQLView{}).Where("id = ?", id).Update("size", size).Error
	})
}

// OpenViewDescriptor 打开图表所需的定位信息
type OpenViewDescriptor struct {
	ResModel string `json:"res_model"`
	UIViewID string `json:"ui_view_id"`
	ViewMode string `json:"view_mode"`
}

// OpenView 返回UI层打开图表视图所需的定位信息
func (s *Service) OpenView(id string) (*OpenViewDescriptor, error) {
	view, err := s.GetSQLView(id)
	if err != nil {
		return nil, err
	}
	if view.State != models.SQLViewStateUIValid {
		return nil, fmt.Errorf("%w: 视图 %s 尚未创建UI", ErrPrecondition, view.TechnicalName)
	}
	return &OpenViewDescriptor{
		ResModel: ModelName(view.TechnicalName),
		UIViewID: *view.UIViewID,
		ViewMode: "graph",
	}, nil
}

// relationSize 查询关系及其索引的空间占用
func (s *Service) relationSize(tx *gorm.DB, viewName string) (string, error) {
	var size string
	req := fmt.Sprintf("SELECT pg_size_pretty(pg_total_relation_size('%s'));", viewName)
	if err := tx.Raw(req).Scan(&size).Error; err != nil {
		return "", fmt.Errorf("查询关系 %s 的空间占用失败: %w", viewName, err)
	}
	return size, nil
}

// BuildGraphArch 生成图表视图XML。只有设置了图表角色且后端字段已供给的字段才会出现。
func BuildGraphArch(fields []models.SQLViewField) string {
	arch := `<?xml version="1.0"?><graph string="Analysis" type="pivot" stacked="True">`
	for _, field := range fields {
		if field.GraphType == "" || field.FieldID == nil {
			continue
		}
		arch += fmt.Sprintf(`<field name="%s" type="%s" />`, field.Name, field.GraphType)
	}
	return arch + "</graph>"
}
