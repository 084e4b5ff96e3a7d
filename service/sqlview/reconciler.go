/*
 * @module service/sqlview/reconciler
 * @description 字段目录协调模块，把存量字段目录与新反射的列清单同步，保留用户编辑的标注
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 反射列清单 -> 按列名匹配 -> 更新/新建/删除字段行
 * @rules 幂等：相同的反射结果重复协调不改变字段行的标识和序号；匹配行只覆盖序号和SQL类型
 * @dependencies bireport-service/service/models, bireport-service/service/registry, gorm.io/gorm
 * @refs service/sqlview/service.go
 */

package sqlview

import (
	"fmt"

	"gorm.io/gorm"

	"bireport-service/service/models"
	"bireport-service/service/registry"
)

// ReconcileFields 根据反射列清单协调SQL视图的字段目录。
// 按列名精确匹配：命中的行覆盖序号和SQL类型，用户可编辑属性不动；
// 新列按类型推断预填新建；消失的列删除，并级联释放已供给的后端字段句柄。
func ReconcileFields(db *gorm.DB, reg *registry.Service, sqlViewID string, columns []ReflectedColumn) error {
	var existing []models.SQLViewField
	if err := db.Where("sql_view_id = ?", sqlViewID).Order("sequence").Find(&existing).Error; err != nil {
		return fmt.Errorf("加载字段目录失败: %w", err)
	}

	byName := make(map[string]*models.SQLViewField, len(existing))
	for i := range existing {
		byName[existing[i].Name] = &existing[i]
	}

	matched := make(map[string]bool, len(columns))
	for _, column := range columns {
		matched[column.Name] = true
		if field, ok := byName[column.Name]; ok {
			// 已有字段：只跟踪序号和SQL类型
			err := db.Model(field).Updates(map[string]interface{}{
				"sequence": column.Sequence,
				"sql_type": column.SQLType,
			}).Error
			if err != nil {
				return fmt.Errorf("更新字段 %s 失败: %w", column.Name, err)
			}
			continue
		}

		// 新列：用类型推断预填可编辑属性
		ttype, relation := InferType(column.SQLType, column.Name)
		field := models.SQLViewField{
			SQLViewID:     sqlViewID,
			Name:          column.Name,
			SQLType:       column.SQLType,
			Sequence:      column.Sequence,
			Description:   GuessDescription(column.Name),
			TType:         ttype,
			Many2oneModel: relation,
		}
		if err := db.Create(&field).Error; err != nil {
			return fmt.Errorf("创建字段 %s 失败: %w", column.Name, err)
		}
	}

	// 删除已消失的列，先释放后端字段句柄
	for i := range existing {
		if matched[existing[i].Name] {
			continue
		}
		if existing[i].FieldID != nil {
			if err := reg.DeleteField(*existing[i].FieldID); err != nil {
				return err
			}
		}
		if err := db.Delete(&existing[i]).Error; err != nil {
			return fmt.Errorf("删除字段 %s 失败: %w", existing[i].Name, err)
		}
	}

	return nil
}
