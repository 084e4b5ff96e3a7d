/*
 * @module service/models/sql_view
 * @description BI SQL视图相关模型定义，包括SQL视图及其反射字段实体
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/model.md
 * @stateFlow draft -> sql_valid -> model_valid -> ui_valid
 * @rules 视图名和模型名由技术名称派生，状态机之外禁止直接修改制品句柄
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/sqlview
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SQL视图生命周期状态
const (
	SQLViewStateDraft      = "draft"
	SQLViewStateSQLValid   = "sql_valid"
	SQLViewStateModelValid = "model_valid"
	SQLViewStateUIValid    = "ui_valid"
)

// 图表角色
const (
	GraphTypeCol     = "col"
	GraphTypeRow     = "row"
	GraphTypeMeasure = "measure"
)

// SQLView BI SQL视图模型，一条记录对应一个用户定义的报表数据集
type SQLView struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name           string    `json:"name" gorm:"not null;size:255" example:"月度订单分析"`
	TechnicalName  string    `json:"technical_name" gorm:"not null;unique;size:255" example:"orders_by_month"`
	// 物化标记不带列默认值：带default标签时GORM会跳过零值写入，false将无法持久化。
	// 新建视图的默认物化在API请求解码处给定。
	IsMaterialized bool      `json:"is_materialized" gorm:"not null"`
	Query          string    `json:"query" gorm:"type:text;not null"`
	State          string    `json:"state" gorm:"not null;default:'draft';size:20" example:"draft"`
	Size           string    `json:"size" gorm:"size:100"` // 数据库中视图及其索引占用的空间，pg_size_pretty格式
	ModelID        *string   `json:"model_id" gorm:"type:varchar(36)"`
	UIViewID       *string   `json:"ui_view_id" gorm:"type:varchar(36)"`
	ActionID       *string   `json:"action_id" gorm:"type:varchar(36)"`
	MenuID         *string   `json:"menu_id" gorm:"type:varchar(36)"`
	CronID         *string   `json:"cron_id" gorm:"type:varchar(36)"` // 定时刷新物化视图的任务
	CreatedAt      time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy      string    `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedBy      string    `json:"updated_by" gorm:"not null;default:'system';size:100"`

	// 关联关系
	Fields []SQLViewField `json:"fields,omitempty" gorm:"foreignKey:SQLViewID;constraint:OnDelete:CASCADE"`
}

// MaterializedText 物化关键字，拼接在 CREATE/DROP VIEW 语句中
func (v *SQLView) MaterializedText() string {
	if v.IsMaterialized {
		return "MATERIALIZED"
	}
	return ""
}

// BeforeCreate GORM钩子，创建前生成UUID
func (v *SQLView) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedBy == "" {
		v.CreatedBy = "system"
	}
	if v.State == "" {
		v.State = SQLViewStateDraft
	}
	return nil
}

// SQLViewField SQL视图字段模型，镜像已反射关系的一个列
type SQLViewField struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SQLViewID     string    `json:"sql_view_id" gorm:"not null;type:varchar(36);index"`
	Name          string    `json:"name" gorm:"not null;size:255"`     // 数据库报告的列名，反射后不可修改
	SQLType       string    `json:"sql_type" gorm:"not null;size:100"` // 数据库中的原始SQL类型
	Sequence      int       `json:"sequence" gorm:"not null"`          // 列在关系中的序号，每次协调时更新
	IsIndex       bool      `json:"is_index" gorm:"not null;default:false"`
	GraphType     string    `json:"graph_type" gorm:"size:20"` // col, row, measure
	FieldID       *string   `json:"field_id" gorm:"type:varchar(36)"`  // 已供给的注册表字段句柄
	Description   string    `json:"description" gorm:"size:255"`       // 应用层字段显示名，启发式预填，用户可改
	TType         string    `json:"ttype" gorm:"column:ttype;size:20"` // 应用层字段类型，启发式预填，用户可改
	Selection     string    `json:"selection" gorm:"size:1000;default:'[]'"` // ttype为selection时的选项列表
	Many2oneModel string    `json:"many2one_model" gorm:"size:255"`    // ttype为many2one时的目标模型
	CreatedAt     time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (f *SQLViewField) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Selection == "" {
		f.Selection = "[]"
	}
	return nil
}
