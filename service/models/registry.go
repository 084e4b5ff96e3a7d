/*
 * @module service/models/registry
 * @description 对象注册表模型定义，承载由SQL视图供给的后端模型、字段和UI制品
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/model.md
 * @stateFlow 由service/registry供给和回收，生命周期跟随所属SQL视图
 * @rules 注册表行纯数据驱动，不生成编译期schema；删除模型时级联删除其字段
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/registry
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegistryModel 注册表模型，对应一个由SQL视图支撑的应用层记录类型
type RegistryModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"not null;size:255"`         // 显示名
	Model     string    `json:"model" gorm:"not null;unique;size:255"` // 全限定模型名，如 x_bi_sql_view.orders_by_month
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联关系
	Fields []RegistryField `json:"fields,omitempty" gorm:"foreignKey:ModelID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (m *RegistryModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// RegistryField 注册表字段，对应后端模型的一个类型化字段
type RegistryField struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ModelID     string    `json:"model_id" gorm:"not null;type:varchar(36);index"`
	Name        string    `json:"name" gorm:"not null;size:255"` // 字段名 = 视图列名
	Description string    `json:"description" gorm:"not null;size:255"`
	TType       string    `json:"ttype" gorm:"column:ttype;not null;size:20"`
	Selection   string    `json:"selection" gorm:"size:1000"` // ttype为selection时有效
	Relation    string    `json:"relation" gorm:"size:255"`   // ttype为many2one时的目标模型
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (f *RegistryField) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

// UIView UI视图制品，arch为生成的图表视图XML
type UIView struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"not null;size:255"`
	Type      string    `json:"type" gorm:"not null;size:20"` // graph
	Model     string    `json:"model" gorm:"not null;size:255"`
	Arch      string    `json:"arch" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (v *UIView) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// UIAction UI动作制品，把后端模型和图表视图绑定为一个可打开的窗口
type UIAction struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"not null;size:255"`
	ResModel  string    `json:"res_model" gorm:"not null;size:255"`
	UIViewID  string    `json:"ui_view_id" gorm:"not null;type:varchar(36)"`
	ViewMode  string    `json:"view_mode" gorm:"not null;size:20;default:'graph'"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (a *UIAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// UIMenu UI菜单制品，挂在固定父菜单下并指向一个动作
type UIMenu struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"not null;size:255"`
	Parent    string    `json:"parent" gorm:"not null;size:255"`
	ActionID  string    `json:"action_id" gorm:"not null;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (m *UIMenu) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// CronJob 定时任务行，物化视图的周期刷新由调度器按此表驱动
type CronJob struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"not null;size:255"`
	SQLViewID string    `json:"sql_view_id" gorm:"not null;type:varchar(36);index"`
	CronExpr  string    `json:"cron_expr" gorm:"not null;size:100;default:'@hourly'"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (c *CronJob) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CronExpr == "" {
		c.CronExpr = "@hourly"
	}
	return nil
}
