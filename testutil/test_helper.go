/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, time
 * @refs service/models
 */

package testutil

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bireport-service/service/models"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.SQLView{},
		&models.SQLViewField{},
		&models.RegistryModel{},
		&models.RegistryField{},
		&models.UIView{},
		&models.UIAction{},
		&models.UIMenu{},
		&models.CronJob{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	// 清空所有表的数据
	tables := []string{
		"sql_views",
		"sql_view_fields",
		"registry_models",
		"registry_fields",
		"ui_views",
		"ui_actions",
		"ui_menus",
		"cron_jobs",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// SQLViewOption SQL视图选项函数类型
type SQLViewOption func(*models.SQLView)

// CreateSQLView 创建测试SQL视图
func (f *TestDataFactory) CreateSQLView(opts ...SQLViewOption) *models.SQLView {
	view := &models.SQLView{
		ID:             generateID("sv"),
		Name:           "测试SQL视图",
		TechnicalName:  "test_view_" + generateSuffix(),
		IsMaterialized: true,
		Query:          "SELECT 1 AS x_value",
		State:          models.SQLViewStateDraft,
		CreatedBy:      "test",
		UpdatedBy:      "test",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(view)
	}

	err := f.DB.Create(view).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test sql view: %v", err))
	}

	return view
}

// WithState 指定视图的生命周期状态
func WithState(state string) SQLViewOption {
	return func(v *models.SQLView) {
		v.State = state
	}
}

// WithQuery 指定视图的查询
func WithQuery(query string) SQLViewOption {
	return func(v *models.SQLView) {
		v.Query = query
	}
}

// WithMaterialized 指定视图是否物化
func WithMaterialized(materialized bool) SQLViewOption {
	return func(v *models.SQLView) {
		v.IsMaterialized = materialized
	}
}

// SQLViewFieldOption SQL视图字段选项函数类型
type SQLViewFieldOption func(*models.SQLViewField)

// CreateSQLViewField 创建测试SQL视图字段
func (f *TestDataFactory) CreateSQLViewField(sqlViewID string, opts ...SQLViewFieldOption) *models.SQLViewField {
	field := &models.SQLViewField{
		ID:        generateID("svf"),
		SQLViewID: sqlViewID,
		Name:      "x_field_" + generateSuffix(),
		SQLType:   "integer",
		Sequence:  1,
		Selection: "[]",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(field)
	}

	err := f.DB.Create(field).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test sql view field: %v", err))
	}

	return field
}

// WithFieldName 指定字段的列名
func WithFieldName(name string) SQLViewFieldOption {
	return func(f *models.SQLViewField) {
		f.Name = name
	}
}

// WithFieldSequence 指定字段的序号
func WithFieldSequence(sequence int) SQLViewFieldOption {
	return func(f *models.SQLViewField) {
		f.Sequence = sequence
	}
}

// WithFieldAnnotations 指定字段的用户标注
func WithFieldAnnotations(description, ttype, graphType string) SQLViewFieldOption {
	return func(f *models.SQLViewField) {
		f.Description = description
		f.TType = ttype
		f.GraphType = graphType
	}
}

// generateID 生成测试ID
func generateID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), generateSuffix())
}

// generateSuffix 生成唯一后缀
func generateSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%100000)
}
