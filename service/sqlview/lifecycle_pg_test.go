/*
 * @module service/sqlview/lifecycle_pg_test
 * @description SQL视图生命周期集成测试，需要真实PostgreSQL，连接不上时自动跳过
 * @architecture 测试层 - 集成测试
 */

package sqlview

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bireport-service/service/models"
	"bireport-service/service/registry"
)

const pgTestSchema = "test_bireport_lifecycle"

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupPGTestDB 连接测试用PostgreSQL并准备独立schema，连接失败则跳过测试
func setupPGTestDB(t *testing.T) *gorm.DB {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "postgres")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "things2024")
	sslMode := getEnv("DB_SSLMODE", "disable")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		host, port, user, password, dbName, sslMode, pgTestSchema)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("跳过集成测试，PostgreSQL未就绪: %v", err)
	}
	if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		t.Skip("跳过集成测试，PostgreSQL未就绪")
	}

	require.NoError(t, db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgTestSchema)).Error)
	require.NoError(t, db.AutoMigrate(
		&models.SQLView{},
		&models.SQLViewField{},
		&models.RegistryModel{},
		&models.RegistryField{},
		&models.UIView{},
		&models.UIAction{},
		&models.UIMenu{},
		&models.CronJob{},
	))
	return db
}

// teardownPGTestDB 丢弃测试schema及其全部对象
func teardownPGTestDB(t *testing.T, db *gorm.DB) {
	assert.NoError(t, db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pgTestSchema)).Error)
}

// relationExists 检查关系在数据库里是否真实存在
func relationExists(t *testing.T, db *gorm.DB, name string) bool {
	var regclass *string
	err := db.Raw("SELECT to_regclass(?)", fmt.Sprintf("%s.%s", pgTestSchema, name)).Scan(&regclass).Error
	require.NoError(t, err)
	return regclass != nil
}

// TestLifecycleEndToEnd 完整走一遍 draft -> sql_valid -> model_valid -> ui_valid -> draft
func TestLifecycleEndToEnd(t *testing.T) {
	db := setupPGTestDB(t)
	defer teardownPGTestDB(t, db)

	reg := registry.NewService(db)
	svc := NewService(db, reg)

	technicalName := fmt.Sprintf("lifecycle_%d", time.Now().Unix())
	view := &models.SQLView{
		Name:           "生命周期集成测试",
		TechnicalName:  technicalName,
		IsMaterialized: true,
		Query:          "SELECT 1 AS x_value, CAST('hello' AS varchar) AS x_label",
	}
	require.NoError(t, svc.CreateSQLView(view))
	viewName := ViewName(technicalName)

	// === 校验 ===
	require.NoError(t, svc.Validate(view.ID))

	validated, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateSQLValid, validated.State)
	require.Len(t, validated.Fields, 2)
	assert.Equal(t, "x_value", validated.Fields[0].Name)
	assert.Equal(t, "integer", validated.Fields[0].SQLType)
	assert.Equal(t, TTypeInteger, validated.Fields[0].TType)
	assert.Equal(t, "Value", validated.Fields[0].Description)
	assert.Equal(t, "x_label", validated.Fields[1].Name)
	assert.Equal(t, TTypeChar, validated.Fields[1].TType)

	// 试执行的视图必须已随事务回滚
	assert.False(t, relationExists(t, db, viewName), "校验用的临时视图不应留存")

	// === 字段标注 ===
	require.NoError(t, svc.UpdateField(validated.Fields[0].ID, map[string]interface{}{
		"is_index":   true,
		"graph_type": models.GraphTypeMeasure,
	}))
	require.NoError(t, svc.UpdateField(validated.Fields[1].ID, map[string]interface{}{
		"graph_type": models.GraphTypeRow,
	}))

	// === 供给模型和关系 ===
	require.NoError(t, svc.CreateModelAndRelation(view.ID))

	provisioned, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateModelValid, provisioned.State)
	require.NotNil(t, provisioned.ModelID)
	require.NotNil(t, provisioned.CronID)
	assert.NotEmpty(t, provisioned.Size)
	assert.True(t, relationExists(t, db, viewName))
	require.NotNil(t, provisioned.Fields[0].FieldID)

	var indexCount int64
	err = db.Raw("SELECT COUNT(*) FROM pg_indexes WHERE schemaname = ? AND indexname = ?",
		pgTestSchema, IndexName(viewName, "x_value")).Scan(&indexCount).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), indexCount, "标记为索引的字段应建有索引")

	// === 刷新 ===
	require.NoError(t, svc.Refresh(view.ID))

	// === 供给UI ===
	require.NoError(t, svc.CreateUI(view.ID))

	published, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateUIValid, published.State)

	descriptor, err := svc.OpenView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, ModelName(technicalName), descriptor.ResModel)

	var uiView models.UIView
	require.NoError(t, db.First(&uiView, "id = ?", *published.UIViewID).Error)
	assert.Contains(t, uiView.Arch, `<field name="x_value" type="measure" />`)
	assert.Contains(t, uiView.Arch, `<field name="x_label" type="row" />`)

	// === 回退 ===
	require.NoError(t, svc.ResetToDraft(view.ID))

	reset, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateDraft, reset.State)
	assert.False(t, relationExists(t, db, viewName), "回退后真实关系应被删除")
	err = db.Raw("SELECT COUNT(*) FROM pg_indexes WHERE schemaname = ? AND indexname = ?",
		pgTestSchema, IndexName(viewName, "x_value")).Scan(&indexCount).Error
	require.NoError(t, err)
	assert.Zero(t, indexCount, "回退后索引应被删除")
	require.Len(t, reset.Fields, 2)
	assert.True(t, reset.Fields[0].IsIndex, "回退保留用户标注")
	assert.Nil(t, reset.Fields[0].FieldID)

	require.NoError(t, svc.DeleteSQLView(view.ID))
}

// TestValidateRejectsBrokenSQL 非法查询校验失败，状态不变且无残留
func TestValidateRejectsBrokenSQL(t *testing.T) {
	db := setupPGTestDB(t)
	defer teardownPGTestDB(t, db)

	svc := NewService(db, registry.NewService(db))

	technicalName := fmt.Sprintf("broken_%d", time.Now().Unix())
	view := &models.SQLView{
		Name:          "坏查询",
		TechnicalName: technicalName,
		Query:         "SELECT FROM nowhere_at_all",
	}
	require.NoError(t, svc.CreateSQLView(view))

	err := svc.Validate(view.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "校验")

	unchanged, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateDraft, unchanged.State)
	assert.Empty(t, unchanged.Fields)
	assert.False(t, relationExists(t, db, ViewName(technicalName)))
}
