/*
 * @module service/sqlview/service_test
 * @description SQL视图生命周期服务单元测试，使用sqlite内存库
 * @architecture 测试层 - 单元测试
 */

package sqlview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bireport-service/service/models"
	"bireport-service/service/registry"
	"bireport-service/testutil"
)

// newTestService 构造绑定sqlite内存库的服务实例
func newTestService(tdb *testutil.TestDB) *Service {
	return NewService(tdb.DB, registry.NewService(tdb.DB))
}

// TestCreateSQLView 创建视图：初始为draft，空查询填充占位查询
func TestCreateSQLView(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := newTestService(tdb)

	view := &models.SQLView{Name: "按月订单", TechnicalName: "orders_by_month"}
	require.NoError(t, svc.CreateSQLView(view))

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, models.SQLViewStateDraft, view.State)
	assert.Contains(t, view.Query, "SELECT")
}

// TestCreateSQLViewPersistsPlainFlag 普通（非物化）视图的标记原样落库，派生DDL不带MATERIALIZED关键字
func TestCreateSQLViewPersistsPlainFlag(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := newTestService(tdb)

	view := &models.SQLView{
		Name:           "普通视图",
		TechnicalName:  "plain_view",
		IsMaterialized: false,
	}
	require.NoError(t, svc.CreateSQLView(view))

	reloaded, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsMaterialized, "is_materialized=false 应被持久化")
	assert.Empty(t, reloaded.MaterializedText())
}

// TestCreateSQLViewRejectsBadName 非法技术名称和重名被拒绝
func TestCreateSQLViewRejectsBadName(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	svc := newTestService(tdb)

	assert.Error(t, svc.CreateSQLView(&models.SQLView{Name: "a", TechnicalName: "Bad-Name"}))

	require.NoError(t, svc.CreateSQLView(&models.SQLView{Name: "a", TechnicalName: "dup_name"}))
	err := svc.CreateSQLView(&models.SQLView{Name: "b", TechnicalName: "dup_name"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "已存在")
}

// TestUpdateSQLViewStateRestrictions 技术名称、查询和物化标记只能在draft状态修改
func TestUpdateSQLViewStateRestrictions(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	draft := factory.CreateSQLView()
	require.NoError(t, svc.UpdateSQLView(draft.ID, map[string]interface{}{
		"query": "SELECT 2 AS x_value",
	}))

	valid := factory.CreateSQLView(testutil.WithState(models.SQLViewStateSQLValid))
	for _, key := range []string{"technical_name", "query", "is_materialized"} {
		err := svc.UpdateSQLView(valid.ID, map[string]interface{}{key: "whatever"})
		assert.ErrorIs(t, err, ErrPrecondition, "key=%s", key)
	}

	// 显示名在任何状态都可以改
	require.NoError(t, svc.UpdateSQLView(valid.ID, map[string]interface{}{"name": "新名字"}))
}

// TestUpdateFieldWhitelist 字段更新只接受用户标注，结构字段被静默丢弃
func TestUpdateFieldWhitelist(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	view := factory.CreateSQLView(testutil.WithState(models.SQLViewStateSQLValid))
	field := factory.CreateSQLViewField(view.ID, testutil.WithFieldName("x_total"))

	require.NoError(t, svc.UpdateField(field.ID, map[string]interface{}{
		"description": "总额",
		"ttype":       TTypeFloat,
		"graph_type":  models.GraphTypeMeasure,
		"name":        "hacked",
		"sequence":    99,
	}))

	var updated models.SQLViewField
	require.NoError(t, tdb.DB.First(&updated, "id = ?", field.ID).Error)
	assert.Equal(t, "总额", updated.Description)
	assert.Equal(t, TTypeFloat, updated.TType)
	assert.Equal(t, models.GraphTypeMeasure, updated.GraphType)
	assert.Equal(t, "x_total", updated.Name)
	assert.Equal(t, 1, updated.Sequence)
}

// TestUpdateFieldAfterProvisioning 模型供给后字段标注冻结
func TestUpdateFieldAfterProvisioning(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	view := factory.CreateSQLView(testutil.WithState(models.SQLViewStateModelValid))
	field := factory.CreateSQLViewField(view.ID)

	err := svc.UpdateField(field.ID, map[string]interface{}{"description": "x"})
	assert.ErrorIs(t, err, ErrPrecondition)
}

// TestDeleteSQLViewOnlyDraft 只有draft状态可以删除，删除级联清掉字段目录
func TestDeleteSQLViewOnlyDraft(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	valid := factory.CreateSQLView(testutil.WithState(models.SQLViewStateSQLValid))
	assert.ErrorIs(t, svc.DeleteSQLView(valid.ID), ErrPrecondition)

	draft := factory.CreateSQLView()
	factory.CreateSQLViewField(draft.ID)
	require.NoError(t, svc.DeleteSQLView(draft.ID))

	var count int64
	tdb.DB.Model(&models.SQLViewField{}).Where("sql_view_id = ?", draft.ID).Count(&count)
	assert.Zero(t, count)
}

// TestDuplicate 副本强制回到draft，字段标注复制但后端句柄不复制
func TestDuplicate(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	view := factory.CreateSQLView(testutil.WithState(models.SQLViewStateUIValid))
	handle := "provisioned-field-handle"
	field := factory.CreateSQLViewField(view.ID,
		testutil.WithFieldName("x_total"),
		testutil.WithFieldAnnotations("总额", TTypeFloat, models.GraphTypeMeasure))
	require.NoError(t, tdb.DB.Model(field).Update("field_id", handle).Error)

	duplicated, err := svc.Duplicate(view.ID)
	require.NoError(t, err)

	assert.Equal(t, view.Name+" (副本)", duplicated.Name)
	assert.Equal(t, view.TechnicalName+"_copy", duplicated.TechnicalName)
	assert.Equal(t, models.SQLViewStateDraft, duplicated.State)
	assert.Nil(t, duplicated.ModelID)
	assert.Nil(t, duplicated.CronID)

	copied, err := svc.GetSQLView(duplicated.ID)
	require.NoError(t, err)
	require.Len(t, copied.Fields, 1)
	assert.Equal(t, "x_total", copied.Fields[0].Name)
	assert.Equal(t, "总额", copied.Fields[0].Description)
	assert.Equal(t, models.GraphTypeMeasure, copied.Fields[0].GraphType)
	assert.Nil(t, copied.Fields[0].FieldID)
}

// TestTransitionPreconditions 每个状态转换在错误起点立即拒绝
func TestTransitionPreconditions(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	valid := factory.CreateSQLView(testutil.WithState(models.SQLViewStateSQLValid))
	assert.ErrorIs(t, svc.Validate(valid.ID), ErrPrecondition)

	draft := factory.CreateSQLView()
	assert.ErrorIs(t, svc.CreateModelAndRelation(draft.ID), ErrPrecondition)
	assert.ErrorIs(t, svc.CreateUI(draft.ID), ErrPrecondition)
	assert.ErrorIs(t, svc.ResetToDraft(draft.ID), ErrPrecondition)

	_, err := svc.OpenView(draft.ID)
	assert.ErrorIs(t, err, ErrPrecondition)
}

// TestRefreshPreconditions 非物化视图和未供给模型的视图都不能刷新
func TestRefreshPreconditions(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	plain := factory.CreateSQLView(
		testutil.WithMaterialized(false),
		testutil.WithState(models.SQLViewStateModelValid))
	assert.ErrorIs(t, svc.Refresh(plain.ID), ErrPrecondition)

	early := factory.CreateSQLView(testutil.WithState(models.SQLViewStateSQLValid))
	assert.ErrorIs(t, svc.Refresh(early.ID), ErrPrecondition)
}

// TestCreateUI 供给图表视图、动作和菜单并推进到ui_valid
func TestCreateUI(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	svc := newTestService(tdb)

	view := factory.CreateSQLView(testutil.WithState(models.SQLViewStateModelValid))
	handle := "field-handle"
	field := factory.CreateSQLViewField(view.ID,
		testutil.WithFieldName("x_month"),
		testutil.WithFieldAnnotations("Month", TTypeDatetime, models.GraphTypeCol))
	require.NoError(t, tdb.DB.Model(field).Update("field_id", handle).Error)

	require.NoError(t, svc.CreateUI(view.ID))

	updated, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateUIValid, updated.State)
	require.NotNil(t, updated.UIViewID)
	require.NotNil(t, updated.ActionID)
	require.NotNil(t, updated.MenuID)

	var uiView models.UIView
	require.NoError(t, tdb.DB.First(&uiView, "id = ?", *updated.UIViewID).Error)
	assert.Equal(t, "graph", uiView.Type)
	assert.Equal(t, ModelName(view.TechnicalName), uiView.Model)
	assert.Contains(t, uiView.Arch, `<field name="x_month" type="col" />`)

	var menu models.UIMenu
	require.NoError(t, tdb.DB.First(&menu, "id = ?", *updated.MenuID).Error)
	assert.Equal(t, MenuParent, menu.Parent)

	descriptor, err := svc.OpenView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, ModelName(view.TechnicalName), descriptor.ResModel)
	assert.Equal(t, *updated.UIViewID, descriptor.UIViewID)
	assert.Equal(t, "graph", descriptor.ViewMode)
}

// TestResetToDraft 回退清掉制品句柄和空间占用，但保留字段目录和用户标注
func TestResetToDraft(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	reg := registry.NewService(tdb.DB)
	svc := newTestService(tdb)

	// 非物化视图，回退时的DROP语句在sqlite上同样可执行
	view := factory.CreateSQLView(
		testutil.WithMaterialized(false),
		testutil.WithState(models.SQLViewStateUIValid))

	registryModel, err := reg.CreateModel(view.Name, ModelName(view.TechnicalName))
	require.NoError(t, err)
	registryField, err := reg.CreateField(registryModel.ID, "x_total", "总额", TTypeFloat, "[]", "")
	require.NoError(t, err)
	uiView, err := reg.CreateUIView(view.Name, "graph", ModelName(view.TechnicalName), "<graph/>")
	require.NoError(t, err)
	action, err := reg.CreateAction(view.Name, ModelName(view.TechnicalName), uiView.ID)
	require.NoError(t, err)
	menu, err := reg.CreateMenu(view.Name, MenuParent, action.ID)
	require.NoError(t, err)

	field := factory.CreateSQLViewField(view.ID,
		testutil.WithFieldName("x_total"),
		testutil.WithFieldAnnotations("总额", TTypeFloat, models.GraphTypeMeasure))
	require.NoError(t, tdb.DB.Model(field).Update("field_id", registryField.ID).Error)
	require.NoError(t, tdb.DB.Model(view).Updates(map[string]interface{}{
		"model_id":   registryModel.ID,
		"ui_view_id": uiView.ID,
		"action_id":  action.ID,
		"menu_id":    menu.ID,
		"size":       "16 kB",
	}).Error)

	require.NoError(t, svc.ResetToDraft(view.ID))

	updated, err := svc.GetSQLView(view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SQLViewStateDraft, updated.State)
	assert.Empty(t, updated.Size)
	assert.Nil(t, updated.ModelID)
	assert.Nil(t, updated.UIViewID)
	assert.Nil(t, updated.ActionID)
	assert.Nil(t, updated.MenuID)

	// 字段目录和标注保留，后端句柄释放
	require.Len(t, updated.Fields, 1)
	assert.Equal(t, "总额", updated.Fields[0].Description)
	assert.Nil(t, updated.Fields[0].FieldID)

	var count int64
	tdb.DB.Model(&models.RegistryModel{}).Count(&count)
	assert.Zero(t, count, "后端模型应被回收")
	tdb.DB.Model(&models.RegistryField{}).Count(&count)
	assert.Zero(t, count, "后端字段应随模型级联回收")
	tdb.DB.Model(&models.UIView{}).Count(&count)
	assert.Zero(t, count)
	tdb.DB.Model(&models.UIMenu{}).Count(&count)
	assert.Zero(t, count)
}

// TestBuildGraphArch 只有设置图表角色且已供给后端字段的列出现在XML里
func TestBuildGraphArch(t *testing.T) {
	handle := "h1"
	fields := []models.SQLViewField{
		{Name: "x_month", GraphType: models.GraphTypeCol, FieldID: &handle},
		{Name: "x_partner", GraphType: models.GraphTypeRow, FieldID: &handle},
		{Name: "x_total", GraphType: models.GraphTypeMeasure, FieldID: &handle},
		{Name: "x_ignored", GraphType: "", FieldID: &handle},
		{Name: "x_unprovisioned", GraphType: models.GraphTypeMeasure, FieldID: nil},
	}

	arch := BuildGraphArch(fields)

	assert.True(t, strings.HasPrefix(arch, `<?xml version="1.0"?><graph string="Analysis" type="pivot" stacked="True">`))
	assert.True(t, strings.HasSuffix(arch, "</graph>"))
	assert.Contains(t, arch, `<field name="x_month" type="col" />`)
	assert.Contains(t, arch, `<field name="x_partner" type="row" />`)
	assert.Contains(t, arch, `<field name="x_total" type="measure" />`)
	assert.NotContains(t, arch, "x_ignored")
	assert.NotContains(t, arch, "x_unprovisioned")
}
