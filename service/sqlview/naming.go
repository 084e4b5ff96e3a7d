/*
 * @module service/sqlview/naming
 * @description SQL视图标识符命名模块，由技术名称派生视图名、模型名和索引名
 * @architecture 分层架构 - 领域工具层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 无状态纯函数
 * @rules 派生名是技术名称的纯函数，技术名称需满足PostgreSQL标识符规则
 * @dependencies fmt, regexp
 * @refs service/sqlview/service.go
 */

package sqlview

import (
	"fmt"
	"regexp"
)

const (
	// SQLViewPrefix 数据库视图名前缀
	SQLViewPrefix = "x_bi_sql_view_"
	// ModelPrefix 后端模型名前缀（点号形式）
	ModelPrefix = "x_bi_sql_view."
)

// technicalNamePattern 技术名称必须是安全的标识符片段
var technicalNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateTechnicalName 校验技术名称是否为合法的标识符片段
func ValidateTechnicalName(technicalName string) error {
	if technicalName == "" {
		return fmt.Errorf("技术名称不能为空")
	}
	if !technicalNamePattern.MatchString(technicalName) {
		return fmt.Errorf("技术名称 %s 不合法，只允许小写字母、数字和下划线，且以字母开头", technicalName)
	}
	return nil
}

// ViewName 由技术名称派生数据库视图全名
func ViewName(technicalName string) string {
	return SQLViewPrefix + technicalName
}

// ModelName 由技术名称派生后端模型全限定名
func ModelName(technicalName string) string {
	return ModelPrefix + technicalName
}

// IndexName 由视图名和列名派生索引名，每个(视图,列)对唯一
func IndexName(viewName, columnName string) string {
	return fmt.Sprintf("%s_%s", viewName, columnName)
}
