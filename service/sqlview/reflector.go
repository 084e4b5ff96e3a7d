/*
 * @module service/sqlview/reflector
 * @description 结构反射模块，从PostgreSQL自身的目录表读取关系的当前列结构
 * @architecture 分层架构 - 数据访问层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 关系存在 -> 查询pg_attribute -> 返回有序列清单
 * @rules 关系不存在时返回明确错误，绝不退化为空目录
 * @dependencies gorm.io/gorm
 * @refs service/sqlview/service.go
 */

package sqlview

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ReflectedColumn 反射得到的一个列：序号(1起)、列名、原始SQL类型
type ReflectedColumn struct {
	Sequence int    `gorm:"column:attnum"`
	Name     string `gorm:"column:column"`
	SQLType  string `gorm:"column:type"`
}

// reflectColumnsSQL 目录反射查询，依赖 regclass 解析关系名
const reflectColumnsSQL = `
	SELECT  attnum,
			attname AS column,
			format_type(atttypid, atttypmod) AS type
	FROM    pg_attribute
	WHERE   attrelid = '%s'::regclass
	AND     NOT attisdropped
	AND     attnum > 0
	ORDER   BY attnum;`

// ReflectColumns 返回指定关系当前全部存活列，按序号排序。
// 关系不存在时返回"关系不存在"错误。
func ReflectColumns(db *gorm.DB, viewName string) ([]ReflectedColumn, error) {
	var columns []ReflectedColumn
	err := db.Raw(fmt.Sprintf(reflectColumnsSQL, viewName)).Scan(&columns).Error
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, fmt.Errorf("关系 %s 不存在: %w", viewName, err)
		}
		return nil, fmt.Errorf("反射关系 %s 的列结构失败: %w", viewName, err)
	}
	return columns, nil
}
