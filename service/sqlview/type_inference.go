/*
 * @module service/sqlview/type_inference
 * @description 字段类型推断模块，根据列的SQL类型和命名习惯预填应用层字段类型、外键目标和显示名
 * @architecture 分层架构 - 领域工具层
 * @documentReference dev_docs/sql_view.md
 * @stateFlow 无状态纯函数
 * @rules 推断结果只是建议默认值，必须经过可编辑的字段记录后才能参与供给
 * @dependencies strings
 * @refs service/sqlview/reconciler.go
 */

package sqlview

import (
	"strings"
)

// FieldPrefix 列名携带此前缀才会预填显示名并参与后端字段供给
const FieldPrefix = "x_"

// 应用层字段类型
const (
	TTypeBoolean   = "boolean"
	TTypeChar      = "char"
	TTypeDate      = "date"
	TTypeDatetime  = "datetime"
	TTypeFloat     = "float"
	TTypeInteger   = "integer"
	TTypeMany2one  = "many2one"
	TTypeSelection = "selection"
)

// sqlTypeEntry SQL类型子串到应用层类型的映射条目
type sqlTypeEntry struct {
	substring string
	ttype     string
}

// sqlTypeMapping 按序匹配，首个命中生效。
// 带长度参数的类型（如 character varying(255)）靠子串匹配覆盖。
var sqlTypeMapping = []sqlTypeEntry{
	{"boolean", TTypeBoolean},
	{"bigint", TTypeInteger},
	{"integer", TTypeInteger},
	{"double precision", TTypeFloat},
	{"numeric", TTypeFloat},
	{"character varying", TTypeChar},
	{"text", TTypeChar},
	{"timestamp without time zone", TTypeDatetime},
	{"date", TTypeDatetime},
}

// many2oneModelMapping 根据列名猜测最常见的many2one目标模型
var many2oneModelMapping = map[string]string{
	// 基础模型
	"partner_id": "res.partner",
	"user_id":    "res.users",
	"uid":        "res.users",
	// 产品模型
	"product_id":      "product.product",
	"product_tmpl_id": "product.template",
	"uom_id":          "product.uom",
	"categ_id":        "product.category",
	// 会计模型
	"account_id": "account.account",
	"invoice_id": "account.invoice",
	"journal_id": "account.journal",
	"period_id":  "account.period",
}

// InferType 根据原始SQL类型和列名推断应用层字段类型及many2one目标模型。
// 整型列以 _id / _uid 结尾时强制推断为many2one，目标模型可能为空。
func InferType(sqlType, columnName string) (ttype string, relation string) {
	for _, entry := range sqlTypeMapping {
		if strings.Contains(sqlType, entry.substring) {
			ttype = entry.ttype
			break
		}
	}

	if (sqlType == "integer" || sqlType == "bigint") &&
		(strings.HasSuffix(columnName, "_id") || strings.HasSuffix(columnName, "_uid")) {
		ttype = TTypeMany2one
		relation = many2oneModelMapping[strings.TrimPrefix(columnName, FieldPrefix)]
	}
	return ttype, relation
}

// GuessDescription 由列名派生显示名：去掉x_前缀，下划线转空格，逐词首字母大写。
// 不带前缀的列返回空串，不参与后端字段供给。
func GuessDescription(columnName string) string {
	if !strings.HasPrefix(columnName, FieldPrefix) {
		return ""
	}
	words := strings.Fields(strings.ReplaceAll(strings.TrimPrefix(columnName, FieldPrefix), "_", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
