// Package dialect 抽象各数据库方言的能力差异
package dialect

import (
	"strconv"
	"strings"

	core "shiji/storage/database"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameMySQL    Name = "mysql"
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// Dialect 表示当前数据库的方言能力
//
// 目前只抽象事件存储实际用到的能力：
//   - Rebind: 占位符形式转换
//   - AutoIncrementPK: 自增主键列的 DDL 片段
//   - IsUniqueViolation: 唯一键/主键冲突错误识别
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return Dialect{name: NameMySQL}
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// AutoIncrementPK 返回自增主键列的 DDL 片段
//
// 用于事件表的全局序号列：跨聚合扫描按该列确定稳定的全局顺序。
func (d Dialect) AutoIncrementPK() string {
	switch d.name {
	case NameMySQL:
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	case NamePostgres:
		return "BIGSERIAL PRIMARY KEY"
	default:
		// sqlite 及未知方言
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// Rebind 将通用占位符 ? 转换为方言特定形式
//
// 仅对 Postgres 做替换，将 ? 依次替换为 $1、$2...；其他方言保持原样。
// 实现是简单的字符扫描，不解析 SQL 语法，SQL 字符串字面量中不要出现 ?。
func (d Dialect) Rebind(query string) string {
	if query == "" || d.name != NamePostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 4)
	argIndex := 1
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
		} else {
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
//
// 基于错误消息的关键字匹配，覆盖常见数据库的典型错误格式：
//   - MySQL: "Duplicate entry", "duplicate key" (Error 1062)
//   - SQLite: "UNIQUE constraint failed" (SQLITE_CONSTRAINT_UNIQUE)
//   - Postgres: "duplicate key value", "unique constraint" (Error 23505)
//
// 错误消息文本可能受数据库版本、语言设置影响；需要精确判断时应
// 使用驱动特定的错误类型。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameMySQL:
		return strings.Contains(msg, "duplicate entry") ||
			strings.Contains(msg, "duplicate key")
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	case NamePostgres:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	default:
		// 未知方言：宽松匹配，宁可漏判不要误判
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}
