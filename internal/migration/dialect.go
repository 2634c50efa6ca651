package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/tutorflow/config"
)

//go:embed migrations
var scriptsFS embed.FS

// Dialect SQL 方言，与 migrations/ 下的子目录一一对应
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Tables 迁移脚本管理的表，按创建顺序
var Tables = []string{"session_snapshots", "quiz_attempts"}

// ParseDialect 接受 database.driver 的常见写法
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return "", fmt.Errorf("unknown database dialect %q", name)
}

// DSN 把数据库配置转换为迁移连接串。
// mysql 需要 multiStatements 才能执行多语句脚本；sqlite 的 Name 为文件路径。
func DSN(d Dialect, cfg config.DatabaseConfig) (string, error) {
	switch d {
	case SQLite:
		if cfg.Name == "" || cfg.Name == ":memory:" {
			return "", fmt.Errorf("sqlite migrations need a database file, got %q", cfg.Name)
		}
		return "file:" + cfg.Name + "?_pragma=busy_timeout(5000)", nil
	case Postgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String(), nil
	case MySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name), nil
	}
	return "", fmt.Errorf("unknown database dialect %q", d)
}

// scripts 返回方言目录的文件系统
func scripts(d Dialect) (fs.FS, error) {
	switch d {
	case SQLite, Postgres, MySQL:
		return fs.Sub(scriptsFS, "migrations/"+string(d))
	}
	return nil, fmt.Errorf("unknown database dialect %q", d)
}

// Script 一个版本的迁移脚本
type Script struct {
	Version uint
	Name    string
}

// listScripts 按版本升序列出 up 脚本，文件名形如 000001_init_schema.up.sql
func listScripts(d Dialect) ([]Script, error) {
	fsys, err := scripts(d)
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	var out []Script
	for _, name := range names {
		prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".up.sql"), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, Script{Version: uint(v), Name: rest})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
