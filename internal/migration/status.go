package migration

import (
	"context"
	"fmt"
)

// TableState 一张业务表的现状
type TableState struct {
	Name    string
	Present bool
	Rows    int64
}

// ScriptState 一个迁移版本的现状
type ScriptState struct {
	Script
	Applied bool
}

// Status 数据库相对内嵌脚本的状态
type Status struct {
	Dialect Dialect
	Version uint
	Dirty   bool
	Scripts []ScriptState
	Tables  []TableState
}

// Pending 返回未应用的版本数
func (s *Status) Pending() int {
	n := 0
	for _, sc := range s.Scripts {
		if !sc.Applied {
			n++
		}
	}
	return n
}

// Latest 报告数据库是否已在最新版本且没有中断的迁移
func (s *Status) Latest() bool {
	return !s.Dirty && s.Pending() == 0
}

// Status 汇总版本、脚本与 session_snapshots / quiz_attempts 的行数
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	list, err := listScripts(m.dialect)
	if err != nil {
		return nil, fmt.Errorf("migration: list scripts: %w", err)
	}

	st := &Status{Dialect: m.dialect, Version: version, Dirty: dirty}
	for _, sc := range list {
		st.Scripts = append(st.Scripts, ScriptState{Script: sc, Applied: sc.Version <= version})
	}
	for _, table := range Tables {
		ts, err := m.table(ctx, table)
		if err != nil {
			return nil, err
		}
		st.Tables = append(st.Tables, ts)
	}
	return st, nil
}

// table 统计行数；表不存在时 Present 为 false
func (m *Migrator) table(ctx context.Context, name string) (TableState, error) {
	if err := ctx.Err(); err != nil {
		return TableState{}, err
	}
	ts := TableState{Name: name}
	// 表名来自固定的 Tables 列表
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&ts.Rows)
	if err != nil {
		if ctx.Err() != nil {
			return TableState{}, ctx.Err()
		}
		return ts, nil
	}
	ts.Present = true
	return ts, nil
}
