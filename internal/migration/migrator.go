package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/tutorflow/config"
	_ "github.com/glebarez/go-sqlite" // 纯 Go 的 "sqlite" 驱动
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// versionTable golang-migrate 记录版本的表
const versionTable = "schema_migrations"

// lockTimeout 等待其他实例释放迁移锁的时间
const lockTimeout = 15 * time.Second

// Migrator 对一个数据库执行内嵌的 TutorFlow 迁移脚本
type Migrator struct {
	dialect Dialect
	db      *sql.DB
	m       *migrate.Migrate
}

// Open 连接数据库并加载对应方言的脚本
func Open(d Dialect, dsn string) (*Migrator, error) {
	if dsn == "" {
		return nil, errors.New("migration: empty database dsn")
	}
	fsys, err := scripts(d)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriver(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("migration: open %s: %w", d, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration: ping %s: %w", d, err)
	}

	target, err := versionDriver(d, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration: %s driver: %w", d, err)
	}
	source, err := iofs.New(fsys, ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration: load scripts: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, string(d), target)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	m.LockTimeout = lockTimeout

	return &Migrator{dialect: d, db: db, m: m}, nil
}

// OpenConfig 按 database 配置段打开迁移器
func OpenConfig(cfg config.DatabaseConfig) (*Migrator, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(d, cfg)
	if err != nil {
		return nil, err
	}
	return Open(d, dsn)
}

// OpenURL 用方言名与连接串打开迁移器，供命令行 --db-type/--db-url 使用
func OpenURL(dialect, dsn string) (*Migrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return Open(d, dsn)
}

func sqlDriver(d Dialect) string {
	if d == SQLite {
		return "sqlite"
	}
	return string(d)
}

func versionDriver(d Dialect, db *sql.DB) (database.Driver, error) {
	switch d {
	case Postgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: versionTable})
	case MySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: versionTable})
	default:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: versionTable})
	}
}

// Dialect 返回迁移器的方言
func (m *Migrator) Dialect() Dialect { return m.dialect }

// Up 执行全部未应用的脚本
func (m *Migrator) Up(ctx context.Context) error {
	return m.apply(ctx, "up", m.m.Up)
}

// Down 回滚最近一个版本
func (m *Migrator) Down(ctx context.Context) error {
	return m.apply(ctx, "down", func() error { return m.m.Steps(-1) })
}

// Reset 回滚全部版本，会删除会话快照与答题记录
func (m *Migrator) Reset(ctx context.Context) error {
	return m.apply(ctx, "reset", m.m.Down)
}

// Steps n > 0 前进 n 个版本，n < 0 回滚 |n| 个版本
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.apply(ctx, fmt.Sprintf("steps %d", n), func() error { return m.m.Steps(n) })
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	return m.apply(ctx, fmt.Sprintf("goto %d", version), func() error { return m.m.Migrate(version) })
}

// Force 只改写版本号并清除 dirty 标记，不执行脚本；-1 表示未迁移
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("migration: force %d: %w", version, err)
	}
	return nil
}

// Version 返回当前版本；从未迁移时为 0
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration: read version: %w", err)
	}
	return v, dirty, nil
}

// apply 执行一次迁移。ctx 取消时通知 golang-migrate 在当前脚本结束后停下，
// 已是最新版本不算错误。
func (m *Migrator) apply(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			select {
			case m.m.GracefulStop <- true:
			default:
			}
		case <-finished:
		}
	}()

	err := fn()
	close(finished)
	<-watcher
	// 清掉没被消费的停止信号
	select {
	case <-m.m.GracefulStop:
	default:
	}

	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("migration: %s: %w", op, err)
}

// Close 释放脚本源与数据库连接
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
