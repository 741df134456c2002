// Package dbtest 为测试提供迁移好的内存 SQLite
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/blues/pes/internal/database"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

// New 每个测试独立的内存库
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:pes_test_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := database.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// SQLite 单连接，避免写锁冲突
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
