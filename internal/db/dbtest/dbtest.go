// Package dbtest provides throwaway in-memory databases for tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dengruihan/Raymond-Analysis/internal/db"
)

// New returns a migrated in-memory SQLite database private to t.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "sqlite://file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := db.Open(dsn, logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}
