package testutil

import (
	"sync"
	"testing"
	"time"

	"spot/internal/domain/model"
	"spot/internal/infra/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 1接続だけのin-memory sqlite。両サービスのテーブルを作る。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), db.Options())
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.MigrateOrder(gdb))
	require.NoError(t, db.MigratePayment(gdb))
	return gdb
}

type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock() *FixedClock {
	return &FixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type UUIDs struct{}

func (UUIDs) NewID() string {
	return uuid.NewString()
}

// 有効なbilling keyを1件入れる
func SeedBillingKey(t *testing.T, gdb *gorm.DB, userID int64) model.UserBillingAuth {
	t.Helper()
	auth := model.UserBillingAuth{
		ID:          uuid.NewString(),
		UserID:      userID,
		CustomerKey: "customer-" + uuid.NewString()[:8],
		AuthKey:     "auth-key",
		BillingKey:  "billing-key",
		IsActive:    true,
		IssuedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, gdb.Create(&auth).Error)
	return auth
}
