package persistence

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestWriter(t *testing.T) *GormWriter {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	w := NewGormWriter(db, nil)
	require.NoError(t, w.Migrate(t.Context()))
	return w
}

func TestGormWriter_WritePersistsRecord(t *testing.T) {
	w := newTestWriter(t)

	w.Write(RequestRecord{
		SessionID:     "sess-1",
		KeyID:         "key-1",
		UserID:        "user-1",
		Model:         "claude-opus",
		Status:        200,
		DurationMs:    120,
		ProviderChain: EncodeProviderChain([]string{"p1", "p2"}),
	})

	assert.Eventually(t, func() bool {
		var count int64
		w.db.Model(&RequestRecord{}).Count(&count)
		return count == 1
	}, time.Second, 10*time.Millisecond)

	var rec RequestRecord
	require.NoError(t, w.db.First(&rec).Error)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, `["p1","p2"]`, rec.ProviderChain)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestEncodeHeaders(t *testing.T) {
	h := http.Header{"X-Request-Id": []string{"abc"}}
	encoded := EncodeHeaders(h)
	assert.Contains(t, encoded, "X-Request-Id")
	assert.Contains(t, encoded, "abc")
}

func TestGormWriter_PanicInWriteIsRecovered(t *testing.T) {
	w := newTestWriter(t)
	w.db = nil // force a nil-pointer panic inside the write goroutine

	assert.NotPanics(t, func() {
		w.Write(RequestRecord{SessionID: "sess-panic"})
		time.Sleep(50 * time.Millisecond)
	})
}
