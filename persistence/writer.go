package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// writeTimeout bounds the async write's own context, independent of the
// request that produced it (which may already be gone).
const writeTimeout = 5 * time.Second

// Writer persists finished requests. Write never blocks its caller and
// never returns an error the forwarder would need to act on — a failed
// write is logged and dropped.
type Writer interface {
	Write(rec RequestRecord)
}

// GormWriter is the default Writer, backed by gorm.
type GormWriter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormWriter builds a GormWriter. logger may be nil.
func NewGormWriter(db *gorm.DB, logger *zap.Logger) *GormWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormWriter{db: db, logger: logger}
}

// Migrate creates/updates the request_records table.
func (w *GormWriter) Migrate(ctx context.Context) error {
	return w.db.WithContext(ctx).AutoMigrate(&RequestRecord{})
}

// Write spawns a background write of rec, recovering from any panic in
// the write goroutine so a persistence bug can never take down a
// request in flight.
func (w *GormWriter) Write(rec RequestRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	go func(r RequestRecord) {
		defer func() {
			if p := recover(); p != nil {
				w.logger.Error("panic while persisting request record",
					zap.String("session_id", r.SessionID),
					zap.Any("panic", p))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := w.db.WithContext(ctx).Create(&r).Error; err != nil {
			w.logger.Error("failed to persist request record",
				zap.String("session_id", r.SessionID),
				zap.Error(err))
		}
	}(rec)
}

// EncodeProviderChain JSON-encodes an ordered list of provider IDs for
// RequestRecord.ProviderChain.
func EncodeProviderChain(providerIDs []string) string {
	return encodeOrEmpty(providerIDs)
}

// EncodeHeaders JSON-encodes a header snapshot for RequestRecord's
// header fields. Callers are responsible for redacting credentials
// before calling this.
func EncodeHeaders(h http.Header) string {
	return encodeOrEmpty(h)
}

// EncodeSpecialSettings JSON-encodes the rectifier's audit entries,
// where each entry is any value carrying Setting/Detail fields (kept
// generic here to avoid an import cycle with package rectify).
func EncodeSpecialSettings(entries any) string {
	return encodeOrEmpty(entries)
}

func encodeOrEmpty(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
