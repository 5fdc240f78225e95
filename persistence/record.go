package persistence

import "time"

// RequestRecord is one forwarded request's durable write shape.
type RequestRecord struct {
	ID uint `gorm:"primaryKey"`

	SessionID string `gorm:"index"`
	KeyID     string `gorm:"index"`
	UserID    string `gorm:"index"`
	Model     string

	Status       int
	DurationMs   int64
	ErrorMessage string

	// ProviderChain is a JSON array of the provider IDs tried, in order.
	ProviderChain string

	// SpecialSettings is a JSON array of rectify.Entry values describing
	// which conditional body rewrites fired for this request.
	SpecialSettings string

	// RequestHeaders and ResponseHeaders are JSON snapshots of the header
	// sets worth keeping for later debugging, already redacted of
	// credentials by the caller.
	RequestHeaders  string
	ResponseHeaders string

	CreatedAt time.Time
}
