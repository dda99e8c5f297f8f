package storage

import (
	"context"
	"errors"
	"time"

	"proxywatch/internal/models"
)

var (
	// ErrDuplicateKey is returned when an insert hits an existing dedup key
	ErrDuplicateKey = errors.New("duplicate")
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// TimeRange is an inclusive time window. Callers that accept an optional
// window pass nil when no window applies; both bounds must be set.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ErrorLogKey identifies an already-stored log line for deduplication.
// ClientIP is the empty string when the line carried no client field.
type ErrorLogKey struct {
	ServerIP          string
	OriginalTimestamp time.Time
	ErrorMessage      string
	ClientIP          string
}

// ListErrorLogsParams contains parameters for listing error records with
// filtering and cursor pagination (newest first).
type ListErrorLogsParams struct {
	ServerIP   string
	BeforeTime time.Time
	BeforeID   string
	Limit      int
}

// BandwidthAveragesParams selects the per-IP averages for one proxy port,
// optionally restricted to a time window.
type BandwidthAveragesParams struct {
	ProxyPort int
	Window    *TimeRange
}

// IPAverage is one row of a per-IP bandwidth aggregate.
type IPAverage struct {
	IPAddress string
	Average   float64
	Count     int64
}

// ListSamplesParams selects bandwidth samples for one IP, newest first.
// ProxyPort 0 means any port.
type ListSamplesParams struct {
	IPAddress string
	ProxyPort int
	Window    *TimeRange
	Limit     int
}

// Storer defines the interface for storage operations on error records and
// bandwidth samples. Rows are append-only: nothing updates or deletes them.
type Storer interface {
	InsertErrorLog(ctx context.Context, rec *models.ErrorLogRecord) error
	HasErrorLog(ctx context.Context, key ErrorLogKey) (bool, error)
	LastErrorLogTime(ctx context.Context, serverIP string) (*time.Time, error)
	ListErrorLogs(ctx context.Context, params ListErrorLogsParams) ([]models.ErrorLogRecord, error)

	InsertBandwidthSample(ctx context.Context, sample *models.BandwidthSample) error
	BandwidthAverages(ctx context.Context, params BandwidthAveragesParams) ([]IPAverage, error)
	ListBandwidthSamples(ctx context.Context, params ListSamplesParams) ([]models.BandwidthSample, error)

	Stats(ctx context.Context) (*models.Stats, error)
}
