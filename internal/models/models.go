package models

import (
	"fmt"
	"time"
)

// RemoteTarget describes one fleet server for a single collection cycle.
// It is rebuilt from the topology snapshot every run and never persisted.
type RemoteTarget struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Addr returns the host:port dial address for the target.
func (t RemoteTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// ErrorLogRecord is one admitted nginx error-log line. Records are append-only
// and immutable once written: only lines with level "error" and a non-empty
// upstream field are ever persisted.
type ErrorLogRecord struct {
	ID                string    `json:"id"`
	ServerIP          string    `json:"server_ip"`
	LogLevel          string    `json:"log_level"`
	OriginalTimestamp time.Time `json:"original_timestamp"`
	PID               int       `json:"nginx_pid,omitempty"`
	ClientIP          string    `json:"client_ip,omitempty"`
	ServerName        string    `json:"server_name,omitempty"`
	Request           string    `json:"request,omitempty"`
	HostName          string    `json:"host,omitempty"`
	Upstream          string    `json:"upstream"`
	ErrorMessage      string    `json:"error_message"`
	FullLogText       string    `json:"full_log_text"`
	CreatedAt         time.Time `json:"created_at"`
}

// BandwidthSample is one persisted per-IP, per-port bandwidth measurement.
// A sample is only recorded for an IP that is live on that specific port.
type BandwidthSample struct {
	ID          string    `json:"id"`
	IPAddress   string    `json:"ip_address"`
	ProxyPort   int       `json:"proxy_port"`
	UpBandwidth float64   `json:"up_bandwidth"`
	Timestamp   time.Time `json:"timestamp"`
}

// CollectionStatus is the terminal outcome for one target in a collection run.
type CollectionStatus string

const (
	StatusSuccess        CollectionStatus = "success"
	StatusOffline        CollectionStatus = "offline"
	StatusNoNewLogs      CollectionStatus = "no_new_logs"
	StatusNoRelevantLogs CollectionStatus = "no_relevant_logs"
	StatusError          CollectionStatus = "error"
	StatusNoServers      CollectionStatus = "no_servers"
)

// CollectionResult is the per-target outcome of one collection run.
// It is returned to the caller for reporting and never persisted.
type CollectionResult struct {
	ServerIP   string           `json:"server_ip"`
	Status     CollectionStatus `json:"status"`
	LogsSaved  int              `json:"logs_saved"`
	Duplicates int              `json:"duplicates,omitempty"`
	Filtered   int              `json:"filtered,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// CollectionSummary aggregates one full collection run.
type CollectionSummary struct {
	RunID      string             `json:"run_id"`
	Results    []CollectionResult `json:"results"`
	TotalSaved int                `json:"total_saved"`
	DurationMS int64              `json:"duration_ms"`
}

// IngestResult reports one bandwidth ingestion cycle.
type IngestResult struct {
	Collected    int `json:"collected"`
	TotalLiveIPs int `json:"total_live_ips"`
}

// IPBandwidthDetail is the per-IP entry of a ranked bandwidth listing.
type IPBandwidthDetail struct {
	Average    float64 `json:"average"`
	Count      int64   `json:"count"`
	IsLive     bool    `json:"is_live"`
	Group      string  `json:"group,omitempty"`
	GroupLabel string  `json:"group_label"`
}

// RankedIPsResult is a page of the ranked per-IP bandwidth listing.
type RankedIPsResult struct {
	IPs        []string                     `json:"ips"`
	Details    map[string]IPBandwidthDetail `json:"details"`
	Pagination Pagination                   `json:"pagination"`
}

// Pagination describes the slice of the underlying ranked sequence returned.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// GroupSeriesPoint is one aggregated point of a group bandwidth series:
// the average bandwidth across member IPs that reported at the same instant.
type GroupSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Average   float64   `json:"average"`
	Count     int       `json:"count"`
}

// Stats summarizes the persisted data set for the dashboard.
type Stats struct {
	ErrorLogCount        int64      `json:"error_log_count"`
	BandwidthSampleCount int64      `json:"bandwidth_sample_count"`
	ServersWithErrors    int64      `json:"servers_with_errors"`
	LastErrorAt          *time.Time `json:"last_error_at"`
	LastSampleAt         *time.Time `json:"last_sample_at"`
	LiveIPCount          int        `json:"live_ip_count"`
}
