package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
)

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created. The unique index on the
// dedup key is the storage-level backstop against racing collection cycles.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS error_logs (
	id                 TEXT PRIMARY KEY,
	server_ip          TEXT NOT NULL,
	log_level          TEXT NOT NULL,
	original_timestamp TEXT NOT NULL,
	nginx_pid          INTEGER NOT NULL DEFAULT 0,
	client_ip          TEXT NOT NULL DEFAULT '',
	server_name        TEXT NOT NULL DEFAULT '',
	request            TEXT NOT NULL DEFAULT '',
	host               TEXT NOT NULL DEFAULT '',
	upstream           TEXT NOT NULL,
	error_message      TEXT NOT NULL,
	full_log_text      TEXT NOT NULL,
	created_at         TEXT NOT NULL,
	UNIQUE (server_ip, original_timestamp, error_message, client_ip)
);
CREATE INDEX IF NOT EXISTS idx_error_logs_server_ts ON error_logs (server_ip, original_timestamp DESC);

CREATE TABLE IF NOT EXISTS bandwidth_samples (
	id           TEXT PRIMARY KEY,
	ip_address   TEXT NOT NULL,
	proxy_port   INTEGER NOT NULL,
	up_bandwidth REAL NOT NULL,
	timestamp    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bandwidth_ip_ts ON bandwidth_samples (ip_address, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_bandwidth_port_ts ON bandwidth_samples (proxy_port, timestamp);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func randomID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + time.Now().UTC().Format("20060102150405")
	}
	return prefix + hex.EncodeToString(b)
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// InsertErrorLog appends one admitted record. A conflict on the dedup key
// returns storage.ErrDuplicateKey and writes nothing.
func (s *SQLiteStore) InsertErrorLog(ctx context.Context, rec *models.ErrorLogRecord) error {
	if rec.ID == "" {
		rec.ID = randomID("el_")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
INSERT INTO error_logs (id, server_ip, log_level, original_timestamp, nginx_pid, client_ip, server_name, request, host, upstream, error_message, full_log_text, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(server_ip, original_timestamp, error_message, client_ip) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ServerIP, rec.LogLevel, formatTime(rec.OriginalTimestamp), rec.PID,
		rec.ClientIP, rec.ServerName, rec.Request, rec.HostName,
		rec.Upstream, rec.ErrorMessage, rec.FullLogText, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert error log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// HasErrorLog reports whether a record with the given dedup key exists.
func (s *SQLiteStore) HasErrorLog(ctx context.Context, key storage.ErrorLogKey) (bool, error) {
	query := `SELECT 1 FROM error_logs WHERE server_ip = ? AND original_timestamp = ? AND error_message = ? AND client_ip = ? LIMIT 1`
	var one int
	err := s.db.QueryRowContext(ctx, query, key.ServerIP, formatTime(key.OriginalTimestamp), key.ErrorMessage, key.ClientIP).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check error log existence: %w", err)
	}
	return true, nil
}

// LastErrorLogTime returns the newest persisted original timestamp for a
// server, or nil when the server has no records yet.
func (s *SQLiteStore) LastErrorLogTime(ctx context.Context, serverIP string) (*time.Time, error) {
	query := `SELECT original_timestamp FROM error_logs WHERE server_ip = ? ORDER BY original_timestamp DESC LIMIT 1`
	var tsStr string
	err := s.db.QueryRowContext(ctx, query, serverIP).Scan(&tsStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last log timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored timestamp: %w", err)
	}
	return &ts, nil
}

// ListErrorLogs retrieves a paginated list of error records, newest first.
func (s *SQLiteStore) ListErrorLogs(ctx context.Context, params storage.ListErrorLogsParams) ([]models.ErrorLogRecord, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, server_ip, log_level, original_timestamp, nginx_pid, client_ip, server_name, request, host, upstream, error_message, full_log_text, created_at FROM error_logs WHERE 1=1`)
	if params.ServerIP != "" {
		args = append(args, params.ServerIP)
		qb.WriteString(" AND server_ip = ?")
	}
	if !params.BeforeTime.IsZero() && params.BeforeID != "" {
		args = append(args, formatTime(params.BeforeTime), params.BeforeID)
		qb.WriteString(" AND (original_timestamp, id) < (?, ?)")
	}
	qb.WriteString(" ORDER BY original_timestamp DESC, id DESC LIMIT ?")
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list error logs: %w", err)
	}
	defer rows.Close()
	var records []models.ErrorLogRecord
	for rows.Next() {
		rec, err := scanErrorLog(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanErrorLog(rows *sql.Rows) (*models.ErrorLogRecord, error) {
	var rec models.ErrorLogRecord
	var tsStr, createdStr string
	if err := rows.Scan(&rec.ID, &rec.ServerIP, &rec.LogLevel, &tsStr, &rec.PID,
		&rec.ClientIP, &rec.ServerName, &rec.Request, &rec.HostName,
		&rec.Upstream, &rec.ErrorMessage, &rec.FullLogText, &createdStr); err != nil {
		return nil, fmt.Errorf("failed to scan error log row: %w", err)
	}
	rec.OriginalTimestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &rec, nil
}

// InsertBandwidthSample appends one bandwidth sample.
func (s *SQLiteStore) InsertBandwidthSample(ctx context.Context, sample *models.BandwidthSample) error {
	if sample.ID == "" {
		sample.ID = randomID("bw_")
	}
	query := `INSERT INTO bandwidth_samples (id, ip_address, proxy_port, up_bandwidth, timestamp) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, sample.ID, sample.IPAddress, sample.ProxyPort, sample.UpBandwidth, formatTime(sample.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert bandwidth sample: %w", err)
	}
	return nil
}

// BandwidthAverages computes the per-IP average bandwidth and sample count
// for one proxy port, optionally restricted to a time window.
func (s *SQLiteStore) BandwidthAverages(ctx context.Context, params storage.BandwidthAveragesParams) ([]storage.IPAverage, error) {
	args := []interface{}{params.ProxyPort}
	qb := strings.Builder{}
	qb.WriteString(`SELECT ip_address, AVG(up_bandwidth), COUNT(*) FROM bandwidth_samples WHERE proxy_port = ?`)
	if params.Window != nil {
		args = append(args, formatTime(params.Window.Start), formatTime(params.Window.End))
		qb.WriteString(" AND timestamp >= ? AND timestamp <= ?")
	}
	qb.WriteString(" GROUP BY ip_address ORDER BY ip_address")

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to compute bandwidth averages: %w", err)
	}
	defer rows.Close()
	var averages []storage.IPAverage
	for rows.Next() {
		var a storage.IPAverage
		if err := rows.Scan(&a.IPAddress, &a.Average, &a.Count); err != nil {
			return nil, fmt.Errorf("failed to scan bandwidth average row: %w", err)
		}
		averages = append(averages, a)
	}
	return averages, rows.Err()
}

// ListBandwidthSamples retrieves samples for one IP, newest first.
func (s *SQLiteStore) ListBandwidthSamples(ctx context.Context, params storage.ListSamplesParams) ([]models.BandwidthSample, error) {
	args := []interface{}{params.IPAddress}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, ip_address, proxy_port, up_bandwidth, timestamp FROM bandwidth_samples WHERE ip_address = ?`)
	if params.ProxyPort != 0 {
		args = append(args, params.ProxyPort)
		qb.WriteString(" AND proxy_port = ?")
	}
	if params.Window != nil {
		args = append(args, formatTime(params.Window.Start), formatTime(params.Window.End))
		qb.WriteString(" AND timestamp >= ? AND timestamp <= ?")
	}
	qb.WriteString(" ORDER BY timestamp DESC LIMIT ?")
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bandwidth samples: %w", err)
	}
	defer rows.Close()
	var samples []models.BandwidthSample
	for rows.Next() {
		var sm models.BandwidthSample
		var tsStr string
		if err := rows.Scan(&sm.ID, &sm.IPAddress, &sm.ProxyPort, &sm.UpBandwidth, &tsStr); err != nil {
			return nil, fmt.Errorf("failed to scan bandwidth sample row: %w", err)
		}
		sm.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// Stats summarizes the persisted data set.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT server_ip), COALESCE(MAX(original_timestamp), '') FROM error_logs`).
		Scan(&stats.ErrorLogCount, &stats.ServersWithErrors, scanNullableTime(&stats.LastErrorAt))
	if err != nil {
		return nil, fmt.Errorf("failed to load error log stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(timestamp), '') FROM bandwidth_samples`).
		Scan(&stats.BandwidthSampleCount, scanNullableTime(&stats.LastSampleAt))
	if err != nil {
		return nil, fmt.Errorf("failed to load bandwidth stats: %w", err)
	}
	return stats, nil
}

// scanNullableTime scans an RFC3339 string column into *time.Time, leaving
// the destination nil for the empty string.
func scanNullableTime(dst **time.Time) sql.Scanner {
	return &nullableTimeScanner{dst: dst}
}

type nullableTimeScanner struct {
	dst **time.Time
}

func (n *nullableTimeScanner) Scan(v interface{}) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*n.dst = &t
	return nil
}
