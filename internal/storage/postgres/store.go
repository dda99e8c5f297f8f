package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
)

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// migrate ensures the database schema is created. The unique index on the
// dedup key is the storage-level backstop against racing collection cycles.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS error_logs (
		id                 TEXT PRIMARY KEY,
		server_ip          TEXT NOT NULL,
		log_level          TEXT NOT NULL,
		original_timestamp TIMESTAMPTZ NOT NULL,
		nginx_pid          INTEGER NOT NULL DEFAULT 0,
		client_ip          TEXT NOT NULL DEFAULT '',
		server_name        TEXT NOT NULL DEFAULT '',
		request            TEXT NOT NULL DEFAULT '',
		host               TEXT NOT NULL DEFAULT '',
		upstream           TEXT NOT NULL,
		error_message      TEXT NOT NULL,
		full_log_text      TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (server_ip, original_timestamp, error_message, client_ip)
	);
	CREATE INDEX IF NOT EXISTS idx_error_logs_server_ts ON error_logs (server_ip, original_timestamp DESC);

	CREATE TABLE IF NOT EXISTS bandwidth_samples (
		id           TEXT PRIMARY KEY,
		ip_address   TEXT NOT NULL,
		proxy_port   INTEGER NOT NULL,
		up_bandwidth DOUBLE PRECISION NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bandwidth_ip_ts ON bandwidth_samples (ip_address, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_bandwidth_port_ts ON bandwidth_samples (proxy_port, timestamp);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func randomID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + time.Now().UTC().Format("20060102150405")
	}
	return prefix + hex.EncodeToString(b)
}

// InsertErrorLog appends one admitted record. A conflict on the dedup key
// returns storage.ErrDuplicateKey and writes nothing.
func (s *PostgresStore) InsertErrorLog(ctx context.Context, rec *models.ErrorLogRecord) error {
	if rec.ID == "" {
		rec.ID = randomID("el_")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
INSERT INTO error_logs (id, server_ip, log_level, original_timestamp, nginx_pid, client_ip, server_name, request, host, upstream, error_message, full_log_text, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (server_ip, original_timestamp, error_message, client_ip) DO NOTHING`
	tag, err := s.db.Exec(ctx, query,
		rec.ID, rec.ServerIP, rec.LogLevel, rec.OriginalTimestamp, rec.PID,
		rec.ClientIP, rec.ServerName, rec.Request, rec.HostName,
		rec.Upstream, rec.ErrorMessage, rec.FullLogText, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert error log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// HasErrorLog reports whether a record with the given dedup key exists.
func (s *PostgresStore) HasErrorLog(ctx context.Context, key storage.ErrorLogKey) (bool, error) {
	query := `SELECT 1 FROM error_logs WHERE server_ip = $1 AND original_timestamp = $2 AND error_message = $3 AND client_ip = $4 LIMIT 1`
	var one int
	err := s.db.QueryRow(ctx, query, key.ServerIP, key.OriginalTimestamp, key.ErrorMessage, key.ClientIP).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check error log existence: %w", err)
	}
	return true, nil
}

// LastErrorLogTime returns the newest persisted original timestamp for a
// server, or nil when the server has no records yet.
func (s *PostgresStore) LastErrorLogTime(ctx context.Context, serverIP string) (*time.Time, error) {
	query := `SELECT original_timestamp FROM error_logs WHERE server_ip = $1 ORDER BY original_timestamp DESC LIMIT 1`
	var ts time.Time
	err := s.db.QueryRow(ctx, query, serverIP).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last log timestamp: %w", err)
	}
	return &ts, nil
}

// ListErrorLogs retrieves a paginated list of error records, newest first.
func (s *PostgresStore) ListErrorLogs(ctx context.Context, params storage.ListErrorLogsParams) ([]models.ErrorLogRecord, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, server_ip, log_level, original_timestamp, nginx_pid, client_ip, server_name, request, host, upstream, error_message, full_log_text, created_at FROM error_logs WHERE 1=1`)
	if params.ServerIP != "" {
		args = append(args, params.ServerIP)
		qb.WriteString(fmt.Sprintf(" AND server_ip = $%d", len(args)))
	}
	if !params.BeforeTime.IsZero() && params.BeforeID != "" {
		args = append(args, params.BeforeTime, params.BeforeID)
		qb.WriteString(fmt.Sprintf(" AND (original_timestamp, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, params.Limit)
	qb.WriteString(fmt.Sprintf(" ORDER BY original_timestamp DESC, id DESC LIMIT $%d", len(args)))

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list error logs: %w", err)
	}
	defer rows.Close()
	var records []models.ErrorLogRecord
	for rows.Next() {
		var rec models.ErrorLogRecord
		if err := rows.Scan(&rec.ID, &rec.ServerIP, &rec.LogLevel, &rec.OriginalTimestamp, &rec.PID,
			&rec.ClientIP, &rec.ServerName, &rec.Request, &rec.HostName,
			&rec.Upstream, &rec.ErrorMessage, &rec.FullLogText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error log row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InsertBandwidthSample appends one bandwidth sample.
func (s *PostgresStore) InsertBandwidthSample(ctx context.Context, sample *models.BandwidthSample) error {
	if sample.ID == "" {
		sample.ID = randomID("bw_")
	}
	query := `INSERT INTO bandwidth_samples (id, ip_address, proxy_port, up_bandwidth, timestamp) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, query, sample.ID, sample.IPAddress, sample.ProxyPort, sample.UpBandwidth, sample.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert bandwidth sample: %w", err)
	}
	return nil
}

// BandwidthAverages computes the per-IP average bandwidth and sample count
// for one proxy port, optionally restricted to a time window.
func (s *PostgresStore) BandwidthAverages(ctx context.Context, params storage.BandwidthAveragesParams) ([]storage.IPAverage, error) {
	args := []interface{}{params.ProxyPort}
	qb := strings.Builder{}
	qb.WriteString(`SELECT ip_address, AVG(up_bandwidth), COUNT(*) FROM bandwidth_samples WHERE proxy_port = $1`)
	if params.Window != nil {
		args = append(args, params.Window.Start, params.Window.End)
		qb.WriteString(fmt.Sprintf(" AND timestamp >= $%d AND timestamp <= $%d", len(args)-1, len(args)))
	}
	qb.WriteString(" GROUP BY ip_address ORDER BY ip_address")

	rows, err := s.db.Query(ctx, qb.String(), args...)
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
func (s *PostgresStore) ListBandwidthSamples(ctx context.Context, params storage.ListSamplesParams) ([]models.BandwidthSample, error) {
	args := []interface{}{params.IPAddress}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, ip_address, proxy_port, up_bandwidth, timestamp FROM bandwidth_samples WHERE ip_address = $1`)
	if params.ProxyPort != 0 {
		args = append(args, params.ProxyPort)
		qb.WriteString(fmt.Sprintf(" AND proxy_port = $%d", len(args)))
	}
	if params.Window != nil {
		args = append(args, params.Window.Start, params.Window.End)
		qb.WriteString(fmt.Sprintf(" AND timestamp >= $%d AND timestamp <= $%d", len(args)-1, len(args)))
	}
	args = append(args, params.Limit)
	qb.WriteString(fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args)))

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bandwidth samples: %w", err)
	}
	defer rows.Close()
	var samples []models.BandwidthSample
	for rows.Next() {
		var sm models.BandwidthSample
		if err := rows.Scan(&sm.ID, &sm.IPAddress, &sm.ProxyPort, &sm.UpBandwidth, &sm.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan bandwidth sample row: %w", err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// Stats summarizes the persisted data set.
func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT server_ip), MAX(original_timestamp) FROM error_logs`).
		Scan(&stats.ErrorLogCount, &stats.ServersWithErrors, &stats.LastErrorAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load error log stats: %w", err)
	}
	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*), MAX(timestamp) FROM bandwidth_samples`).
		Scan(&stats.BandwidthSampleCount, &stats.LastSampleAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load bandwidth stats: %w", err)
	}
	return stats, nil
}
