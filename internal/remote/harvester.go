package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"proxywatch/internal/logparse"
	"proxywatch/internal/models"
)

// DefaultLogPath is where the fleet's nginx instances write their error log.
const DefaultLogPath = "/var/log/nginx/error.log"

// Harvester reads a target's error log over SFTP and parses it into
// candidate records.
type Harvester struct {
	timeout time.Duration
	logPath string
}

// NewHarvester creates a Harvester reading logPath with the given per-fetch
// deadline.
func NewHarvester(timeout time.Duration, logPath string) *Harvester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logPath == "" {
		logPath = DefaultLogPath
	}
	return &Harvester{timeout: timeout, logPath: logPath}
}

// Fetch reads the remote error log in full, parses every line, and returns
// the admitted records, newest last. When since is non-nil, records whose
// timestamp is not strictly after it are dropped. Unparsable and filtered
// lines are skipped silently; Fetch fails only on transport, auth, or file
// errors.
//
// The whole file is re-read and re-parsed every cycle; there is no
// server-side tailing by offset.
func (h *Harvester) Fetch(ctx context.Context, target models.RemoteTarget, since *time.Time) ([]models.ErrorLogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := dial(target, h.timeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp channel on %s: %w", target.Host, err)
	}
	defer sftpClient.Close()

	f, err := sftpClient.Open(h.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s on %s: %w", h.logPath, target.Host, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s on %s: %w", h.logPath, target.Host, err)
	}

	var records []models.ErrorLogRecord
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, ok := logparse.Parse(line, target.Host)
		if !ok {
			continue
		}
		if since != nil && !rec.OriginalTimestamp.After(*since) {
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}
