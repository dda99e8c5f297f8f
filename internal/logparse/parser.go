package logparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"proxywatch/internal/models"
)

// Line grammar: <date> <time> [<level>] <pid>#<tid>: (*<connId> )?<message>
var lineRe = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2}) (\d{2}:\d{2}:\d{2}) \[(\w+)\] (\d+)#(\d+): (?:\*(\d+) )?(.+)$`)

// Message sub-fields. Each is extracted independently; absence of any one
// optional field does not reject the line.
var (
	clientRe   = regexp.MustCompile(`client: ([^,\s]+)`)
	serverRe   = regexp.MustCompile(`server: ([^,]+)`)
	requestRe  = regexp.MustCompile(`request: "([^"]*)"`)
	upstreamRe = regexp.MustCompile(`upstream: "([^"]+)"`)
	hostRe     = regexp.MustCompile(`host: "([^"]*)"`)
)

// Parse turns one raw nginx error-log line into an ErrorLogRecord.
// It returns ok=false for any line that fails the grammar, whose level is not
// "error", or whose message carries no upstream field: those are the hard
// admission criteria, not retryable failures.
func Parse(line, serverIP string) (*models.ErrorLogRecord, bool) {
	line = strings.TrimRight(line, "\r")
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	level := m[3]
	if level != "error" {
		return nil, false
	}

	message := m[7]
	upstream := firstSubmatch(upstreamRe, message)
	if upstream == "" {
		return nil, false
	}

	// Timestamp arrives as YYYY/MM/DD HH:MM:SS; normalize the date
	// separators before conversion.
	ts, err := time.Parse("2006-01-02 15:04:05", strings.ReplaceAll(m[1], "/", "-")+" "+m[2])
	if err != nil {
		return nil, false
	}

	pid, _ := strconv.Atoi(m[4])

	rec := &models.ErrorLogRecord{
		ServerIP:          serverIP,
		LogLevel:          level,
		OriginalTimestamp: ts.UTC(),
		PID:               pid,
		ClientIP:          firstSubmatch(clientRe, message),
		ServerName:        strings.TrimSpace(firstSubmatch(serverRe, message)),
		Request:           firstSubmatch(requestRe, message),
		HostName:          firstSubmatch(hostRe, message),
		Upstream:          upstream,
		ErrorMessage:      message,
		FullLogText:       line,
	}
	return rec, true
}

func firstSubmatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
