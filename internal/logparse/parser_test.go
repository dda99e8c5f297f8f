package logparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullLine(t *testing.T) {
	line := `2024/01/15 10:30:00 [error] 123#0: *456 client: 1.2.3.4, server: foo, request: "GET / HTTP/1.1", upstream: "http://10.0.0.1:80", host: "bar.com"`

	rec, ok := Parse(line, "9.9.9.9")
	require.True(t, ok)

	assert.Equal(t, "9.9.9.9", rec.ServerIP)
	assert.Equal(t, "error", rec.LogLevel)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), rec.OriginalTimestamp)
	assert.Equal(t, 123, rec.PID)
	assert.Equal(t, "1.2.3.4", rec.ClientIP)
	assert.Equal(t, "foo", rec.ServerName)
	assert.Equal(t, "GET / HTTP/1.1", rec.Request)
	assert.Equal(t, "bar.com", rec.HostName)
	assert.Equal(t, "http://10.0.0.1:80", rec.Upstream)
	assert.Equal(t, line, rec.FullLogText)
}

func TestParseOptionalFieldsAbsent(t *testing.T) {
	line := `2024/01/15 10:30:00 [error] 123#0: *456 connect() failed, upstream: "http://10.0.0.1:80"`

	rec, ok := Parse(line, "9.9.9.9")
	require.True(t, ok)
	assert.Empty(t, rec.ClientIP)
	assert.Empty(t, rec.ServerName)
	assert.Empty(t, rec.Request)
	assert.Empty(t, rec.HostName)
	assert.Equal(t, "http://10.0.0.1:80", rec.Upstream)
}

func TestParseWithoutConnectionID(t *testing.T) {
	line := `2024/01/15 10:30:00 [error] 123#7: upstream timed out, upstream: "http://10.0.0.2:80"`

	rec, ok := Parse(line, "9.9.9.9")
	require.True(t, ok)
	assert.Equal(t, `upstream timed out, upstream: "http://10.0.0.2:80"`, rec.ErrorMessage)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"wrong level", `2024/01/15 10:30:00 [warn] 123#0: *456 something, upstream: "http://10.0.0.1:80"`},
		{"info level", `2024/01/15 10:30:00 [info] 123#0: *456 something, upstream: "http://10.0.0.1:80"`},
		{"missing upstream", `2024/01/15 10:30:00 [error] 123#0: *456 client: 1.2.3.4, server: foo`},
		{"empty upstream", `2024/01/15 10:30:00 [error] 123#0: *456 failed, upstream: ""`},
		{"no grammar match", `this is not an nginx error line`},
		{"missing pid", `2024/01/15 10:30:00 [error] something, upstream: "http://x"`},
		{"empty line", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := Parse(tt.line, "9.9.9.9")
			assert.False(t, ok)
			assert.Nil(t, rec)
		})
	}
}

func TestParseNormalizesTimestampSeparators(t *testing.T) {
	line := `2023/12/31 23:59:59 [error] 1#1: boom, upstream: "http://u"`

	rec, ok := Parse(line, "9.9.9.9")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), rec.OriginalTimestamp)
}

func TestParseTrimsCarriageReturn(t *testing.T) {
	line := "2024/01/15 10:30:00 [error] 1#1: boom, upstream: \"http://u\"\r"

	rec, ok := Parse(line, "9.9.9.9")
	require.True(t, ok)
	assert.Equal(t, "http://u", rec.Upstream)
}
