package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, JSON: true})
	require.NotNil(t, logger)

	t.Run("Levels", func(t *testing.T) {
		for _, fn := range []func(string, ...any){logger.Debug, logger.Info, logger.Warn, logger.Error} {
			buf.Reset()
			fn("level msg")
			assert.Contains(t, buf.String(), "level msg")
		}
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		assert.Equal(t, LevelError, logger.GetLevel())

		buf.Reset()
		logger.Info("should not appear")
		assert.Zero(t, buf.Len())

		logger.SetLevel(LevelDebug)
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		logger.WithComponent("netstate").Info("msg")
		assert.Contains(t, buf.String(), "netstate")
	})

	t.Run("With", func(t *testing.T) {
		buf.Reset()
		logger.With("iface", "eth0").Info("msg")
		assert.Contains(t, buf.String(), "iface")
		assert.Contains(t, buf.String(), "eth0")
	})

	t.Run("Audit", func(t *testing.T) {
		buf.Reset()
		logger.Audit("rollback", "cp-1", "reason", "verify")
		out := buf.String()
		assert.Contains(t, out, `"audit":true`)
		assert.Contains(t, out, "AUDIT")
		assert.Contains(t, out, "cp-1")
		assert.Contains(t, out, "rollback")
	})
}

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithComponent("Applier").Warn("falling back", "reason", "mixed family")
	line := buf.String()

	assert.Contains(t, line, "hostnet[")
	assert.Contains(t, line, "[warn] applier: falling back")
	assert.Contains(t, line, `reason="mixed family"`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestConsoleHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithGroup("route").Info("added", "table", 254)
	assert.Contains(t, buf.String(), "route.table=254")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDefaultLogger(t *testing.T) {
	require.NotNil(t, Default())

	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(Config{Level: LevelInfo, Output: &buf}))
	defer SetDefault(prev)

	Warn("warn")
	WithComponent("comp").Info("comp msg")

	out := buf.String()
	assert.Contains(t, out, "[warn] warn")
	assert.Contains(t, out, "[info] comp: comp msg")
}

func TestConsoleHandlerBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})

	l.WithComponent("checkpoint").With("plugin", "netlink").Debug("armed", "timeout", "1m0s")
	assert.Contains(t, buf.String(), "[debug] checkpoint: armed plugin=netlink timeout=1m0s")
}

func TestJSONLogParsing(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	l.Info("json test", "key", "value")

	var data map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, "json test", data["msg"])
	assert.Equal(t, "value", data["key"])
	assert.Equal(t, "INFO", data["level"])
}
