package log

import (
	"bytes"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"", false, true},
		{"error", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := NewWithWriter(&buf, tt.level, FormatJSON)
			assert.NoError(t, err)

			log.Debug("debug message")
			log.Info("info message", "user", "alice")
			log.Error("error message")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug message")))
			assert.Equal(t, tt.wantInfo, bytes.Contains(buf.Bytes(), []byte("info message")))
			assert.Contains(t, out, "error message")
			if tt.wantInfo {
				assert.Contains(t, out, `"user":"alice"`)
			}
		})
	}
}

func TestInvalid(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWithWriter(&buf, "loud", FormatJSON)
	assert.IsError(t, err, ErrInvalidLevel)

	_, err = NewWithWriter(&buf, "info", Format("xml"))
	assert.Error(t, err)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", FormatConsole)
	assert.NoError(t, err)
	log.Info("started", "nodes", 3)
	assert.Contains(t, buf.String(), "started")
	assert.Contains(t, buf.String(), "nodes=")
}
