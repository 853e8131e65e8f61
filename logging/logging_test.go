package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalWriter(t *testing.T) {
	tests := []struct {
		name string
		raw  bool
		in   string
		want string
	}{
		{"cooked passes through", false, "a\nb\n", "a\nb\n"},
		{"raw translates", true, "a\nb\n", "a\r\nb\r\n"},
		{"raw keeps existing CRLF", true, "a\r\nb", "a\r\nb"},
		{"raw leading newline", true, "\nx", "\r\nx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			w := NewTerminalWriter(&out)
			w.SetRaw(tt.raw)
			n, err := w.Write([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, len(tt.in), n)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestNew(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(&out, "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "component=test")

	_, err = New(&out, "loud")
	assert.Error(t, err)
}
