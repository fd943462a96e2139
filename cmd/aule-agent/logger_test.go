package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		local    bool
		wantJSON bool
	}{
		{"explicit json", "json", true, true},
		{"explicit text in production", "text", false, false},
		{"local default", "", true, false},
		{"production default", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newLogger(&buf, tt.format, tt.local).Info("hello", "error", errors.New("boom"))

			var decoded map[string]any
			isJSON := json.Unmarshal(buf.Bytes(), &decoded) == nil
			assert.Equal(t, tt.wantJSON, isJSON, buf.String())
			require.Contains(t, buf.String(), "hello")
			assert.Contains(t, buf.String(), "boom")
		})
	}
}
