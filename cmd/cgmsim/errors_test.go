package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/scenario"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "script error shows the Lua message only",
			err:      fmt.Errorf("run: %w", &scenario.ScriptError{Source: "x.lua", Message: `[string "..."]:3: boom`}),
			expected: `scenario failed: [string "..."]:3: boom`,
		},
		{
			name:     "field error",
			err:      &cgm.FieldError{Field: "month", Value: 13},
			expected: "invalid value: start time rejected: month 13 out of range",
		},
		{
			name:     "length error",
			err:      fmt.Errorf("failed to decode feature: %w", &cgm.LengthError{What: "feature", Want: 4, Got: 2}),
			expected: "invalid payload: invalid payload length: feature needs 4 bytes, got 2",
		},
		{
			name:     "stopped service",
			err:      fmt.Errorf("enable: %w", cgm.ErrServiceStopped),
			expected: "simulator stopped unexpectedly",
		},
		{
			name:     "anything else is passed through",
			err:      errors.New("plain"),
			expected: "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
