package main

import (
	"errors"
	"fmt"

	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/scenario"
)

// Command-level errors
var (
	// ErrUnsupportedPlatform is returned by serve where go-ble has no peripheral backend.
	ErrUnsupportedPlatform = errors.New("serve is not supported on this platform")
)

// FormatUserError renders err for the terminal. Known errors lose the
// wrapping noise a user cannot act on.
func FormatUserError(err error) string {
	var scriptErr *scenario.ScriptError
	var fieldErr *cgm.FieldError
	var lengthErr *cgm.LengthError

	switch {
	case errors.As(err, &scriptErr):
		return fmt.Sprintf("scenario failed: %s", scriptErr.Message)
	case errors.As(err, &fieldErr):
		return fmt.Sprintf("invalid value: %s", fieldErr)
	case errors.As(err, &lengthErr):
		return fmt.Sprintf("invalid payload: %s", lengthErr)
	case errors.Is(err, cgm.ErrServiceStopped):
		return "simulator stopped unexpectedly"
	default:
		return err.Error()
	}
}
