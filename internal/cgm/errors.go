package cgm

import (
	"errors"
	"fmt"
)

var (
	// ErrOperandInvalid reports a wrong operand length or value for a recognized opcode.
	ErrOperandInvalid = errors.New("operand invalid")

	// ErrUnrecognizedOpcode reports a control point opcode this service does not implement.
	ErrUnrecognizedOpcode = errors.New("unrecognized opcode")

	// ErrTimeValidation reports a session start time outside the accepted calendar range.
	ErrTimeValidation = errors.New("start time rejected")

	// ErrPayloadLength reports a characteristic payload with the wrong number of bytes.
	ErrPayloadLength = errors.New("invalid payload length")

	// ErrQueueFull reports a control point command dropped because the event queue is full.
	ErrQueueFull = errors.New("event queue full")

	// ErrServiceStopped is returned for events posted after the event loop has exited.
	ErrServiceStopped = errors.New("cgm service stopped")

	// ErrIntervalRange reports a communication interval that is neither 0 nor >= 1000 ms.
	ErrIntervalRange = errors.New("communication interval out of range")
)

// FieldError describes which calendar field of a start time write was rejected.
type FieldError struct {
	Field string
	Value int
}

func (e *FieldError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s %d out of range", ErrTimeValidation, e.Field, e.Value)
}

// Is lets errors.Is match a FieldError against ErrTimeValidation.
func (e *FieldError) Is(target error) bool {
	return target == ErrTimeValidation
}

// LengthError describes a payload of unexpected size.
type LengthError struct {
	What string
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s: %s needs %d bytes, got %d", ErrPayloadLength, e.What, e.Want, e.Got)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrPayloadLength
}
