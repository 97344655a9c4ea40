package cgm

import (
	"encoding/binary"
	"fmt"
)

const (
	// responseHeaderSize is {response opcode, response status}.
	responseHeaderSize = 2
	// intervalOperandSize is the width of the RESP_INTERVAL operand. It is wider
	// than the common 2-byte uint16 field, so the response is 6 bytes, not 4:
	// intervals above 65535 ms (SET operands below 191) need 4 bytes.
	intervalOperandSize = 4
)

// Command is a reassembled control point write.
type Command struct {
	Opcode  Opcode
	Operand []byte
}

// DecodeCommand splits a control point write into opcode and operand.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) == 0 {
		return Command{}, &LengthError{What: "control point command", Want: 1, Got: 0}
	}
	operand := make([]byte, len(b)-1)
	copy(operand, b[1:])
	return Command{Opcode: Opcode(b[0]), Operand: operand}, nil
}

func (c Command) Encode() []byte {
	return append([]byte{byte(c.Opcode)}, c.Operand...)
}

// Request is a control point command whose operand has been validated.
type Request interface {
	Opcode() Opcode
}

// GetIntervalRequest asks for the current communication interval.
type GetIntervalRequest struct{}

func (GetIntervalRequest) Opcode() Opcode { return OpGetInterval }

// SetIntervalRequest selects a new interval; 0 pauses notifications.
type SetIntervalRequest struct {
	Value byte
}

func (SetIntervalRequest) Opcode() Opcode { return OpSetInterval }

// IntervalMs maps the operand to milliseconds: 1000*(256-v), so 255 selects
// 1 s and 1 selects 255 s.
func (r SetIntervalRequest) IntervalMs() uint32 {
	if r.Value == 0 {
		return PauseInterval
	}
	return 1000 * (256 - uint32(r.Value))
}

// ParseRequest validates the operand of cmd before the state machine sees it.
func ParseRequest(cmd Command) (Request, error) {
	switch cmd.Opcode {
	case OpGetInterval:
		return GetIntervalRequest{}, nil
	case OpSetInterval:
		if len(cmd.Operand) != 1 {
			return nil, fmt.Errorf("%w: %s takes 1 byte, got %d", ErrOperandInvalid, cmd.Opcode, len(cmd.Operand))
		}
		return SetIntervalRequest{Value: cmd.Operand[0]}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedOpcode, cmd.Opcode)
	}
}

// Response is a control point indication.
type Response struct {
	Opcode  Opcode
	Status  ResponseStatus
	Operand []byte
}

func (r Response) Encode() []byte {
	b := make([]byte, responseHeaderSize, responseHeaderSize+len(r.Operand))
	b[0] = byte(r.Opcode)
	b[1] = byte(r.Status)
	return append(b, r.Operand...)
}

func DecodeResponse(b []byte) (Response, error) {
	if len(b) < responseHeaderSize {
		return Response{}, &LengthError{What: "control point response", Want: responseHeaderSize, Got: len(b)}
	}
	var operand []byte
	if len(b) > responseHeaderSize {
		operand = append([]byte(nil), b[responseHeaderSize:]...)
	}
	return Response{Opcode: Opcode(b[0]), Status: ResponseStatus(b[1]), Operand: operand}, nil
}

// Interval extracts the millisecond interval of a RESP_INTERVAL response.
func (r Response) Interval() (uint32, error) {
	if r.Opcode != OpRespInterval {
		return 0, fmt.Errorf("%s carries no interval", r.Opcode)
	}
	if len(r.Operand) != intervalOperandSize {
		return 0, &LengthError{What: "interval operand", Want: intervalOperandSize, Got: len(r.Operand)}
	}
	return binary.LittleEndian.Uint32(r.Operand), nil
}

func intervalResponse(ms uint32) Response {
	operand := make([]byte, intervalOperandSize)
	binary.LittleEndian.PutUint32(operand, ms)
	return Response{Opcode: OpRespInterval, Status: StatusSuccess, Operand: operand}
}

func codeResponse(status ResponseStatus) Response {
	return Response{Opcode: OpRespCode, Status: status}
}
