package scenario

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/cgm"
)

// ScriptError is a Lua syntax or runtime failure.
type ScriptError struct {
	Source  string
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	if e.Source == "" {
		return "scenario: " + e.Message
	}
	return fmt.Sprintf("scenario %s: %s", e.Source, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Engine executes scenario scripts against a Harness. The script sees a global
// `cgm` table:
//
//	cgm.enable()                  subscribe to measurements
//	cgm.disable()                 unsubscribe
//	cgm.set_interval(b)           SET_INTERVAL with operand byte b
//	cgm.get_interval()            GET_INTERVAL
//	cgm.control(b1, b2, ...)      raw control point command
//	cgm.advance(ms)               move simulated time forward
//	cgm.read(name)                "feature", "status", "start-time", "run-time"; returns a byte string
//	cgm.write_start_time(y, mo, d, h, mi, s, tz, dst)  returns true or nil, message
//	cgm.hex(s)                    hex dump of a byte string
//	cgm.elapsed()                 simulated milliseconds since start
//
// print() output is captured into the recorder. An Engine is not safe for
// concurrent use.
type Engine struct {
	state    *lua.State
	harness  *Harness
	recorder *Recorder
	logger   *logrus.Logger
	ctx      context.Context
}

func NewEngine(harness *Harness, recorder *Recorder, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		harness:  harness,
		recorder: recorder,
		logger:   logger,
		ctx:      context.Background(),
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrint()
	e.registerAPI()
	return e
}

// Close releases the Lua state.
func (e *Engine) Close() {
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

// RunFile executes the script at path.
func (e *Engine) RunFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return e.Run(ctx, string(content), path)
}

// Run executes script. name identifies it in errors.
func (e *Engine) Run(ctx context.Context, script, name string) error {
	if e.state == nil {
		return &ScriptError{Source: name, Message: "engine closed"}
	}
	if strings.TrimSpace(script) == "" {
		return &ScriptError{Source: name, Message: "empty script"}
	}
	e.ctx = ctx
	defer func() { e.ctx = context.Background() }()

	e.logger.WithField("script", name).Debug("Running scenario")
	if err := e.state.DoString(script); err != nil {
		msg := err.Error()
		e.recorder.Add(Record{Time: e.harness.Clock().Now(), Kind: KindError, Text: msg})
		return &ScriptError{Source: name, Message: msg, Err: err}
	}
	return nil
}

func (e *Engine) registerPrint() {
	e.state.Register("print", func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}
		e.recorder.Add(Record{
			Time: e.harness.Clock().Now(),
			Kind: KindPrint,
			Text: strings.Join(parts, "\t"),
		})
		return 0
	})
}

func (e *Engine) registerAPI() {
	L := e.state
	L.NewTable()

	e.pushFunction("enable", func(L *lua.State) int {
		e.check(L, "enable", e.harness.Enable(e.ctx))
		return 0
	})
	e.pushFunction("disable", func(L *lua.State) int {
		e.check(L, "disable", e.harness.Disable(e.ctx))
		return 0
	})
	e.pushFunction("set_interval", func(L *lua.State) int {
		b := byteArg(L, 1, "set_interval(byte)")
		e.check(L, "set_interval", e.harness.Control(e.ctx, []byte{byte(cgm.OpSetInterval), b}))
		return 0
	})
	e.pushFunction("get_interval", func(L *lua.State) int {
		e.check(L, "get_interval", e.harness.Control(e.ctx, []byte{byte(cgm.OpGetInterval)}))
		return 0
	})
	e.pushFunction("control", func(L *lua.State) int {
		payload := make([]byte, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			payload = append(payload, byteArg(L, i, "control(byte, ...)"))
		}
		e.check(L, "control", e.harness.Control(e.ctx, payload))
		return 0
	})
	e.pushFunction("advance", func(L *lua.State) int {
		if !L.IsNumber(1) {
			L.RaiseError("advance(milliseconds) expects a number argument")
			return 0
		}
		ms := L.ToInteger(1)
		if ms < 0 {
			L.RaiseError("advance(milliseconds) expects a non-negative number")
			return 0
		}
		e.check(L, "advance", e.harness.Advance(e.ctx, time.Duration(ms)*time.Millisecond))
		return 0
	})
	e.pushFunction("read", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("read(name) expects a characteristic name")
			return 0
		}
		c, err := ParseCharacteristic(L.ToString(1))
		if err != nil {
			L.RaiseError(err.Error())
			return 0
		}
		data, err := e.harness.Read(e.ctx, c)
		if err != nil {
			L.PushNil()
			L.PushString(fmt.Sprintf("read() failed: %s", err))
			return 2
		}
		L.PushString(string(data))
		return 1
	})
	e.pushFunction("write_start_time", func(L *lua.State) int {
		var fields [8]int
		for i := range fields {
			if !L.IsNumber(i + 1) {
				L.RaiseError("write_start_time(year, month, day, hour, minute, second, tz, dst) expects 8 numbers")
				return 0
			}
			fields[i] = L.ToInteger(i + 1)
		}
		st := cgm.SessionStartTime{
			Year:      uint16(fields[0]),
			Month:     uint8(fields[1]),
			Day:       uint8(fields[2]),
			Hour:      uint8(fields[3]),
			Minute:    uint8(fields[4]),
			Second:    uint8(fields[5]),
			TimeZone:  int8(fields[6]),
			DSTOffset: uint8(fields[7]),
		}
		if err := e.harness.WriteStartTime(e.ctx, st.Encode()); err != nil {
			if errors.Is(err, cgm.ErrServiceStopped) {
				L.RaiseError(err.Error())
				return 0
			}
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		L.PushBoolean(true)
		return 1
	})
	e.pushFunction("hex", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("hex(bytes) expects a string argument")
			return 0
		}
		L.PushString(strings.ToUpper(hex.EncodeToString([]byte(L.ToString(1)))))
		return 1
	})
	e.pushFunction("elapsed", func(L *lua.State) int {
		L.PushInteger(e.harness.Elapsed().Milliseconds())
		return 1
	})

	L.SetGlobal("cgm")
}

// pushFunction adds name to the table on top of the stack.
func (e *Engine) pushFunction(name string, fn lua.LuaGoFunction) {
	e.state.PushString(name)
	e.state.PushGoFunction(fn)
	e.state.SetTable(-3)
}

// check turns a harness error into a Lua error.
func (e *Engine) check(L *lua.State, op string, err error) {
	if err != nil {
		L.RaiseError(fmt.Sprintf("%s() failed: %s", op, err))
	}
}

func byteArg(L *lua.State, i int, usage string) byte {
	if !L.IsNumber(i) {
		L.RaiseError(usage + " expects numbers")
		return 0
	}
	v := L.ToInteger(i)
	if v < 0 || v > 0xFF {
		L.RaiseError(fmt.Sprintf("%s: %d is not a byte", usage, v))
		return 0
	}
	return byte(v)
}

// ParseCharacteristic maps a readable characteristic name to its identifier.
func ParseCharacteristic(name string) (cgm.Characteristic, error) {
	for _, c := range []cgm.Characteristic{cgm.CharFeature, cgm.CharStatus, cgm.CharStartTime, cgm.CharRunTime} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown characteristic %q", name)
}
