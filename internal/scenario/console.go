package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// Console is a line-oriented Lua prompt over a terminal. Every line is run as
// a chunk and the records it produced are echoed back.
type Console struct {
	engine   *Engine
	recorder *Recorder
	terminal *term.Terminal
}

func NewConsole(engine *Engine, recorder *Recorder, rw io.ReadWriter, prompt string) *Console {
	return &Console{
		engine:   engine,
		recorder: recorder,
		terminal: term.NewTerminal(rw, prompt),
	}
}

// Run serves the prompt until "exit", end of input or ctx is done. Script
// errors are printed and do not end the session.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.terminal, "cgmsim console: Lua statements against the cgm table, 'exit' quits")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := c.terminal.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("console: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		runErr := c.engine.Run(ctx, line, "console")
		for _, rec := range c.recorder.Drain() {
			fmt.Fprintln(c.terminal, FormatRecord(rec, nil))
		}
		var scriptErr *ScriptError
		if runErr != nil && !errors.As(runErr, &scriptErr) {
			return runErr
		}
	}
}

// FormatRecord renders rec as one transcript line. paint, when set, decorates
// the padded kind column.
func FormatRecord(rec Record, paint func(kind Kind, column string) string) string {
	kind := fmt.Sprintf("%-8s", rec.Kind)
	if paint != nil {
		kind = paint(rec.Kind, kind)
	}
	payload := strings.ToUpper(fmt.Sprintf("%x", rec.Payload))
	return fmt.Sprintf("%s  %s  %-12s  %s", rec.Time.Format("15:04:05.000"), kind, payload, rec.Text)
}
