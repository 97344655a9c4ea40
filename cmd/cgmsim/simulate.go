package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/cgmsim"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/scenario"
	"github.com/srg/cgmsim/pkg/config"
	"golang.org/x/term"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the CGM against a simulated collector on a simulated clock",
	Long: `Runs the CGM service in-process with a simulated collector. Time is
simulated, so long sessions complete instantly and print the same output on
every run.

Without --script the collector subscribes to measurements, optionally sends
SET_INTERVAL/GET_INTERVAL, and lets --duration of simulated time pass.

Examples:
  # Ten simulated seconds at the default period
  cgmsim simulate

  # Switch to a 5 second interval (operand 5) and read it back
  cgmsim simulate --duration 1m --set-interval 5 --get-interval

  # Run a Lua scenario and emit JSON
  cgmsim simulate --script my-scenario.lua --json

  # Run a built-in scenario (interval, pause, session)
  cgmsim simulate --script pause

Scenario scripts drive the collector through the global cgm table:
  cgm.enable(), cgm.disable(), cgm.set_interval(b), cgm.get_interval(),
  cgm.control(b, ...), cgm.advance(ms), cgm.read(name), cgm.hex(s),
  cgm.write_start_time(y, mo, d, h, mi, s, tz, dst), cgm.elapsed()`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

// simulateOptions are the flag values of one simulate run.
type simulateOptions struct {
	Duration    time.Duration
	SetInterval int
	GetInterval bool
	Script      string
	JSON        bool
	History     bool
	BufferSize  uint32
	Color       bool
}

var simulateFlags = simulateOptions{}

func init() {
	simulateCmd.Flags().DurationVar(&simulateFlags.Duration, "duration", 10*time.Second, "Simulated time to run (ignored with --script)")
	simulateCmd.Flags().IntVar(&simulateFlags.SetInterval, "set-interval", -1, "Send SET_INTERVAL with this operand byte (0 pauses, 1-255 seconds)")
	simulateCmd.Flags().BoolVar(&simulateFlags.GetInterval, "get-interval", false, "Send GET_INTERVAL after subscribing")
	simulateCmd.Flags().StringVar(&simulateFlags.Script, "script", "", "Lua scenario file or built-in scenario name")
	simulateCmd.Flags().BoolVar(&simulateFlags.JSON, "json", false, "Emit the transcript as JSON")
	simulateCmd.Flags().BoolVar(&simulateFlags.History, "history", false, "Print the measurement history at the end")
	simulateCmd.Flags().Uint32Var(&simulateFlags.BufferSize, "buffer", 4096, "Transcript records kept; older records are dropped")
	simulateCmd.Flags().BoolP("verbose", "V", false, "Enable debug logging")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The transcript is the output; logs stay quiet unless asked for.
	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return err
	}

	opts := simulateFlags
	if opts.SetInterval > 0xFF {
		return fmt.Errorf("--set-interval must be in 0..255, got %d", opts.SetInterval)
	}
	if opts.Duration < 0 {
		return fmt.Errorf("--duration must not be negative, got %s", opts.Duration)
	}

	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	opts.Color = !opts.JSON && isTerminal(out)

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	return simulate(ctx, out, cfg, opts, logger)
}

// simulation is the result of one run.
type simulation struct {
	Records     []scenario.Record
	History     []cgm.MeasurementRecord
	Elapsed     time.Duration
	Overwritten int64
}

func simulate(ctx context.Context, out io.Writer, cfg *config.Config, opts simulateOptions, logger *logrus.Logger) error {
	result, runErr := runScenario(ctx, cfg, opts, logger)
	if result == nil {
		return runErr
	}

	var err error
	if opts.JSON {
		err = writeSimulationJSON(out, result, opts.History)
	} else {
		err = writeSimulationText(out, result, opts.History, opts.Color)
	}
	if runErr != nil {
		return runErr
	}
	return err
}

// runScenario executes the scenario and collects the transcript. A script
// failure still returns the partial transcript alongside the error.
func runScenario(ctx context.Context, cfg *config.Config, opts simulateOptions, logger *logrus.Logger) (*simulation, error) {
	svcOpts, err := cfg.ServiceOptions()
	if err != nil {
		return nil, err
	}

	recorder := scenario.NewRecorder(opts.BufferSize, func(err error) {
		logger.WithError(err).Warn("Transcript record lost")
	})
	h, err := scenario.NewHarness(ctx, svcOpts, recorder, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.WithError(err).Warn("Simulator shutdown failed")
		}
	}()

	var runErr error
	if opts.Script != "" {
		script, name, err := loadScript(opts.Script)
		if err != nil {
			return nil, err
		}
		engine := scenario.NewEngine(h, recorder, logger)
		runErr = engine.Run(ctx, script, name)
		engine.Close()
	} else {
		runErr = runDefaultScenario(ctx, h, opts)
	}

	result := &simulation{Elapsed: h.Elapsed()}
	if opts.History {
		history, err := h.Service().History(ctx)
		if err != nil && runErr == nil {
			runErr = err
		}
		result.History = history
	}
	result.Records = recorder.Drain()
	result.Overwritten = recorder.Overwritten()
	return result, runErr
}

// loadScript reads a scenario file, falling back to the built-in scenario of
// that name.
func loadScript(ref string) (script, name string, err error) {
	content, readErr := os.ReadFile(ref)
	if readErr == nil {
		return string(content), ref, nil
	}
	if builtin, ok := cgmsim.Scenario(ref); ok {
		return builtin, "builtin:" + ref, nil
	}
	return "", "", fmt.Errorf("failed to read scenario %s (built-in scenarios: %s): %w",
		ref, strings.Join(cgmsim.Scenarios(), ", "), readErr)
}

func runDefaultScenario(ctx context.Context, h *scenario.Harness, opts simulateOptions) error {
	if err := h.Enable(ctx); err != nil {
		return err
	}
	if opts.SetInterval >= 0 {
		if err := h.Control(ctx, []byte{byte(cgm.OpSetInterval), byte(opts.SetInterval)}); err != nil {
			return err
		}
	}
	if opts.GetInterval {
		if err := h.Control(ctx, []byte{byte(cgm.OpGetInterval)}); err != nil {
			return err
		}
	}
	return h.Advance(ctx, opts.Duration)
}

func writeSimulationText(w io.Writer, result *simulation, withHistory, useColor bool) error {
	kindColors := map[scenario.Kind]*color.Color{
		scenario.KindNotify:   color.New(color.FgGreen),
		scenario.KindIndicate: color.New(color.FgCyan),
		scenario.KindPrint:    color.New(color.FgWhite),
		scenario.KindError:    color.New(color.FgRed, color.Bold),
	}
	for _, c := range kindColors {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	paint := func(kind scenario.Kind, column string) string {
		if c, ok := kindColors[kind]; ok {
			return c.Sprint(column)
		}
		return column
	}

	var sb strings.Builder
	for _, rec := range result.Records {
		sb.WriteString(scenario.FormatRecord(rec, paint))
		sb.WriteString("\n")
	}

	if withHistory {
		fmt.Fprintf(&sb, "\nHistory (%d records):\n", len(result.History))
		for _, m := range result.History {
			fmt.Fprintf(&sb, "  concentration=%d time_offset=%d\n", m.Concentration, m.TimeOffset)
		}
	}

	fmt.Fprintf(&sb, "\n%d records in %s simulated", len(result.Records), result.Elapsed)
	if result.Overwritten > 0 {
		fmt.Fprintf(&sb, " (%d older records dropped)", result.Overwritten)
	}
	sb.WriteString("\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

type jsonRecord struct {
	Time    time.Time     `json:"time"`
	Kind    scenario.Kind `json:"kind"`
	Payload string        `json:"payload,omitempty"`
	Text    string        `json:"text"`
}

type jsonMeasurement struct {
	Concentration uint16 `json:"concentration"`
	TimeOffset    uint16 `json:"time_offset"`
}

type jsonSimulation struct {
	ElapsedMs   int64             `json:"elapsed_ms"`
	Records     []jsonRecord      `json:"records"`
	History     []jsonMeasurement `json:"history,omitempty"`
	Overwritten int64             `json:"overwritten"`
}

func writeSimulationJSON(w io.Writer, result *simulation, withHistory bool) error {
	doc := jsonSimulation{
		ElapsedMs:   result.Elapsed.Milliseconds(),
		Records:     make([]jsonRecord, 0, len(result.Records)),
		Overwritten: result.Overwritten,
	}
	for _, rec := range result.Records {
		doc.Records = append(doc.Records, jsonRecord{
			Time:    rec.Time.UTC(),
			Kind:    rec.Kind,
			Payload: strings.ToUpper(hex.EncodeToString(rec.Payload)),
			Text:    rec.Text,
		})
	}
	if withHistory {
		doc.History = make([]jsonMeasurement, 0, len(result.History))
		for _, m := range result.History {
			doc.History = append(doc.History, jsonMeasurement{Concentration: m.Concentration, TimeOffset: m.TimeOffset})
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
