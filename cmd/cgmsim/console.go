package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/cgmsim/internal/ptyio"
	"github.com/srg/cgmsim/internal/scenario"
	"github.com/srg/cgmsim/pkg/config"
	"golang.org/x/term"
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive the simulated CGM interactively from a Lua prompt",
	Long: `Starts the simulator on a simulated clock and reads Lua statements line by
line. Statements use the same cgm table as simulate --script.

Examples:
  # Prompt on this terminal
  cgmsim console

  # Expose the prompt on a pseudo-terminal and attach with a serial client
  cgmsim console --pty
  screen /dev/pts/3

At the prompt:
  cgm> cgm.enable()
  cgm> cgm.advance(5000)
  cgm> cgm.set_interval(251)
  cgm> exit`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

var consolePTY bool

func init() {
	consoleCmd.Flags().BoolVar(&consolePTY, "pty", false, "Serve the prompt on a new pseudo-terminal")
	consoleCmd.Flags().BoolP("verbose", "V", false, "Enable debug logging")
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	if consolePTY {
		pair, err := ptyio.Open()
		if err != nil {
			return err
		}
		defer pair.Close()
		// Closing the pair unblocks the pending read on interrupt.
		stop := context.AfterFunc(ctx, func() { _ = pair.Close() })
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Console available at %s\n", pair.Name())
		return runConsoleSession(ctx, pair, cfg, logger)
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("failed to set terminal to raw mode: %w", err)
		}
		defer func() { _ = term.Restore(int(f.Fd()), state) }()
	}

	rw := struct {
		io.Reader
		io.Writer
	}{in, cmd.OutOrStdout()}
	return runConsoleSession(ctx, rw, cfg, logger)
}

func runConsoleSession(ctx context.Context, rw io.ReadWriter, cfg *config.Config, logger *logrus.Logger) error {
	opts, err := cfg.ServiceOptions()
	if err != nil {
		return err
	}

	recorder := scenario.NewRecorder(1024, func(err error) {
		logger.WithError(err).Warn("Console record lost")
	})
	h, err := scenario.NewHarness(ctx, opts, recorder, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.WithError(err).Warn("Simulator shutdown failed")
		}
	}()

	engine := scenario.NewEngine(h, recorder, logger)
	defer engine.Close()

	err = scenario.NewConsole(engine, recorder, rw, "cgm> ").Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
