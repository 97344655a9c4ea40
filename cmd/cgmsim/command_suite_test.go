package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/srg/cgmsim/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs rootCmd in-process and resets every flag between tests.
// Command suites embed it.
type CommandTestSuite struct {
	suite.Suite
	text *testutils.TextAsserter
	json *testutils.JSONAsserter
}

func (s *CommandTestSuite) SetupTest() {
	s.text = testutils.NewTextAsserter(s.T())
	s.json = testutils.NewJSONAsserter(s.T())
	resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	resetFlags()
}

// ExecuteCommand runs the CLI with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// ExecuteWithInput runs the CLI with input on stdin.
func (s *CommandTestSuite) ExecuteWithInput(input string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// WriteFile creates a file in a per-test directory and returns its path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

// resetFlags restores every command flag to its default, because cobra keeps
// parsed values in package variables between executions.
func resetFlags() {
	_ = rootCmd.PersistentFlags().Set("config", "")
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = serveCmd.Flags().Set("verbose", "false")
	_ = simulateCmd.Flags().Set("verbose", "false")
	_ = consoleCmd.Flags().Set("verbose", "false")
	consolePTY = false

	decodeJSON = false
	decodeResponse = false
	tableJSON = false

	serveName = ""
	serveMetricsAddr = ""
	serveShutdown = 5 * time.Second

	simulateFlags = simulateOptions{
		Duration:    10 * time.Second,
		SetInterval: -1,
		BufferSize:  4096,
	}
}
