// Package cmd implements the hostnet command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"grimm.is/hostnet/internal/config"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/i18n"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/schema"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// Stdout and Stderr are swapped out in tests.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return errkind.KindOf(err).ExitCode()
}

// PrintErr reports a failed command, including the diff of a
// verification failure.
func PrintErr(err error) {
	Printer.Fprintf(Stderr, "Error: %v\n", err)
	if diff := errkind.DiffOf(err); diff != "" {
		fmt.Fprint(Stderr, diff)
	}
}

// loadConfig reads the daemon configuration and sets up logging from it.
func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, errkind.Wrap(errkind.Value, err, "failed to load configuration")
	}
	initLogging(cfg)
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	logging.SetDefault(logging.New(logging.Config{
		Level:  level,
		Output: Stderr,
		JSON:   cfg.LogJSON,
	}))
}

// readDesired loads a desired state document; "-" reads stdin.
func readDesired(path string) (*schema.Document, error) {
	var (
		doc *schema.Document
		err error
	)
	if path == "-" {
		doc, err = schema.Load(os.Stdin, schema.FormatAuto)
	} else {
		doc, err = schema.LoadFile(path)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Value, err, "failed to read desired state")
	}
	return doc, nil
}

func usageError(format string, args ...any) error {
	return errkind.Valuef("usage: "+format, args...)
}
