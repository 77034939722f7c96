package cmd

import (
	"context"
	"flag"
	"io"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/ctlplane"
)

// RunCheck validates the configuration and, when given, a desired state
// file. Nothing on the host is read or changed.
func RunCheck(configFile string, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	verbose := fs.Bool("verbose", false, "Print the operations the desired state renders to")
	fs.BoolVar(verbose, "v", false, "Verbose output (short)")
	if err := fs.Parse(args); err != nil {
		return usageError("%s check [-v] [FILE]: %v", brand.BinaryName, err)
	}
	if fs.NArg() > 1 {
		return usageError("%s check [-v] [FILE]", brand.BinaryName)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Configuration valid!\n")
	Printer.Fprintf(Stdout, "Schema Version: %s\n", cfg.SchemaVersion)
	Printer.Fprintf(Stdout, "State Directory: %s\n", cfg.StateDir)
	Printer.Fprintf(Stdout, "Checkpoint Timeout: %s\n", cfg.CheckpointTimeout())

	if fs.NArg() == 0 {
		return nil
	}

	eng, err := newEngine(cfg, false)
	if err != nil {
		return err
	}
	client := ctlplane.NewLocalClient(eng.applier, eng.Close)
	defer client.Close()
	return checkDesired(context.Background(), client, fs.Arg(0), *verbose)
}

func checkDesired(ctx context.Context, client ctlplane.ControlPlaneClient, path string, verbose bool) error {
	desired, err := readDesired(path)
	if err != nil {
		return err
	}
	configs, err := client.GenerateConfig(ctx, desired)
	if err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Desired state valid: %d interface(s)\n", len(desired.Interfaces))
	if verbose {
		Printer.Fprintln(Stdout)
		printConfigs(configs)
	}
	return nil
}
