package main

import (
	"flag"
	"os"

	"grimm.is/hostnet/cmd"
	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	globalFlags := flag.NewFlagSet(brand.BinaryName, flag.ExitOnError)
	configFile := globalFlags.String("config", brand.GetConfigFile(), "Configuration file")
	globalFlags.StringVar(configFile, "c", brand.GetConfigFile(), "Configuration file (short)")
	globalFlags.Usage = printUsage
	globalFlags.Parse(os.Args[1:])

	args := globalFlags.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	command, rest := args[0], args[1:]

	var err error
	switch command {
	case "apply":
		err = cmd.RunApply(*configFile, rest)

	case "show":
		err = cmd.RunShow(*configFile, rest)

	case "commit":
		err = cmd.RunCommit(*configFile, rest)

	case "rollback":
		err = cmd.RunRollback(*configFile, rest)

	case "gen-config":
		err = cmd.RunGenConfig(*configFile, rest)

	case "diff":
		err = cmd.RunDiff(*configFile, rest)

	case "check":
		err = cmd.RunCheck(*configFile, rest)

	case "history":
		err = cmd.RunHistory(*configFile, rest)

	case "status":
		err = cmd.RunStatus(*configFile)

	case "ctl":
		// Privileged control plane daemon
		err = cmd.RunCtl(*configFile)

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Commit: %s\n", brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		cmd.PrintErr(err)
		os.Exit(cmd.ExitCode(err))
	}
}

func printUsage() {
	printer.Fprintf(os.Stderr, "%s - %s\n\n", brand.Name, brand.Description)
	printer.Fprintf(os.Stderr, "Usage: %s [-c CONFIG] <command> [arguments]\n\n", brand.BinaryName)
	printer.Fprintf(os.Stderr, "Commands:\n")
	printer.Fprintf(os.Stderr, "  apply [--no-verify] [--no-commit] [--timeout N] [--memory-only] FILE\n")
	printer.Fprintf(os.Stderr, "                      Apply a desired state file (\"-\" reads stdin)\n")
	printer.Fprintf(os.Stderr, "  show [--json] [IFACE...]\n")
	printer.Fprintf(os.Stderr, "                      Print the current state\n")
	printer.Fprintf(os.Stderr, "  commit [CHECKPOINT] Keep the changes of a pending checkpoint\n")
	printer.Fprintf(os.Stderr, "  rollback [CHECKPOINT]\n")
	printer.Fprintf(os.Stderr, "                      Restore the state captured by a pending checkpoint\n")
	printer.Fprintf(os.Stderr, "  gen-config FILE     Render a desired state file without touching the host\n")
	printer.Fprintf(os.Stderr, "  diff FILE           Show what applying a desired state file would change\n")
	printer.Fprintf(os.Stderr, "  check [-v] [FILE]   Validate the configuration and a desired state file\n")
	printer.Fprintf(os.Stderr, "  history [--json]    List recorded apply sessions\n")
	printer.Fprintf(os.Stderr, "  status              Show the loaded backends\n")
	printer.Fprintf(os.Stderr, "  ctl                 Run the control plane daemon\n")
	printer.Fprintf(os.Stderr, "  version             Print the version\n")
}
