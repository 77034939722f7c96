package cmd

import (
	"context"
	"flag"
	"io"
	"time"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/config"
	"grimm.is/hostnet/internal/ctlplane"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/i18n"
)

// RunApply applies a desired state file.
func RunApply(configFile string, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	noVerify := fs.Bool("no-verify", false, "Skip post-apply verification")
	noCommit := fs.Bool("no-commit", false, "Leave the checkpoint pending for a later commit or rollback")
	timeout := fs.Int("timeout", 0, "Checkpoint timeout in seconds (default from configuration)")
	memoryOnly := fs.Bool("memory-only", false, "Do not persist the change across reboots")
	if err := fs.Parse(args); err != nil {
		return usageError("%s apply [--no-verify] [--no-commit] [--timeout N] [--memory-only] FILE: %v", brand.BinaryName, err)
	}
	if fs.NArg() != 1 {
		return usageError("%s apply [--no-verify] [--no-commit] [--timeout N] [--memory-only] FILE", brand.BinaryName)
	}
	if *timeout < 0 {
		return errkind.Valuef("timeout must not be negative")
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	opts := applier.DefaultApplyOptions()
	opts.Verify = !*noVerify
	opts.Commit = !*noCommit
	opts.Persist = !*memoryOnly
	opts.Timeout = time.Duration(*timeout) * time.Second

	ctx := context.Background()
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return apply(ctx, client, cfg, fs.Arg(0), opts)
}

func apply(ctx context.Context, client ctlplane.ControlPlaneClient, cfg *config.Config, path string, opts applier.ApplyOptions) error {
	desired, err := readDesired(path)
	if err != nil {
		return err
	}

	res, err := client.Apply(ctx, desired, opts)
	if err != nil {
		if res != nil && res.RolledBack && errkind.Is(err, errkind.Verification) {
			Printer.Fprintf(Stderr, i18n.MsgVerifyFailed)
		}
		return err
	}

	if res.GlobalDNS {
		Printer.Fprintf(Stdout, i18n.MsgGlobalDNSActive)
	}
	switch {
	case !res.Changed:
		Printer.Fprintf(Stdout, i18n.MsgNoChanges)
	case res.CheckpointID != "":
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = cfg.CheckpointTimeout()
		}
		Printer.Fprintf(Stdout, i18n.MsgCheckpointOpen, res.CheckpointID, timeout)
	default:
		Printer.Fprintf(Stdout, i18n.MsgApplied)
	}
	return nil
}
