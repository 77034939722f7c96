package cmd

import (
	"context"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/ctlplane"
	"grimm.is/hostnet/internal/i18n"
)

// RunCommit keeps the changes of a pending checkpoint. Without an ID the
// active checkpoint is committed.
func RunCommit(configFile string, args []string) error {
	return runCheckpoint(configFile, args, "commit")
}

// RunRollback restores the state captured by a pending checkpoint.
func RunRollback(configFile string, args []string) error {
	return runCheckpoint(configFile, args, "rollback")
}

func runCheckpoint(configFile string, args []string, action string) error {
	if len(args) > 1 {
		return usageError("%s %s [CHECKPOINT]", brand.BinaryName, action)
	}
	id := ""
	if len(args) == 1 {
		id = args[0]
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return resolveCheckpoint(ctx, client, action, id)
}

func resolveCheckpoint(ctx context.Context, client ctlplane.ControlPlaneClient, action, id string) error {
	label := id
	if label == "" {
		label = "(active)"
	}
	if action == "commit" {
		if err := client.Commit(ctx, id); err != nil {
			return err
		}
		Printer.Fprintf(Stdout, i18n.MsgCommitted, label)
		return nil
	}
	if err := client.Rollback(ctx, id); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, i18n.MsgRolledBack, label)
	return nil
}
