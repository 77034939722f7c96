package cmd

import (
	"context"
	"fmt"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/ctlplane"
	"grimm.is/hostnet/internal/i18n"
)

// RunDiff shows what applying a desired state file would change.
func RunDiff(configFile string, args []string) error {
	if len(args) != 1 {
		return usageError("%s diff FILE", brand.BinaryName)
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
	return diff(ctx, client, args[0])
}

func diff(ctx context.Context, client ctlplane.ControlPlaneClient, path string) error {
	desired, err := readDesired(path)
	if err != nil {
		return err
	}
	text, err := client.Diff(ctx, desired)
	if err != nil {
		return err
	}
	if text == "" {
		Printer.Fprintf(Stdout, i18n.MsgNoChanges)
		return nil
	}
	fmt.Fprint(Stdout, text)
	return nil
}
