package cmd

import (
	"context"
	"flag"
	"io"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/ctlplane"
)

// RunShow prints the current network state.
func RunShow(configFile string, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asJSON := fs.Bool("json", false, "Print JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		return usageError("%s show [--json] [IFACE...]: %v", brand.BinaryName, err)
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
	return show(ctx, client, *asJSON, fs.Args())
}

func show(ctx context.Context, client ctlplane.ControlPlaneClient, asJSON bool, names []string) error {
	doc, err := client.Show(ctx, names...)
	if err != nil {
		return err
	}
	var out []byte
	if asJSON {
		out, err = doc.JSON()
		out = append(out, '\n')
	} else {
		out, err = doc.YAML()
	}
	if err != nil {
		return err
	}
	_, err = Stdout.Write(out)
	return err
}
