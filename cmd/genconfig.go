package cmd

import (
	"context"
	"sort"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/ctlplane"
)

// RunGenConfig renders a desired state file into backend configuration
// without reading or changing the host.
func RunGenConfig(configFile string, args []string) error {
	if len(args) != 1 {
		return usageError("%s gen-config FILE", brand.BinaryName)
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, false)
	if err != nil {
		return err
	}
	client := ctlplane.NewLocalClient(eng.applier, eng.Close)
	defer client.Close()
	return genConfig(context.Background(), client, args[0])
}

func genConfig(ctx context.Context, client ctlplane.ControlPlaneClient, path string) error {
	desired, err := readDesired(path)
	if err != nil {
		return err
	}
	configs, err := client.GenerateConfig(ctx, desired)
	if err != nil {
		return err
	}
	printConfigs(configs)
	return nil
}

// printConfigs writes each target under a comment header, in name order.
func printConfigs(configs map[string][]string) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			Printer.Fprintln(Stdout)
		}
		Printer.Fprintf(Stdout, "# %s\n", name)
		for _, line := range configs[name] {
			Printer.Fprintln(Stdout, line)
		}
	}
}
