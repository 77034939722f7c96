package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"strings"
	"text/tabwriter"

	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/ctlplane"
)

// RunStatus prints the loaded backends.
func RunStatus(configFile string) error {
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
	return status(ctx, client)
}

func status(ctx context.Context, client ctlplane.ControlPlaneClient) error {
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "%s version %s\n\n", brand.Name, st.Version)

	w := tabwriter.NewWriter(Stdout, 0, 0, 2, ' ', 0)
	Printer.Fprintf(w, "PLUGIN\tPRIORITY\tROLE\tCAPABILITIES\n")
	for _, p := range st.Plugins {
		role := "primary"
		if p.Supplemental {
			role = "supplemental"
		}
		var caps []string
		if p.Capabilities.OVS {
			caps = append(caps, "ovs")
		}
		if p.Capabilities.TeamDevices {
			caps = append(caps, "team")
		}
		if p.Capabilities.GlobalDNS {
			caps = append(caps, "global-dns")
		}
		Printer.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Name, p.Priority, role, strings.Join(caps, ","))
	}
	return w.Flush()
}

// RunHistory lists recorded apply sessions.
func RunHistory(configFile string, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return usageError("%s history [--json]: %v", brand.BinaryName, err)
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
	return history(ctx, client, *asJSON)
}

func history(ctx context.Context, client ctlplane.ControlPlaneClient, asJSON bool) error {
	records, err := client.History(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(Stdout, 0, 0, 2, ' ', 0)
	Printer.Fprintf(w, "TIME\tRESULT\tINTERFACES\tERROR\n")
	for _, rec := range records {
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Time.Local().Format("2006-01-02 15:04:05"),
			rec.Result,
			strings.Join(rec.Interfaces, ","),
			rec.Error)
	}
	return w.Flush()
}
