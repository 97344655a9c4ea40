package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/cgmsim/internal/gattdb"
)

// tableCmd represents the table command
var tableCmd = &cobra.Command{
	Use:   "table [service-uuid]",
	Short: "Print the attribute table served by the simulator",
	Long: `Lists the services and characteristics the peripheral publishes.

Examples:
  # Whole table
  cgmsim table

  # Characteristics of the CGM service only
  cgmsim table 181f

  # Machine readable
  cgmsim table --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTable,
}

var tableJSON bool

func init() {
	tableCmd.Flags().BoolVar(&tableJSON, "json", false, "Output as JSON")
}

func runTable(cmd *cobra.Command, args []string) error {
	entries := gattdb.Entries()
	if len(args) == 1 {
		svc, ok := gattdb.Lookup(args[0])
		if !ok || svc.Kind != gattdb.Service {
			return fmt.Errorf("unknown service %q", args[0])
		}
		entries = append([]gattdb.Entry{svc}, gattdb.Characteristics(svc.UUID)...)
	}

	cmd.SilenceUsage = true

	if tableJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}
	return displayAttributeTable(cmd.OutOrStdout(), entries)
}

func displayAttributeTable(out io.Writer, entries []gattdb.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tNAME\tPROPERTIES")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, e := range entries {
		if e.Kind == gattdb.Service {
			fmt.Fprintf(w, "%s\t%s\t\n", e.UUID, e.Name)
			continue
		}
		fmt.Fprintf(w, "  %s\t  %s\t%s\n", e.UUID, e.Name, strings.Join(e.Properties, ","))
	}

	return w.Flush()
}
