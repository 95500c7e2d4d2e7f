package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.4.0"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "psql-cli",
		Short:         "Out-of-band PostgreSQL hotspots reports from Cloud Monitoring history",
		Long: `psql-cli builds a point-in-time diagnostic report for a managed PostgreSQL
instance from the monitoring backend's historical metrics. It never connects
to the database itself.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGenerateCommand())
	return root
}
