package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var namespacesCmd = &cobra.Command{
	Use:     "namespaces",
	Aliases: []string{"ns"},
	Short:   "List namespaces, most recently active first",
	Args:    cobra.NoArgs,
	RunE:    runNamespaces,
}

func init() {
	rootCmd.AddCommand(namespacesCmd)
	namespacesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runNamespaces(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	nss, err := openLedger().Scanner.Namespaces()
	if err != nil {
		return ledgerExitError("Failed to list namespaces", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, nss)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	now := time.Now()
	_, _ = fmt.Fprintln(w, "NAMESPACE\tJOBS\tLAST ACTIVITY")
	for _, ns := range nss {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", ns.Name, ns.Count, relativeTime(ns.LastModified, now))
	}
	return nil
}
