package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded presentations",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	recs, err := a.controller.GetAllRecords(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSEGMENTS\tSTORE URL\tSOURCE")
	for _, rec := range recs {
		count, err := a.store.CountSegments(rec.ID)
		if err != nil {
			count = 0
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.Status, count, rec.StoreURL, rec.OriginalURL)
	}
	return w.Flush()
}
