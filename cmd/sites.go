package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/consoledeploy/internal/catalog"
	"github.com/xkilldash9x/consoledeploy/internal/observability"
)

func newSitesCmd() *cobra.Command {
	sitesCmd := &cobra.Command{
		Use:   "sites [catalog]",
		Short: "List the sites a run would process, in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if err := applySelectionFlags(cmd, cfg); err != nil {
				return err
			}
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			sites, path, err := loadSites(cfg, arg, false, observability.GetLogger())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				data, err := catalog.Encode(sites)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			fmt.Fprintf(out, "%d sites from %s\n", len(sites), path)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for i, s := range sites {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, s.ID, s.URL)
			}
			return tw.Flush()
		},
	}
	addSelectionFlags(sitesCmd)
	sitesCmd.Flags().Bool("json", false, "print the selection as a catalog file")
	return sitesCmd
}
