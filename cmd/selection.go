package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/consoledeploy/internal/catalog"
	"github.com/xkilldash9x/consoledeploy/internal/config"
)

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("include", "", "comma separated site ids to process (catalog order is replaced by this order)")
	cmd.Flags().String("exclude", "", "comma separated site ids to skip")
}

// applySelectionFlags copies --include/--exclude onto the configuration. Setting both,
// from flags or config, is an error.
func applySelectionFlags(cmd *cobra.Command, cfg config.Interface) error {
	f := cmd.Flags()
	if f.Changed("include") {
		v, _ := f.GetString("include")
		cfg.SetBatchInclude(catalog.ParseIDList(v))
	}
	if f.Changed("exclude") {
		v, _ := f.GetString("exclude")
		cfg.SetBatchExclude(catalog.ParseIDList(v))
	}
	if len(cfg.Batch().Include) > 0 && len(cfg.Batch().Exclude) > 0 {
		return catalog.ErrIncludeExcludeConflict
	}
	return nil
}
