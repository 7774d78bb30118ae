package cli

import (
	"docrag/types"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	config     *types.Config
}

// NewRootCmd builds the docrag command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "docrag",
		Short:         "Ask questions about your documents",
		Long:          `Ingest PDFs and web pages, then answer questions grounded in their content.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := types.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg)
			opts.config = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
		newDocsCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}
