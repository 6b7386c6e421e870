package cmd

import (
	"github.com/spf13/cobra"

	"github.com/makeasinger/deckflow/internal/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [presentation_id]",
	Short: "Get the status of a presentation job",
	Long:  `Ask the service for the current lifecycle status of a presentation job (queued, processing, completed, failed) without attaching to its stream.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Client.Validate(); err != nil {
			return err
		}

		client := api.New(cfg.Client.BaseURL, cfg.Client.AuthToken, cfg.Client.RequestTimeout)
		status, err := client.FetchStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		cmd.Printf("%sID:%s      %s\n", colorDim, colorReset, status.PID)
		cmd.Printf("%sStatus:%s  %s\n", colorDim, colorReset, colorizeStatus(status.Status))
		if status.Error != "" {
			cmd.Printf("%sError:%s   %s%s%s\n", colorDim, colorReset, colorRed, status.Error, colorReset)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
