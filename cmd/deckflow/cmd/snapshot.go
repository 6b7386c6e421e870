package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/makeasinger/deckflow/internal/store"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [presentation_id]",
	Short: "Print the last persisted session state of a job",
	Long:  `Read the session state that a watch run with the redis store last wrote for a job and print it as JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		rdb := newRedisClient(cfg)
		defer rdb.Close()

		state, err := store.Persisted(cmd.Context(), rdb, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
