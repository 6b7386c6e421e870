package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/makeasinger/deckflow/internal/config"
	"github.com/makeasinger/deckflow/internal/session"
	"github.com/makeasinger/deckflow/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch [presentation_id]",
	Short: "Follow a presentation job until it finishes",
	Long: `Attach to a presentation job and print its narration and slides as they arrive.

Queued jobs are started, running jobs are caught up from history before the
live stream takes over, and finished jobs are printed from history alone.
The command exits non-zero when the job fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, zl, err := loadConfig()
		if err != nil {
			return err
		}
		defer zl.Sync()

		ctx := cmd.Context()
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		deps := session.Deps{Logger: zl.Named("session")}
		if cfg.Store.Backend == "redis" {
			rdb := newRedisClient(cfg)
			defer rdb.Close()
			deps.Store = store.NewRedis(rdb, cfg.Store.TTL, zl.Named("store"))
		}

		s := session.New(cfg, deps)
		defer s.Close()

		updates, unsubscribe := s.Subscribe()
		defer unsubscribe()

		if err := s.Initialize(ctx, args[0]); err != nil {
			return err
		}

		printer := newViewPrinter(cmd.OutOrStdout())
		view := s.View()
		printer.render(view)
		for !view.Phase.Terminal() {
			select {
			case v, ok := <-updates:
				if !ok {
					return session.ErrClosed
				}
				view = v
				printer.render(view)
			case <-ctx.Done():
				return fmt.Errorf("stopped watching %s: %w", args[0], ctx.Err())
			}
		}
		return view.Err()
	},
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func init() {
	watchCmd.Flags().Duration("timeout", 0, "give up after this long (0 waits until the job finishes)")
	watchCmd.Flags().String("store", "", "state store backend (memory or redis)")

	rootCmd.AddCommand(watchCmd)
}
