package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/scheduler"
)

var (
	watchFile string
	watchOnce bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically re-discover the seeds in a watch list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if watchFile != "" {
			cfg.Watch.File = watchFile
		}
		list, err := scheduler.LoadSeeds(cfg.Watch.File)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		s := scheduler.New(env.Pipeline, list)
		if watchOnce {
			sum := s.RunOnce(ctx)
			zap.L().Info("watch pass finished",
				zap.Int("completed", sum.Completed),
				zap.Int("skipped", sum.Skipped),
				zap.Int("failed", sum.Failed),
			)
			return nil
		}

		if cfg.Watch.RunOnStart {
			s.RunOnce(ctx)
		}
		if err := s.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		<-s.Stop().Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFile, "file", "", "watch list YAML (default from config)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run every seed once and exit")
	rootCmd.AddCommand(watchCmd)
}
