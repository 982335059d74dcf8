package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
)

var runReq model.RunRequest

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover and extract karaoke shows from one seed URL",
	Long:  "Runs discovery, extraction and aggregation for a seed and stages the result for review. Interrupting the run still stages whatever was extracted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		ps, err := env.Pipeline.Run(ctx, runReq)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		shows := 0
		if ps.AIAnalysis != nil {
			shows = len(ps.AIAnalysis.Shows)
		}
		zap.L().Info("run staged for review",
			zap.String("id", ps.ID),
			zap.String("url", ps.URL),
			zap.Int("shows", shows),
			zap.Int("peak_concurrency", env.Pool.PeakConcurrency()),
		)

		// Print the staged record to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ps)
	},
}

func init() {
	runCmd.Flags().StringVar(&runReq.URL, "url", "", "seed URL: a venue or vendor site, or a social-media group (required)")
	runCmd.Flags().StringVar(&runReq.Mode, "mode", "", "discovery mode: auto, website or social_group (default auto)")
	runCmd.Flags().IntVar(&runReq.MaxDepth, "max-depth", 0, "link hops to follow from the seed (default from config)")
	runCmd.Flags().IntVar(&runReq.MaxUnits, "max-units", 0, "maximum content units to extract (default from config)")
	runCmd.Flags().BoolVar(&runReq.IncludeSubdomains, "include-subdomains", false, "also follow links to subdomains of the seed host")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}
