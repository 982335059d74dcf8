package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/karaoke-scout/internal/review"
)

const shutdownGrace = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	Long:  "Serves the review API and runs submitted seeds in the background. On shutdown, in-flight runs are cancelled and stage what they extracted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		runner := env.Pipeline.Background(gctx)
		srv := &http.Server{
			Addr: net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
			Handler: review.NewHandler(review.NewGateway(env.Store), runner, review.HandlerOptions{
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			zap.L().Info("review api listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "serve")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down review api")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})

		err = g.Wait()
		runner.Wait()
		zap.L().Info("background runs finished")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default server.port)")
	rootCmd.AddCommand(serveCmd)
}
