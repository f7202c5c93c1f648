package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/api"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API used by the dashboard",
	Long: `Serve exposes projects, days, per-day aggregation and the published
percentile tables as JSON, plus Prometheus metrics:

  GET /healthz
  GET /metrics
  GET /api/projects
  GET /api/projects/{project}/days
  GET /api/projects/{project}/days/{day}/aggregate?rule=1min&stat=mean&max_points=5000
  GET /api/projects/{project}/stats
  GET /api/projects/{project}/calendar/{date}

Requests with nothing to show answer 404 {"error":"no data for this period"}.

With the s3 backend serve does not open the local database, so recompute
can run on the same host. With the bolt backend it opens the database
read-only; run recompute while serve is stopped.`,
	Example: `  meterstat serve
  meterstat serve --listen 127.0.0.1:9000 --backend bolt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildReaderDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		addr := deps.Config.Listen
		if serveListen != "" {
			addr = serveListen
		}

		s := api.New(deps.Store, deps.Logger, deps.Metrics)
		s.Breaker = deps.Guard.State
		s.Version = Version

		srv := &http.Server{
			Addr:              addr,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signalContext()
		defer stop()

		errc := make(chan error, 1)
		go func() {
			deps.Logger.Info().Str("addr", addr).Str("backend", deps.Config.Backend).Msg("serving")
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		deps.Logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default: listen from config, :8080)")
}
