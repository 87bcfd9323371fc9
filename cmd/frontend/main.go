// Command frontend runs the request router and product cache: the single
// entry point clients talk to.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rshen/toyraft/internal/config"
	"github.com/rshen/toyraft/internal/frontend"
	"github.com/rshen/toyraft/internal/telemetry"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "frontend",
		Short: "Run the frontend router and product cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("TOYRAFT_CONFIG"), "YAML peer-table config file")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("frontend: fatal")
	}
}

func run(configPath string) error {
	telemetry.Init("frontend")

	useRaft := config.EnvBool("USE_RAFT", true)
	useCache := config.EnvBool("USE_CACHE", true)

	cfgFile, err := config.Load(configPath)
	if err != nil {
		return err
	}

	router := frontend.NewRouter(cfgFile.Peers, useRaft)
	cache := frontend.NewCache(5)
	svc := frontend.NewService(cache, router, cfgFile.CatalogAddr, useCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !useRaft {
		if _, err := router.DiscoverClassicalLeader(ctx, 3); err != nil {
			log.Warn().Err(err).Msg("frontend: classical leader discovery did not converge at startup")
		}
	}

	addr := cfgFile.FrontendAddr
	if addr == "" {
		addr = ":8000"
	}
	srv := &http.Server{Addr: addr, Handler: svc.Router()}
	go func() {
		log.Info().Str("addr", addr).Msg("frontend: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("frontend: http server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("frontend: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
