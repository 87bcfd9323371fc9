// Command catalog runs the product catalog: the authoritative stock table
// and the periodic restock job.
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

	"github.com/rshen/toyraft/internal/catalog"
	"github.com/rshen/toyraft/internal/config"
	"github.com/rshen/toyraft/internal/telemetry"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Run the product catalog service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("TOYRAFT_CONFIG"), "YAML peer-table config file")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("catalog: fatal")
	}
}

func run(configPath string) error {
	telemetry.Init("catalog")

	cfgFile, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store := catalog.NewStore()
	svc := catalog.NewService(store, cfgFile.FrontendAddr)
	job := catalog.NewRestockJob(store, svc, []string{"Tux", "Uno", "Clue"}, 10, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Run(ctx)

	addr := cfgFile.CatalogAddr
	if addr == "" {
		addr = ":8001"
	}
	srv := &http.Server{Addr: addr, Handler: svc.Router()}
	go func() {
		log.Info().Str("addr", addr).Msg("catalog: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("catalog: http server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("catalog: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
