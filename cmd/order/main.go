// Command order runs one order-service replica: the Raft consensus core,
// its durable bbolt store, and the HTTP surface clients and peers talk to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rshen/toyraft/internal/config"
	"github.com/rshen/toyraft/internal/orderservice"
	"github.com/rshen/toyraft/internal/raft"
	"github.com/rshen/toyraft/internal/telemetry"
	"github.com/rshen/toyraft/internal/transport"
)

func main() {
	var (
		configPath string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Run one replica of the Raft-replicated order service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, dataDir)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("TOYRAFT_CONFIG"), "YAML peer-table config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for this replica's bbolt database")

	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("order: fatal")
	}
}

func run(configPath, dataDir string) error {
	replicaID := config.EnvInt("ORDER_SERVER_ID", 0)
	if replicaID == 0 {
		return fmt.Errorf("order: ORDER_SERVER_ID must be set to 1, 2, or 3")
	}
	useRaft := config.EnvBool("USE_RAFT", true)
	_ = useRaft // USE_RAFT has no effect on the order replica: the commit path is always Raft and non-leader writes are always rejected.

	telemetry.Init(fmt.Sprintf("order-%d", replicaID))

	cfgFile, err := config.Load(configPath)
	if err != nil {
		return err
	}
	self, ok := cfgFile.PeerByID(replicaID)
	if !ok {
		return fmt.Errorf("order: replica id %d not present in peer table", replicaID)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	store, err := orderservice.Open(filepath.Join(dataDir, fmt.Sprintf("replica-%d.db", replicaID)))
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := transport.New(500 * time.Millisecond)
	peersByID := map[int]config.Peer{}
	var raftPeers []raft.Peer
	for _, p := range cfgFile.Peers {
		peersByID[p.ID] = p
		if p.ID == replicaID {
			continue
		}
		raftPeers = append(raftPeers, raft.NewHTTPPeer(p.ID, p.RaftAddr, httpClient))
	}

	metrics := telemetry.NewRaftMetrics(replicaID)
	rf, err := raft.Make(replicaID, raftPeers, store, store, raft.DefaultConfig())
	if err != nil {
		return err
	}

	svc := orderservice.NewService(replicaID, rf, store, peersByID, cfgFile.CatalogAddr, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rf.Run(ctx)

	srv := &http.Server{Addr: self.ClientAddr, Handler: svc.Router()}
	go func() {
		log.Info().Str("addr", self.ClientAddr).Int("replica_id", replicaID).Msg("order: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("order: http server stopped")
		}
	}()

	// Also serve the raft-to-raft surface (vote/append_entries) on the
	// configured raft address, which may differ from the client address.
	raftSrv := &http.Server{Addr: self.RaftAddr, Handler: svc.Router()}
	go func() {
		if self.RaftAddr == self.ClientAddr {
			return
		}
		log.Info().Str("addr", self.RaftAddr).Msg("order: raft transport listening")
		if err := raftSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("order: raft http server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("order: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = raftSrv.Shutdown(shutdownCtx)
	return nil
}
