package frontend

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rshen/toyraft/internal/config"
	"github.com/rshen/toyraft/internal/transport"
)

// Router tracks which order replica to send writes to. In classical mode
// it polls replicas by descending id at startup and adopts the first
// responsive one, informing the others, and follows a 503's Leader-Endpoint
// hint on later attempts. In Raft mode it picks a replica at random per
// attempt; a recorded Leader-Endpoint hint is not consulted.
type Router struct {
	peers   []config.Peer
	useRaft bool
	client  *transport.Client

	mu       sync.Mutex
	leaderID int // -1 = unknown
}

// NewRouter builds a Router over the fixed order-replica peer set.
func NewRouter(peers []config.Peer, useRaft bool) *Router {
	return &Router{peers: peers, useRaft: useRaft, client: transport.New(2 * time.Second), leaderID: -1}
}

// Candidate returns the replica the router believes should handle the next
// write: the known leader in classical mode, or a random pick in Raft
// mode (so repeated retries fan out across the cluster).
func (r *Router) Candidate() config.Peer {
	if !r.useRaft {
		r.mu.Lock()
		id := r.leaderID
		r.mu.Unlock()
		if id >= 0 {
			if p, ok := peerByID(r.peers, id); ok {
				return p
			}
		}
	}
	return r.peers[rand.Intn(len(r.peers))]
}

// OnForwardFailure is called after an attempt against candidate fails or
// is rejected as non-leader, so the router can adjust its belief before
// the next retry. leaderHint is the Leader-Endpoint value from a 503, if
// any.
func (r *Router) OnForwardFailure(leaderHint string) {
	if leaderHint == "" {
		return
	}
	if p, ok := peerByClientAddr(r.peers, leaderHint); ok {
		r.mu.Lock()
		r.leaderID = p.ID
		r.mu.Unlock()
	}
}

// DiscoverClassicalLeader implements the classical-mode startup protocol:
// poll replicas by descending id, adopt the first that answers /healthz,
// inform the others, retrying up to maxAttempts times with a 3s back-off
// if the whole sweep fails.
func (r *Router) DiscoverClassicalLeader(ctx context.Context, maxAttempts int) (config.Peer, error) {
	candidates := append([]config.Peer(nil), r.peers...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID > candidates[j].ID })

	for attempt := 0; attempt < maxAttempts; attempt++ {
		for _, p := range candidates {
			if r.healthy(ctx, p) {
				r.mu.Lock()
				r.leaderID = p.ID
				r.mu.Unlock()
				r.informPeers(ctx, p, candidates)
				return p, nil
			}
		}
		log.Warn().Int("attempt", attempt+1).Msg("frontend: no responsive order replica, backing off")
		select {
		case <-ctx.Done():
			return config.Peer{}, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return config.Peer{}, fmt.Errorf("frontend: no order replica became leader after %d attempts", maxAttempts)
}

func (r *Router) healthy(ctx context.Context, p config.Peer) bool {
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	resp, err := r.client.GetJSON(cctx, fmt.Sprintf("http://%s/healthz", p.ClientAddr), "", nil)
	return err == nil && resp != nil && resp.StatusCode == http.StatusOK
}

func (r *Router) informPeers(ctx context.Context, leader config.Peer, all []config.Peer) {
	for _, p := range all {
		if p.ID == leader.ID {
			continue
		}
		p := p
		go func() {
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			_, _ = r.client.PostJSON(cctx, fmt.Sprintf("http://%s/replicas/leaders/", p.ClientAddr), "",
				map[string]int{"leader_id": leader.ID}, nil)
		}()
	}
}

func peerByID(peers []config.Peer, id int) (config.Peer, bool) {
	for _, p := range peers {
		if p.ID == id {
			return p, true
		}
	}
	return config.Peer{}, false
}

func peerByClientAddr(peers []config.Peer, addr string) (config.Peer, bool) {
	for _, p := range peers {
		if p.ClientAddr == addr {
			return p, true
		}
	}
	return config.Peer{}, false
}
