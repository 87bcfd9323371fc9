package orderservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/rshen/toyraft/internal/config"
	"github.com/rshen/toyraft/internal/raft"
	"github.com/rshen/toyraft/internal/telemetry"
	"github.com/rshen/toyraft/internal/transport"
	"github.com/rshen/toyraft/internal/wire"
)

// catalogProduct mirrors the subset of the catalog's product envelope the
// order service needs to validate a buy request.
type catalogProduct struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Service is one order replica's HTTP-facing state: the Raft core, its
// durable store, and clients for the peer and catalog it talks to.
type Service struct {
	ReplicaID   int
	rf          *raft.Raft
	store       *Store
	peers       map[int]config.Peer // by id, for resolving the Leader-Endpoint hint
	client      *transport.Client
	catalogAddr string
	metrics     *telemetry.RaftMetrics
}

// NewService builds an order replica's service object. Callers still need
// to call rf.Run to start the background ticker and heartbeat loop.
func NewService(replicaID int, rf *raft.Raft, store *Store, peers map[int]config.Peer, catalogAddr string, metrics *telemetry.RaftMetrics) *Service {
	svc := &Service{
		ReplicaID:   replicaID,
		rf:          rf,
		store:       store,
		peers:       peers,
		client:      transport.New(2 * time.Second),
		catalogAddr: catalogAddr,
		metrics:     metrics,
	}
	if metrics != nil {
		rf.OnRoleChange(func(role raft.Role, term int) {
			metrics.Term.Set(float64(term))
			if role == raft.Leader {
				metrics.IsLeader.Set(1)
			} else {
				metrics.IsLeader.Set(0)
			}
			if role == raft.Candidate {
				metrics.Elections.Inc()
			}
		})
	}
	return svc
}

// Router builds the gorilla/mux router serving this replica's full HTTP
// surface.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/orders/{n}/", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/", s.handlePostOrder).Methods(http.MethodPost)
	r.HandleFunc("/replicas/leaders/", s.handleReplicaLeaderAnnounce).Methods(http.MethodPost)
	r.HandleFunc("/replicas/orders/", s.handleReplicaOrderRetired).Methods(http.MethodPost)
	r.HandleFunc("/sync/orders/{next}/", s.handleSyncOrders).Methods(http.MethodGet)
	r.HandleFunc("/vote/", s.handleVote).Methods(http.MethodPost)
	r.HandleFunc("/append_entries/", s.handleAppendEntries).Methods(http.MethodPost)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	wire.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil {
		wire.BadRequest(w, "malformed order number")
		return
	}
	order, found, err := s.store.GetOrder(n)
	if err != nil {
		wire.Internal(w, err)
		return
	}
	if !found {
		wire.NotFound(w, "order not found")
		return
	}
	wire.WriteData(w, http.StatusOK, map[string]interface{}{
		"number": order.Number, "name": order.ProductName, "quantity": order.Quantity,
	})
}

type postOrderRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// handlePostOrder is the leader-only write path: validate against the
// catalog, submit to Raft, then tell the catalog to decrement stock.
func (s *Service) handlePostOrder(w http.ResponseWriter, r *http.Request) {
	if _, isLeader := s.rf.GetState(); !isLeader {
		s.rejectNonLeader(w)
		return
	}

	var req postOrderRequest
	if err := wire.Decode(r, &req); err != nil || req.Name == "" || req.Quantity <= 0 {
		wire.BadRequest(w, "malformed order request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var product catalogProduct
	resp, err := s.client.GetJSON(ctx, fmt.Sprintf("http://%s/products/%s/", s.catalogAddr, req.Name), traceID(r), &envelope{Data: &product})
	if err != nil {
		wire.Internal(w, err)
		return
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		wire.NotFound(w, "unknown product")
		return
	default:
		wire.Internal(w, fmt.Errorf("catalog returned status %d", resp.StatusCode))
		return
	}
	if product.Quantity < req.Quantity {
		wire.BadRequest(w, "No sufficient stock")
		return
	}

	command := fmt.Sprintf("buy %d %s", req.Quantity, req.Name)
	submitStart := time.Now()
	committed, orderNumber := s.rf.Submit(command, raft.OrderPayload{ProductName: req.Name, Quantity: req.Quantity})
	if s.metrics != nil {
		s.metrics.AppendLatency.Observe(time.Since(submitStart).Seconds())
	}
	if !committed {
		s.rejectNonLeader(w)
		return
	}

	// Best-effort: the order is already committed to the Raft log at this point,
	// so a decrement failure here is logged, not surfaced, and the client still
	// gets back the order number. Nothing reconciles catalog stock with
	// committed orders after a failure here.
	if dresp, err := s.client.PostJSON(ctx, fmt.Sprintf("http://%s/orders/", s.catalogAddr), traceID(r),
		postOrderRequest{Name: req.Name, Quantity: req.Quantity}, nil); err != nil {
		log.Error().Err(err).Msg("orderservice: catalog stock decrement failed after commit")
	} else if dresp.StatusCode != http.StatusOK {
		log.Error().Int("status", dresp.StatusCode).Msg("orderservice: catalog stock decrement failed after commit")
	}

	wire.WriteData(w, http.StatusOK, map[string]int{"order_number": orderNumber})
}

func (s *Service) rejectNonLeader(w http.ResponseWriter) {
	hint := ""
	if id := s.rf.LeaderHint(); id >= 0 {
		if p, ok := s.peers[id]; ok {
			hint = p.ClientAddr
		}
	}
	if hint == "" {
		wire.Unavailable(w, "leader not found", "")
		return
	}
	wire.Unavailable(w, "not the leader", hint)
}

// handleReplicaLeaderAnnounce acknowledges a classical-mode leader
// announcement. Raft mode makes this informational only: truth about
// leadership always comes from Raft's own term/role state.
func (s *Service) handleReplicaLeaderAnnounce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LeaderID int `json:"leader_id"`
	}
	_ = wire.Decode(r, &body)
	log.Info().Int("leader_id", body.LeaderID).Msg("orderservice: received classical-mode leader announcement")
	wire.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReplicaOrderRetired is the retired classical-replication write
// path: followers used to create an order here without the leader's
// assigned number, which could diverge across replicas. Raft is now the
// only commit path.
func (s *Service) handleReplicaOrderRetired(w http.ResponseWriter, r *http.Request) {
	wire.Gone(w, "classical replication is retired; orders commit through Raft")
}

func (s *Service) handleSyncOrders(w http.ResponseWriter, r *http.Request) {
	next, err := strconv.Atoi(mux.Vars(r)["next"])
	if err != nil {
		wire.BadRequest(w, "malformed sync cursor")
		return
	}
	orders, err := s.store.OrdersFrom(next)
	if err != nil {
		wire.Internal(w, err)
		return
	}
	wire.WriteData(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// handleVote and handleAppendEntries reply with the bare RPC reply shape
// the wire contract documents for these two peer endpoints, unlike every
// client-facing handler's {"data": ...} envelope.
func (s *Service) handleVote(w http.ResponseWriter, r *http.Request) {
	var args raft.RequestVoteArgs
	if err := wire.Decode(r, &args); err != nil {
		wire.BadRequest(w, "malformed vote request")
		return
	}
	reply := s.rf.RequestVote(&args)
	writeRaw(w, reply)
}

func (s *Service) handleAppendEntries(w http.ResponseWriter, r *http.Request) {
	var args raft.AppendEntriesArgs
	if err := wire.Decode(r, &args); err != nil {
		wire.BadRequest(w, "malformed append_entries request")
		return
	}
	reply := s.rf.AppendEntries(&args)
	writeRaw(w, reply)
}

func writeRaw(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("orderservice: failed to write RPC reply")
	}
}

func traceID(r *http.Request) string { return r.Header.Get(transport.TraceHeader) }

// envelope unwraps the {"data": ...} success shape the rest of the system
// writes, so the order service can decode a peer's JSON reply directly.
type envelope struct {
	Data interface{} `json:"data"`
}
