package catalog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/rshen/toyraft/internal/telemetry"
	"github.com/rshen/toyraft/internal/transport"
	"github.com/rshen/toyraft/internal/wire"
)

// Service is the catalog's HTTP-facing state: the product store and a
// client for telling the frontend to invalidate its cache on stock change.
type Service struct {
	store        *Store
	client       *transport.Client
	frontendAddr string
}

// NewService builds the catalog service.
func NewService(store *Store, frontendAddr string) *Service {
	return &Service{store: store, client: transport.New(2 * time.Second), frontendAddr: frontendAddr}
}

// Router builds the catalog's HTTP surface.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/products/{name}/", s.handleGetProduct).Methods(http.MethodGet)
	r.HandleFunc("/orders/", s.handlePostOrder).Methods(http.MethodPost)
	r.HandleFunc("/cache/restock/", s.handleRestock).Methods(http.MethodPost)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	wire.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.store.Get(name)
	if !ok {
		wire.NotFound(w, "unknown product")
		return
	}
	wire.WriteData(w, http.StatusOK, map[string]interface{}{
		"name": p.Name, "price": p.Price, "quantity": p.Quantity,
	})
}

type orderRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// handlePostOrder decrements stock for a committed order and invalidates
// the frontend's cached entry for the product. Called by the order
// service's leader only after Raft has committed the purchase.
func (s *Service) handlePostOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := wire.Decode(r, &req); err != nil || req.Name == "" || req.Quantity <= 0 {
		wire.BadRequest(w, "malformed order request")
		return
	}
	p, err := s.store.Decrement(req.Name, req.Quantity)
	switch err {
	case nil:
	case ErrUnknownProduct:
		wire.NotFound(w, "unknown product")
		return
	case ErrInsufficientStock:
		wire.BadRequest(w, "No sufficient stock")
		return
	default:
		wire.Internal(w, err)
		return
	}
	s.invalidateFrontendCache(r.Context(), req.Name)
	wire.WriteData(w, http.StatusOK, map[string]interface{}{
		"name": p.Name, "quantity": p.Quantity,
	})
}

type restockRequest struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

func (s *Service) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := wire.Decode(r, &req); err != nil || req.ProductName == "" || req.Quantity <= 0 {
		wire.BadRequest(w, "malformed restock request")
		return
	}
	p := s.store.Restock(req.ProductName, req.Quantity)
	s.invalidateFrontendCache(r.Context(), req.ProductName)
	wire.WriteData(w, http.StatusOK, map[string]interface{}{
		"name": p.Name, "quantity": p.Quantity,
	})
}

func (s *Service) invalidateFrontendCache(ctx context.Context, name string) {
	if s.frontendAddr == "" {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	url := fmt.Sprintf("http://%s/cache/%s/", s.frontendAddr, name)
	if _, err := s.client.Delete(cctx, url, ""); err != nil {
		log.Warn().Err(err).Str("product", name).Msg("catalog: cache invalidation failed")
	}
}
