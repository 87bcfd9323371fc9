package frontend

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

// Service is the frontend's HTTP-facing state: the product cache, the
// order-replica router, and a client for the catalog.
type Service struct {
	cache       *Cache
	router      *Router
	client      *transport.Client
	catalogAddr string
	useCache    bool
}

// NewService builds the frontend service.
func NewService(cache *Cache, router *Router, catalogAddr string, useCache bool) *Service {
	return &Service{cache: cache, router: router, client: transport.New(2 * time.Second), catalogAddr: catalogAddr, useCache: useCache}
}

// Router builds the frontend's HTTP surface.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/products/{name}/", s.handleGetProduct).Methods(http.MethodGet)
	r.HandleFunc("/orders/{n}/", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/", s.handlePostOrder).Methods(http.MethodPost)
	r.HandleFunc("/cache/{name}/", s.handleDeleteCache).Methods(http.MethodDelete)
	r.HandleFunc("/leader/", s.handleGetLeader).Methods(http.MethodGet)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	wire.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if s.useCache {
		if resp, found := s.cache.Get(name); found {
			wire.WriteData(w, http.StatusOK, map[string]interface{}{
				"name": resp.Name, "price": resp.Price, "quantity": resp.Quantity,
			})
			return
		}
	}

	var body envelope
	var product ProductResponse
	body.Data = &product
	resp, err := s.client.GetJSON(r.Context(), fmt.Sprintf("http://%s/products/%s/", s.catalogAddr, name), traceID(r), &body)
	if err != nil {
		wire.Internal(w, err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		wire.NotFound(w, "unknown product")
		return
	}
	if s.useCache {
		s.cache.Put(name, product)
	}
	wire.WriteData(w, http.StatusOK, map[string]interface{}{
		"name": product.Name, "price": product.Price, "quantity": product.Quantity,
	})
}

func (s *Service) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate(mux.Vars(r)["name"])
	wire.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleGetLeader(w http.ResponseWriter, r *http.Request) {
	p := s.router.Candidate()
	wire.WriteData(w, http.StatusOK, map[string]interface{}{
		"leader_ID": p.ID, "leader_port": p.ClientAddr,
	})
}

func (s *Service) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	n := mux.Vars(r)["n"]
	status, body, err := s.forward(r.Context(), http.MethodGet, fmt.Sprintf("/orders/%s/", n), traceID(r), nil, 2)
	s.relay(w, status, body, err)
}

type postOrderRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func (s *Service) handlePostOrder(w http.ResponseWriter, r *http.Request) {
	var req postOrderRequest
	if err := wire.Decode(r, &req); err != nil || req.Name == "" || req.Quantity <= 0 {
		wire.BadRequest(w, "malformed order request")
		return
	}
	status, body, err := s.forward(r.Context(), http.MethodPost, "/orders/", traceID(r), req, 3)
	s.relay(w, status, body, err)
}

// forward sends the request to the router's current candidate replica, up
// to attempts times, reselecting on a 503 (passing its Leader-Endpoint hint
// to the router) or a transport failure, per the retry-on-rejection design.
func (s *Service) forward(ctx context.Context, method, path, trace string, body interface{}, attempts int) (int, []byte, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		p := s.router.Candidate()
		url := fmt.Sprintf("http://%s%s", p.ClientAddr, path)

		var raw rawBody
		var resp *http.Response
		var err error
		if method == http.MethodPost {
			resp, err = s.client.PostJSON(ctx, url, trace, body, &raw)
		} else {
			resp, err = s.client.GetJSON(ctx, url, trace, &raw)
		}
		if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
			s.router.OnForwardFailure(resp.Header.Get("Leader-Endpoint"))
			continue
		}
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("replica", p.ClientAddr).Msg("frontend: forward failed, retrying")
			continue
		}
		return resp.StatusCode, raw.raw, nil
	}
	return 0, nil, lastErr
}

func (s *Service) relay(w http.ResponseWriter, status int, body []byte, err error) {
	if status == 0 {
		wire.Internal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func traceID(r *http.Request) string { return r.Header.Get(transport.TraceHeader) }

type envelope struct {
	Data interface{} `json:"data"`
}

// rawBody captures a response body verbatim so it can be relayed to the
// client unchanged, preserving the upstream service's own envelope.
type rawBody struct{ raw []byte }

func (r *rawBody) UnmarshalJSON(b []byte) error {
	r.raw = append([]byte(nil), b...)
	return nil
}
