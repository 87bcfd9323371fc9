package frontend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rshen/toyraft/internal/config"
)

func newTestService(t *testing.T, replicaAddr, catalogAddr string, useCache bool) *Service {
	t.Helper()
	peers := []config.Peer{{ID: 1, ClientAddr: replicaAddr}}
	router := NewRouter(peers, false)
	cache := NewCache(5)
	return NewService(cache, router, catalogAddr, useCache)
}

func TestHandleGetProductCachesOnMiss(t *testing.T) {
	var hits int
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"name": "Tux", "price": 6.9, "quantity": 80},
		})
	}))
	defer catalog.Close()

	svc := newTestService(t, "", catalog.Listener.Addr().String(), true)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/products/Tux/")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	require.Equal(t, 1, hits, "second request should be served from cache")
}

func TestHandlePostOrderForwardsToReplica(t *testing.T) {
	replica := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"order_number": 7}})
	}))
	defer replica.Close()

	svc := newTestService(t, replica.Listener.Addr().String(), "", false)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body, _ := json.Marshal(postOrderRequest{Name: "Tux", Quantity: 1})
	resp, err := http.Post(srv.URL+"/orders/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded struct {
		Data struct {
			OrderNumber int `json:"order_number"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Equal(t, 7, decoded.Data.OrderNumber)
}

func TestHandlePostOrderRetriesOnLeaderRedirect(t *testing.T) {
	rightLeader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"order_number": 1}})
	}))
	defer rightLeader.Close()

	wrongLeader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Leader-Endpoint", rightLeader.Listener.Addr().String())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer wrongLeader.Close()

	peers := []config.Peer{
		{ID: 1, ClientAddr: wrongLeader.Listener.Addr().String()},
		{ID: 2, ClientAddr: rightLeader.Listener.Addr().String()},
	}
	router := NewRouter(peers, false)
	router.leaderID = 1 // force first attempt at the wrong replica
	svc := NewService(NewCache(5), router, "", false)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body, _ := json.Marshal(postOrderRequest{Name: "Tux", Quantity: 1})
	resp, err := http.Post(srv.URL+"/orders/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

