package catalog

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleGetProduct(t *testing.T) {
	svc := NewService(NewStore(), "")
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/products/Tux/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data Product `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Tux", body.Data.Name)
	require.Equal(t, 100, body.Data.Quantity)
}

func TestHandleGetProductUnknown(t *testing.T) {
	svc := NewService(NewStore(), "")
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/products/Nonesuch/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlePostOrderDecrementsStockAndInvalidatesCache(t *testing.T) {
	var invalidated string
	frontend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			invalidated = r.URL.Path
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer frontend.Close()

	svc := NewService(NewStore(), frontend.Listener.Addr().String())
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body, _ := json.Marshal(orderRequest{Name: "Uno", Quantity: 3})
	resp, err := http.Post(srv.URL+"/orders/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, ok := svc.store.Get("Uno")
	require.True(t, ok)
	require.Equal(t, 97, p.Quantity)
	require.Equal(t, "/cache/Uno/", invalidated)
}

func TestHandlePostOrderInsufficientStock(t *testing.T) {
	svc := NewService(NewStore(), "")
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body, _ := json.Marshal(orderRequest{Name: "Uno", Quantity: 1000})
	resp, err := http.Post(srv.URL+"/orders/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRestock(t *testing.T) {
	svc := NewService(NewStore(), "")
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body, _ := json.Marshal(restockRequest{ProductName: "Tux", Quantity: 5})
	resp, err := http.Post(srv.URL+"/cache/restock/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, ok := svc.store.Get("Tux")
	require.True(t, ok)
	require.Equal(t, 105, p.Quantity)
}
