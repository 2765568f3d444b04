package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func backend(t *testing.T, name string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"backend": name, "path": r.URL.Path})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHandler_Register(t *testing.T) {
	orders := backend(t, "orders")
	api := backend(t, "api")

	handler := NewHandler(
		NewServiceProxy(orders.URL, orders.Client()),
		NewServiceProxy(api.URL, api.Client()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	mux := http.NewServeMux()
	handler.Register(mux)

	tests := []struct {
		method  string
		path    string
		backend string
	}{
		{http.MethodPost, "/api/orders", "orders"},
		{http.MethodGet, "/api/orders/12", "orders"},
		{http.MethodPost, "/api/orders/12/cancel", "orders"},
		{http.MethodPost, "/api/items/7/accept", "orders"},
		{http.MethodGet, "/api/notifications", "orders"},
		{http.MethodPost, "/api/notifications/3/read", "orders"},
		{http.MethodPost, "/api/notifications/order-status", "api"},
		{http.MethodPost, "/api/notifications/admin/order-status", "api"},
		{http.MethodPost, "/api/discount/validate", "api"},
		{http.MethodGet, "/api/admin/discounts", "api"},
		{http.MethodPost, "/api/auth/send-otp", "api"},
		{http.MethodGet, "/api/newsletter/subscribers/count", "api"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			var got map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got["backend"] != tt.backend {
				t.Errorf("expected %s backend, got %s", tt.backend, got["backend"])
			}
			if got["path"] != tt.path {
				t.Errorf("expected path %s, got %s", tt.path, got["path"])
			}
		})
	}
}

func TestHandler_HandleOrders(t *testing.T) {
	t.Run("passes the backend status and replay header through", func(t *testing.T) {
		ordersServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"illegal transition"}`))
		}))
		defer ordersServer.Close()

		handler := NewHandler(
			NewServiceProxy(ordersServer.URL, ordersServer.Client()),
			NewServiceProxy("http://unused", http.DefaultClient),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodPost, "/api/items/1/accept", nil)
		rec := httptest.NewRecorder()

		handler.HandleOrders(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
		if rec.Header().Get("Idempotent-Replayed") != "true" {
			t.Errorf("expected replay header, got %q", rec.Header().Get("Idempotent-Replayed"))
		}
		if rec.Body.String() != `{"error":"illegal transition"}` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("returns 502 when orders service unavailable", func(t *testing.T) {
		handler := NewHandler(
			NewServiceProxy("http://localhost:99999", &http.Client{}),
			NewServiceProxy("http://unused", http.DefaultClient),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()

		handler.HandleOrders(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["error"] != "service unavailable" {
			t.Errorf("expected 'service unavailable', got %s", resp["error"])
		}
	})
}
