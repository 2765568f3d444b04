package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/ecohaat/internal/telemetry"
)

// returnedHeaders are copied from the backend response to the client.
var returnedHeaders = []string{
	"Content-Type",
	"Idempotent-Replayed",
}

type Handler struct {
	ordersProxy *ServiceProxy
	apiProxy    *ServiceProxy
	logger      *slog.Logger
}

func NewHandler(ordersProxy, apiProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy: ordersProxy,
		apiProxy:    apiProxy,
		logger:      logger,
	}
}

// Register sends order, item and in-app notification routes to the orders
// service and everything else under /api/ to the api service.
func (h *Handler) Register(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, telemetry.WithHTTPRoute(fn))
	}

	route("/api/orders", h.HandleOrders)
	route("/api/orders/", h.HandleOrders)
	route("/api/items/", h.HandleOrders)
	route("GET /api/notifications", h.HandleOrders)
	route("POST /api/notifications/{id}/read", h.HandleOrders)
	route("/api/", h.HandleAPI)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.apiProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range returnedHeaders {
		if value := resp.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
