// Package api exposes the HTTP surface: order execution, margin metrics,
// the price snapshot and the websocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"broker_go/internal/hub"
	"broker_go/internal/infra"
	"broker_go/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering happens in the CORS layer; the feed itself is public
	// read-only data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wires the services onto HTTP routes.
type Server struct {
	srv    *http.Server
	hub    *hub.Hub
	exec   *service.ExecutionService
	margin *service.MarginService
	prices *service.PriceCache
}

// NewServer builds the router and the underlying http.Server.
func NewServer(
	listenAddr string,
	allowedOrigins []string,
	h *hub.Hub,
	exec *service.ExecutionService,
	margin *service.MarginService,
	prices *service.PriceCache,
) *Server {
	s := &Server{
		hub:    h,
		exec:   exec,
		margin: margin,
		prices: prices,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/orders/{id}/execute", s.handleExecuteOrder).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/margin", s.handleMargin).Methods(http.MethodGet)
	v1.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	v1.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("API server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ======================================================================================
// Handlers
// ======================================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type executeRequest struct {
	Price decimal.Decimal `json:"price"`
}

// handleExecuteOrder fills a pending order at the supplied price. Business
// rejections come back as 200 with success=false; only system failures are
// 5xx.
func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	result, err := s.exec.Execute(r.Context(), orderID, req.Price)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		slog.Error("Order execution failed",
			slog.String("order_id", orderID.String()),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	metrics, err := s.margin.CalculateMargin(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		slog.Error("Margin calculation failed",
			slog.String("account_id", accountID.String()),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "margin calculation failed")
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prices.Snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infra.GlobalMetrics.Snapshot())
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	client := hub.NewClient(s.hub, conn)
	s.hub.Register(client)
	client.Start()
}

// ======================================================================================
// Helpers
// ======================================================================================

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
