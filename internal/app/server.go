package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/engine"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/monitor"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
)

const (
	maxBodyBytes     = 4 << 10
	defaultTopLimit  = 20
	maxTopLimit      = 500
	defaultEventsLim = 200
	maxEventsLim     = 1000
)

type pinger interface {
	Ping(ctx context.Context) error
}

// httpHandlers 是订单接入与运维查询的薄适配层，不做鉴权。
type httpHandlers struct {
	shards  *ShardSet
	journal *monitor.Service
	health  pinger
	logger  *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Shard string `json:"shard,omitempty"`
}

type submitResponse struct {
	OrderID string      `json:"orderId,omitempty"`
	Order   order.Order `json:"order"`
}

func newRouter(h *httpHandlers, metricsPath string, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/order", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/orders/{side}", h.handleTop).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if h.journal != nil {
		r.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
	}
	if metricsHandler != nil && metricsPath != "" {
		r.Handle(metricsPath, metricsHandler).Methods(http.MethodGet)
	}
	return r
}

func (h *httpHandlers) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var raw order.RawOrder
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	o, err := h.shards.Submit(raw)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, submitResponse{OrderID: o.OrderID, Order: o})
}

func (h *httpHandlers) writeSubmitError(w http.ResponseWriter, err error) {
	var (
		verr  *order.ValidationError
		shErr *WrongShardError
	)
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: verr.Field})
	case errors.As(err, &shErr):
		h.writeJSON(w, http.StatusMisdirectedRequest, errorResponse{Error: err.Error(), Shard: shErr.Shard})
	case errors.Is(err, engine.ErrBackpressure):
		w.Header().Set("Retry-After", "1")
		h.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrClosed):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("订单接收失败", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *httpHandlers) handleTop(w http.ResponseWriter, r *http.Request) {
	side, ok := order.ParseSide(mux.Vars(r)["side"])
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "side must be BUY or SELL", Field: "side"})
		return
	}
	q := r.URL.Query()
	market := strings.TrimSpace(q.Get("market"))
	if market == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "market is required", Field: "market"})
		return
	}
	limit := parseLimit(q.Get("limit"), defaultTopLimit, maxTopLimit)

	eng, err := h.shards.Route(market)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	out := eng.TopMarketOrders(order.NormalizeMarket(market), side, limit)
	h.writeJSON(w, http.StatusOK, out)
}

func (h *httpHandlers) handleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.shards.Stats())
}

func (h *httpHandlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := monitor.Query{
		Type:  monitor.EventType(strings.ToLower(strings.TrimSpace(q.Get("type")))),
		Shard: strings.TrimSpace(q.Get("shard")),
		Limit: parseLimit(q.Get("limit"), defaultEventsLim, maxEventsLim),
	}

	events, err := h.journal.ListEvents(r.Context(), query)
	if err != nil {
		h.logger.Warn("查询监控事件失败", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *httpHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *httpHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("写入响应失败", zap.Error(err))
	}
}

func parseLimit(raw string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
