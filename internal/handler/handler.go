package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"campus-eats/internal/apperr"
	"campus-eats/internal/hub"
	"campus-eats/internal/middlewares"
	"campus-eats/internal/order"
	"campus-eats/internal/state"
	"campus-eats/pkg/logger"
	"campus-eats/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type OrderHandler struct {
	service *order.Service
	ws      *hub.WSHandler
	logger  *logger.Logger
}

func NewOrderHandler(service *order.Service, ws *hub.WSHandler, logger *logger.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		ws:      ws,
		logger:  logger,
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return "req-" + uuid.NewString()
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error(reqID, "validation_failed", "Invalid JSON payload", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateOrder(r.Context(), claims.UserID, &req, reqID)
	if err != nil {
		h.writeError(w, reqID, "order_creation_failed", err)
		return
	}
	if deadline, ok := h.service.AckDeadline(resp.Order.ID); ok {
		resp.AckDeadline = &deadline
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, reqID, "order_fetch_failed", err)
		return
	}
	if !visibleTo(claims, o) {
		// Hidden orders are indistinguishable from missing ones.
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrdersForUser(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, reqID, "order_list_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) ListRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	restaurantID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid restaurant id", http.StatusBadRequest)
		return
	}
	if claims.Actor() == state.ActorRestaurant && claims.RestaurantID != restaurantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	statusFilter := state.Status(r.URL.Query().Get("status"))
	orders, err := h.service.ListOrdersForRestaurant(r.Context(), restaurantID, statusFilter)
	if err != nil {
		h.writeError(w, reqID, "order_list_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req models.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	// Same visibility rule as reads: a student may only move their own
	// order, a restaurant only orders placed with it.
	current, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, reqID, "transition_failed", err)
		return
	}
	if !visibleTo(claims, current) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	o, err := h.service.Transition(r.Context(), orderID, req.Status, claims.Actor(), reqID)
	if err != nil {
		h.writeError(w, reqID, "transition_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	orderID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req models.UpdatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	o, err := h.service.UpdatePayment(r.Context(), orderID, &req)
	if err != nil {
		h.writeError(w, reqID, "payment_update_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) Nudge(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	if err := h.service.Nudge(r.Context(), orderID, claims.UserID, reqID); err != nil {
		h.writeError(w, reqID, "nudge_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "nudged"})
}

func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, reqID, "history_fetch_failed", err)
		return
	}
	if !visibleTo(claims, o) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	history, err := h.service.History(r.Context(), orderID)
	if err != nil {
		h.writeError(w, reqID, "history_fetch_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *OrderHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	claims, err := middlewares.GetAuthenticatedUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.ws.Serve(w, r, claims.Actor())
}

func visibleTo(claims *middlewares.Claims, o *models.Order) bool {
	switch claims.Actor() {
	case state.ActorStudent:
		return o.UserID == claims.UserID
	case state.ActorRestaurant:
		return o.RestaurantID == claims.RestaurantID
	case state.ActorCourier:
		return true
	default:
		return false
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *OrderHandler) writeError(w http.ResponseWriter, reqID, action string, err error) {
	switch {
	case apperr.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, state.ErrIllegalTransition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNudgeCooldown):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrDependencyUnavailable):
		http.Error(w, "dependency unavailable", http.StatusBadGateway)
	default:
		h.logger.Error(reqID, action, "Internal server error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
