package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
	"github.com/enzopsm/papertrade/internal/service"
)

// TradingHandler maps each engine operation to one HTTP route.
type TradingHandler struct {
	svc *service.TradingService
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(svc *service.TradingService) *TradingHandler {
	return &TradingHandler{svc: svc}
}

// placeOrderRequest is the wire shape for both order endpoints.
// TriggerPrice is ignored by the market endpoint.
type placeOrderRequest struct {
	Instrument   string          `json:"instrument"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	TriggerPrice decimal.Decimal `json:"trigger_price,omitempty"`
}

// GetSnapshot handles GET /snapshot.
func (h *TradingHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Snapshot())
}

// PlaceMarketOrder handles POST /orders/market.
func (h *TradingHandler) PlaceMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.svc.PlaceMarketOrder(service.PlaceOrderRequest{
		Instrument: req.Instrument,
		Side:       domain.OrderSide(req.Side),
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, order)
}

// PlaceLimitOrder handles POST /orders/limit.
func (h *TradingHandler) PlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.svc.PlaceLimitOrder(service.PlaceOrderRequest{
		Instrument:   req.Instrument,
		Side:         domain.OrderSide(req.Side),
		Quantity:     req.Quantity,
		TriggerPrice: req.TriggerPrice,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, order)
}

// CancelOrder handles DELETE /orders/{order_id}. Cancelling an unknown or
// already-terminal order is a benign no-op, so this always answers 200
// with the current snapshot.
func (h *TradingHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	WriteJSON(w, http.StatusOK, h.svc.CancelOrder(orderID))
}

// SelectInstrument handles PUT /instruments/{id}/select.
func (h *TradingHandler) SelectInstrument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SelectInstrument(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleWatch handles PUT /instruments/{id}/watch.
func (h *TradingHandler) ToggleWatch(w http.ResponseWriter, r *http.Request) {
	watchlist, err := h.svc.ToggleWatch(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"watchlist": watchlist})
}

// writeDomainError maps domain errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_funds", "Balance too low for this order")
	case errors.Is(err, domain.ErrInsufficientHoldings):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_holdings", "Holdings too low for this order")
	case errors.Is(err, domain.ErrInvalidPrice):
		WriteError(w, http.StatusUnprocessableEntity, "invalid_price", "Trigger price must be greater than 0")
	case errors.Is(err, domain.ErrInstrumentNotFound):
		WriteError(w, http.StatusNotFound, "instrument_not_found", "Unknown instrument")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
