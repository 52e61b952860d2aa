package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type adminStatusPayload struct {
	Status         string     `json:"status" validate:"required"`
	TrackingNumber *string    `json:"trackingNumber"`
	ShippingDate   *time.Time `json:"shippingDate"`
	Reason         string     `json:"reason"`
}

type adminOrderResponse struct {
	ID             string             `json:"id"`
	Status         domain.OrderStatus `json:"status"`
	AmountPaid     decimal.Decimal    `json:"amountPaid"`
	TrackingNumber string             `json:"trackingNumber,omitempty"`
	ShippingDate   *time.Time         `json:"shippingDate,omitempty"`
}

// handleAdminStatus: POST /admin/orders/{orderID}/status.
func (a *API) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var payload adminStatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.validate.Struct(payload); err != nil {
		writeMessage(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	status := domain.OrderStatus(strings.TrimSpace(payload.Status))
	patch := domain.OrderDetailsPatch{
		Status:         &status,
		TrackingNumber: payload.TrackingNumber,
		ShippingDate:   payload.ShippingDate,
	}
	reason := payload.Reason
	if reason == "" {
		reason = "admin"
	}

	order, err := a.reconciler.Transition(r.Context(), orderID, patch, reason)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrOrderStatusInvalid), errors.Is(err, domain.ErrOrderIDRequired):
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrOrderNotFound):
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	default:
		a.logger.WithError(err).WithField("order_id", orderID).Error("admin status change failed")
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, envelope{"order": adminOrderResponse{
		ID:             order.ID,
		Status:         order.Details.Status,
		AmountPaid:     order.Details.AmountPaid,
		TrackingNumber: order.Details.TrackingNumber,
		ShippingDate:   order.Details.ShippingDate,
	}})
}
