package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
)

const stripeSignatureHeader = "Stripe-Signature"

// handleStripeWebhook: POST /next/stripe.
func (a *API) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := a.reconciler.HandleWebhook(r.Context(), payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		status, message := webhookStatus(err)
		if status >= http.StatusInternalServerError {
			a.logger.WithError(err).WithFields(log.Fields{
				"event_type": result.EventType,
				"order_id":   result.OrderID,
			}).Error("stripe webhook failed")
		}
		writeMessage(w, status, message)
		return
	}

	if !result.Handled {
		writeMessage(w, http.StatusOK, fmt.Sprintf("Unhandled event type: %s", result.EventType))
		return
	}
	writeJSON(w, http.StatusOK, envelope{"received": true})
}

func webhookStatus(err error) (int, string) {
	var persistErr *reconcile.PersistError
	switch {
	case errors.Is(err, domain.ErrPaymentProviderNotConfigured):
		return http.StatusBadRequest, "Missing Stripe configuration"
	case errors.Is(err, domain.ErrWebhookSignature):
		return http.StatusBadRequest, "Webhook signature verification failed"
	case errors.Is(err, domain.ErrWebhookOrderIDMissing):
		return http.StatusBadRequest, "Missing orderID in metadata"
	case errors.Is(err, domain.ErrWebhookPayload):
		return http.StatusBadRequest, "Invalid webhook payload"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, persistErr.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
