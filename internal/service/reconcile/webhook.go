package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

// Типы событий Stripe, которые меняют состояние заказа.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventPaymentIntentCanceled    = "payment_intent.canceled"
	EventCustomerDeleted          = "customer.deleted"
)

// WebhookResult описывает результат обработки события.
type WebhookResult struct {
	EventType string
	OrderID   string
	// Handled ложно для событий, которые только подтверждаются.
	Handled bool
	// Skipped: тип события известен, но его состояние не меняет заказ.
	Skipped string
}

// PersistError: событие валидно, но сохранить изменение не удалось.
type PersistError struct {
	OrderID string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("Failed to update order %s: %v", e.OrderID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// HandleWebhook проверяет подпись и применяет событие Stripe.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if r.webhookSecret == "" {
		return WebhookResult{}, fmt.Errorf("stripe webhook: %w", domain.ErrPaymentProviderNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, r.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		r.metrics.RecordWebhookEvent("unknown", "invalid_signature")
		return WebhookResult{}, fmt.Errorf("%w: %v", domain.ErrWebhookSignature, err)
	}

	eventType := string(event.Type)
	result, err := r.apply(ctx, eventType, event.Data.Raw)
	result.EventType = eventType

	entry := r.logger.WithFields(log.Fields{
		"event_type": eventType,
		"event_id":   event.ID,
		"order_id":   result.OrderID,
	})
	switch {
	case err != nil:
		r.metrics.RecordWebhookEvent(eventType, "error")
		entry.WithError(err).Warn("webhook event rejected")
	case !result.Handled:
		r.metrics.RecordWebhookEvent(eventType, "ignored")
		entry.Debug("webhook event ignored")
	case result.Skipped != "":
		r.metrics.RecordWebhookEvent(eventType, "skipped")
		entry.WithField("reason", result.Skipped).Info("webhook event left order unchanged")
	default:
		r.metrics.RecordWebhookEvent(eventType, "applied")
		entry.Info("webhook event applied")
	}

	return result, err
}

func (r *Reconciler) apply(ctx context.Context, eventType string, raw json.RawMessage) (WebhookResult, error) {
	switch eventType {
	case EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return WebhookResult{}, fmt.Errorf("%w: %v", domain.ErrWebhookPayload, err)
		}
		orderID := session.Metadata["orderID"]
		if orderID == "" {
			return WebhookResult{}, domain.ErrWebhookOrderIDMissing
		}
		if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
			return WebhookResult{OrderID: orderID}, fmt.Errorf("%w: missing payment_intent", domain.ErrWebhookPayload)
		}
		return r.markPaid(ctx, orderID, session.PaymentIntent.ID, session.AmountTotal, eventType)

	case EventPaymentIntentSucceeded:
		intent, err := decodeIntent(raw)
		if err != nil {
			return WebhookResult{}, err
		}
		if intent.Status != stripe.PaymentIntentStatusSucceeded {
			return WebhookResult{
				OrderID: intent.Metadata["orderID"],
				Handled: true,
				Skipped: "payment intent status " + string(intent.Status),
			}, nil
		}
		return r.markPaid(ctx, intent.Metadata["orderID"], intent.ID, intent.AmountReceived, eventType)

	case EventPaymentIntentFailed, EventPaymentIntentCanceled:
		intent, err := decodeIntent(raw)
		if err != nil {
			return WebhookResult{}, err
		}
		orderID := intent.Metadata["orderID"]
		status := domain.OrderStatusUnpaid
		transactionID := intent.ID
		if _, err := r.Transition(ctx, orderID, domain.OrderDetailsPatch{
			Status:        &status,
			TransactionID: &transactionID,
		}, eventType); err != nil {
			return WebhookResult{OrderID: orderID}, wrapPersist(orderID, err)
		}
		return WebhookResult{OrderID: orderID, Handled: true}, nil

	case EventCustomerDeleted:
		var customer stripe.Customer
		if err := json.Unmarshal(raw, &customer); err != nil {
			return WebhookResult{}, fmt.Errorf("%w: %v", domain.ErrWebhookPayload, err)
		}
		if customer.ID == "" {
			return WebhookResult{}, fmt.Errorf("%w: missing customer id", domain.ErrWebhookPayload)
		}
		cleared, err := r.customers.ClearStripeCustomerID(ctx, customer.ID)
		if err != nil {
			return WebhookResult{}, &PersistError{OrderID: customer.ID, Err: err}
		}
		r.logger.WithFields(log.Fields{"stripe_customer_id": customer.ID, "cleared": cleared}).Info("stripe customer unlinked")
		return WebhookResult{Handled: true}, nil

	default:
		return WebhookResult{}, nil
	}
}

func (r *Reconciler) markPaid(ctx context.Context, orderID, intentID string, amountMinor int64, reason string) (WebhookResult, error) {
	if orderID == "" {
		return WebhookResult{}, domain.ErrWebhookOrderIDMissing
	}
	status := domain.OrderStatusPaid
	amount := payment.FromMinorUnits(amountMinor)
	if _, err := r.Transition(ctx, orderID, domain.OrderDetailsPatch{
		Status:        &status,
		TransactionID: &intentID,
		AmountPaid:    &amount,
	}, reason); err != nil {
		return WebhookResult{OrderID: orderID}, wrapPersist(orderID, err)
	}
	return WebhookResult{OrderID: orderID, Handled: true}, nil
}

func decodeIntent(raw json.RawMessage) (stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return stripe.PaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrWebhookPayload, err)
	}
	if intent.Metadata["orderID"] == "" {
		return stripe.PaymentIntent{}, domain.ErrWebhookOrderIDMissing
	}
	return intent, nil
}

// wrapPersist оставляет ErrOrderNotFound как есть, остальное считает сбоем сохранения.
func wrapPersist(orderID string, err error) error {
	if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrWebhookOrderIDMissing) {
		return err
	}
	return &PersistError{OrderID: orderID, Err: err}
}
