package httpapi

import (
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// envelope: общий формат ответа: HTTP-код дублируется в поле status.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, payload envelope) {
	writeRaw(w, status, encodeEnvelope(status, payload))
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{"message": message})
}

// checkoutStatus сопоставляет ошибку оформления с кодом и сообщением для клиента.
func checkoutStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, domain.ErrForbidden.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, domain.ErrCourierNotFound):
		return http.StatusBadRequest, domain.ErrCourierNotFound.Error()
	case errors.Is(err, domain.ErrShippingCostNotFound):
		return http.StatusBadRequest, domain.ErrShippingCostNotFound.Error()
	case errors.Is(err, domain.ErrRetryNotAllowed):
		return http.StatusBadRequest, domain.ErrRetryNotAllowed.Error()
	case domain.IsValidation(err), errors.Is(err, domain.ErrCurrencyRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrPaymentSession),
		errors.Is(err, domain.ErrPaymentProviderUnknown),
		errors.Is(err, domain.ErrPaymentProviderNotConfigured):
		return http.StatusInternalServerError, "Error while creating payment"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
