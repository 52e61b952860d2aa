package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

type shippingPayload struct {
	Name                  string `json:"name"`
	Address               string `json:"address"`
	City                  string `json:"city"`
	Country               string `json:"country"`
	Region                string `json:"region"`
	PostalCode            string `json:"postalCode"`
	Phone                 string `json:"phone"`
	Email                 string `json:"email" validate:"omitempty,email"`
	PickupPointID         string `json:"pickupPointID"`
	PickupPointName       string `json:"pickupPointName"`
	PickupPointAddress    string `json:"pickupPointAddress"`
	PickupPointBranchCode string `json:"pickupPointBranchCode"`
}

type checkoutDataPayload struct {
	BuyerType         string                 `json:"buyerType" validate:"omitempty,oneof=individual company"`
	IndividualInvoice bool                   `json:"individualInvoice"`
	Invoice           *ordering.InvoiceInput `json:"invoice"`
	Shipping          shippingPayload        `json:"shipping"`
	DeliveryMethod    string                 `json:"deliveryMethod"`
}

type paymentPayload struct {
	Cart            []domain.CartItem   `json:"cart" validate:"dive"`
	SelectedCountry string              `json:"selectedCountry"`
	CheckoutData    checkoutDataPayload `json:"checkoutData"`
	Locale          string              `json:"locale" validate:"required"`
	Currency        string              `json:"currency" validate:"required,len=3"`
}

func (p paymentPayload) request(identity domain.Identity) checkout.Request {
	buyerType := domain.BuyerType(p.CheckoutData.BuyerType)
	if buyerType == "" {
		buyerType = domain.BuyerTypeIndividual
	}
	s := p.CheckoutData.Shipping

	return checkout.Request{
		Cart:     p.Cart,
		Country:  p.SelectedCountry,
		Locale:   p.Locale,
		Currency: p.Currency,
		Customer: identity,
		Form: ordering.Form{
			BuyerType:         buyerType,
			IndividualInvoice: p.CheckoutData.IndividualInvoice,
			Invoice:           p.CheckoutData.Invoice,
			DeliveryMethod:    p.CheckoutData.DeliveryMethod,
			Shipping: domain.Address{
				Name:                  s.Name,
				Address:               s.Address,
				City:                  s.City,
				Country:               s.Country,
				Region:                s.Region,
				PostalCode:            s.PostalCode,
				Email:                 s.Email,
				Phone:                 s.Phone,
				PickupPointID:         s.PickupPointID,
				PickupPointName:       s.PickupPointName,
				PickupPointAddress:    s.PickupPointAddress,
				PickupPointBranchCode: s.PickupPointBranchCode,
			},
		},
	}
}

// handlePayment: POST /next/payment: оформление заказа и ссылка на оплату.
func (a *API) handlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	a.withIdempotency(w, r, body, a.payment)
}

func (a *API) payment(r *http.Request, body []byte) (int, envelope) {
	var payload paymentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return http.StatusBadRequest, envelope{"message": "Invalid request body"}
	}
	if payload.Cart == nil {
		return http.StatusOK, nil
	}
	if err := a.validate.Struct(payload); err != nil {
		return http.StatusBadRequest, envelope{"message": validationMessage(err)}
	}

	result, err := a.checkout.Checkout(r.Context(), payload.request(identityFrom(r.Context())))
	if err != nil {
		status, message := checkoutStatus(err)
		entry := a.logger.WithError(err)
		if result.Order != nil {
			entry = entry.WithField("order_id", result.Order.ID)
		}
		if status >= http.StatusInternalServerError {
			entry.Error("checkout failed")
		} else {
			entry.Info("checkout rejected")
		}
		return status, envelope{"message": message}
	}

	if result.URL == "" {
		return http.StatusOK, nil
	}
	return http.StatusOK, envelope{"url": result.URL}
}

// handleRetryPayment: GET /next/retry-payment?orderId=&locale=&x=
func (a *API) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := strings.TrimSpace(q.Get("orderId"))
	locale := strings.TrimSpace(q.Get("locale"))
	if orderID == "" || locale == "" {
		writeMessage(w, http.StatusBadRequest, "Missing orderId or locale")
		return
	}

	url, err := a.checkout.RetryPayment(r.Context(), checkout.RetryRequest{
		OrderID:  orderID,
		Locale:   locale,
		Secret:   q.Get("x"),
		Customer: identityFrom(r.Context()),
	})
	if err != nil {
		entry := a.logger.WithError(err).WithField("order_id", orderID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound),
			errors.Is(err, domain.ErrForbidden),
			errors.Is(err, domain.ErrRetryNotAllowed):
			entry.Info("retry payment rejected")
			status, message := checkoutStatus(err)
			writeMessage(w, status, message)
		default:
			entry.Error("retry payment failed")
			writeMessage(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if url == "" {
		writeMessage(w, http.StatusInternalServerError, "Failed to generate payment URL")
		return
	}

	writeJSON(w, http.StatusOK, envelope{"url": url})
}

// handleOrder: GET /api/orders/{orderID}?x= : данные страницы заказа.
func (a *API) handleOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	view, err := a.checkout.OrderView(r.Context(), orderID, r.URL.Query().Get("x"), identityFrom(r.Context()))
	if err != nil {
		status, message := checkoutStatus(err)
		if status >= http.StatusInternalServerError {
			a.logger.WithError(err).WithField("order_id", orderID).Error("order view failed")
		}
		writeMessage(w, status, message)
		return
	}
	if !view.Authorized {
		writeJSON(w, http.StatusOK, envelope{"order": view.Restricted()})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"order": view})
}

func validationMessage(err error) string {
	var verrs validatorv10.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ErrInvalidRequest.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Sprintf("%s: %s", domain.ErrInvalidRequest.Error(), strings.Join(fields, ", "))
}

