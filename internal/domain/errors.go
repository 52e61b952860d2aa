package domain

import "errors"

var (
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order id is required")
	// Ошибка пустого секрета заказа.
	ErrOrderSecretRequired = errors.New("order secret is required")
	// Ошибка неизвестного статуса заказа.
	ErrOrderStatusInvalid = errors.New("order status is invalid")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким идентификатором уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderSecretExhausted: не удалось подобрать уникальный секрет за отведённое число попыток.
	ErrOrderSecretExhausted = errors.New("order secret generation exhausted")

	// ErrCartEmpty: корзина пуста или содержит некорректные строки.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrProductNotFound: товара из корзины нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound: в товаре нет запрошенного варианта.
	ErrVariantNotFound = errors.New("product variant not found")
	// ErrPriceNotFound: нет цены в запрошенной валюте.
	ErrPriceNotFound = errors.New("price not found")
	// ErrCourierNotFound: курьер не найден или выключен.
	ErrCourierNotFound = errors.New("Courier not found")
	// ErrShippingCostNotFound: нет зоны, весового диапазона или цены доставки.
	ErrShippingCostNotFound = errors.New("Shipping cost not found")
	// ErrInvalidRequest: запрос не прошёл валидацию.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrForbidden: у вызывающего нет прав на заказ.
	ErrForbidden = errors.New("Unauthorized")
	// ErrRetryNotAllowed: статус заказа не допускает повторную оплату.
	ErrRetryNotAllowed = errors.New("Order is not eligible for retry payment")

	// ErrPaymentProviderUnknown: в настройках выбран неизвестный провайдер.
	ErrPaymentProviderUnknown = errors.New("unknown payment provider")
	// ErrPaymentProviderNotConfigured: для провайдера нет учётных данных.
	ErrPaymentProviderNotConfigured = errors.New("payment provider is not configured")
	// ErrPaymentSession: провайдер не смог создать или вернуть сессию.
	ErrPaymentSession = errors.New("payment session failed")

	// ErrWebhookSignature: подпись вебхука не прошла проверку.
	ErrWebhookSignature = errors.New("webhook signature verification failed")
	// ErrWebhookOrderIDMissing: в метаданных события нет orderID.
	ErrWebhookOrderIDMissing = errors.New("orderID missing in metadata")
	// ErrWebhookPayload: тело события не удалось разобрать.
	ErrWebhookPayload = errors.New("webhook payload is malformed")

	// ErrCustomerNotFound: клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrStockProductRequired: в корректировке склада нет товара.
	ErrStockProductRequired = errors.New("stock adjustment product is required")
	// ErrStockQtyInvalid: количество для корректировки склада должно быть положительным.
	ErrStockQtyInvalid = errors.New("stock adjustment quantity must be greater than zero")

	// ErrTimelineEventInvalid: событие таймлайна без заказа или с неизвестным типом.
	ErrTimelineEventInvalid = errors.New("timeline event is invalid")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-key.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different payload")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")

	// ErrRegistryInvalidID: идентификатор компании не соответствует формату реестра.
	ErrRegistryInvalidID = errors.New("invalid company id")
	// ErrRegistryNotFound: компания в реестре не найдена.
	ErrRegistryNotFound = errors.New("company not found")
	// ErrRateLimited: превышен лимит запросов.
	ErrRateLimited = errors.New("Too many requests")
)

// IsIdempotencyConflict проверяет, связана ли ошибка с повторным использованием ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsValidation сообщает, относится ли ошибка к клиентским (400).
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrCartEmpty, ErrProductNotFound, ErrVariantNotFound, ErrPriceNotFound,
		ErrCourierNotFound, ErrShippingCostNotFound, ErrInvalidRequest, ErrRetryNotAllowed,
		ErrRegistryInvalidID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
