package domain

import "time"

// Customer: зарегистрированный покупатель.
type Customer struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty"`
	LastBuyerType    BuyerType `json:"lastBuyerType,omitempty"`
	Shipping         Address   `json:"shipping"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Identity: авторизованный покупатель, извлечённый из токена запроса.
// Пустой ID означает гостя.
type Identity struct {
	CustomerID string
	Email      string
}

// Guest сообщает, что запрос выполнен без авторизации.
func (i Identity) Guest() bool {
	return i.CustomerID == ""
}
