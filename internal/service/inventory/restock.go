package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// RestockHandler возвращает товар на склад, когда заказ переходит в cancelled или returned.
type RestockHandler struct {
	ledger *Ledger
	logger *log.Entry
}

// NewRestockHandler создаёт обработчик order.status_changed.
func NewRestockHandler(ledger *Ledger, logger *log.Entry) *RestockHandler {
	if logger == nil {
		logger = log.WithField("component", "restock")
	}
	return &RestockHandler{ledger: ledger, logger: logger}
}

// Handle обрабатывает событие outbox. Прочие типы событий игнорируются.
func (h *RestockHandler) Handle(ctx context.Context, msg domain.OutboxMessage) error {
	change, ok, err := msg.StatusChange()
	if err != nil {
		return err
	}
	if !ok || !change.To.ReleasesStock() {
		return nil
	}

	restored, err := h.ledger.Restore(ctx, change.OrderID)
	if err != nil {
		return fmt.Errorf("restore stock for order %s: %w", change.OrderID, err)
	}
	if restored {
		h.logger.WithFields(log.Fields{"order_id": change.OrderID, "status": change.To}).Info("stock restored")
	}
	return nil
}
