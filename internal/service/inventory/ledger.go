// Package inventory списывает и возвращает складские остатки по заказам.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Ledger применяет складские корректировки по строкам заказа.
// Сток и заказ не обновляются в одной транзакции: списание идёт после создания заказа,
// а возврат компенсирует его при отмене заказа или возврате товара.
type Ledger struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// NewLedger создаёт складской журнал.
func NewLedger(products domain.ProductRepository, orders domain.OrderRepository, timeline domain.TimelineRepository, m *metrics.CheckoutMetrics, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory-ledger")
	}
	return &Ledger{
		products: products,
		orders:   orders,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
	}
}

// Extract списывает сток по всем строкам заказа и увеличивает счётчик покупок.
// Флаг extractedFromStock выставляется только если все строки применены.
func (l *Ledger) Extract(ctx context.Context, order domain.Order) error {
	var errs []error
	for _, item := range order.Products {
		adj := adjustmentFor(order.ID, item, -item.Quantity, item.Quantity)
		if err := l.apply(ctx, "extract", adj); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("extract stock for order %s: %w", order.ID, errors.Join(errs...))
	}

	extracted := true
	if _, _, err := l.orders.Update(ctx, order.ID, domain.OrderDetailsPatch{ExtractedFromStock: &extracted}); err != nil {
		return fmt.Errorf("mark order %s extracted: %w", order.ID, err)
	}

	l.appendTimeline(ctx, order.ID, domain.TimelineStockExtracted)
	return nil
}

// Restore возвращает сток по заказу. Повторный вызов ничего не делает:
// флаг extractedFromStock снимается до применения корректировок.
// Если часть строк не применилась, применённые откатываются и флаг возвращается,
// так что повторная доставка события восстанавливает заказ целиком.
func (l *Ledger) Restore(ctx context.Context, orderID string) (bool, error) {
	extracted := false
	before, _, err := l.orders.Update(ctx, orderID, domain.OrderDetailsPatch{ExtractedFromStock: &extracted})
	if err != nil {
		return false, fmt.Errorf("claim stock restore for order %s: %w", orderID, err)
	}
	if !before.ExtractedFromStock {
		l.logger.WithField("order_id", orderID).Debug("stock already restored or never extracted")
		return false, nil
	}

	var (
		errs    []error
		applied []domain.StockAdjustment
	)
	for _, item := range before.Products {
		adj := adjustmentFor(orderID, item, item.Quantity, -item.Quantity)
		if err := l.apply(ctx, "restore", adj); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, adj)
	}
	if len(errs) > 0 {
		errs = append(errs, l.rollbackRestore(ctx, orderID, applied))
		return false, fmt.Errorf("restore stock for order %s: %w", orderID, errors.Join(errs...))
	}

	l.appendTimeline(ctx, orderID, domain.TimelineStockRestored)
	return true, nil
}

// rollbackRestore снова списывает уже возвращённые строки и выставляет флаг обратно.
func (l *Ledger) rollbackRestore(ctx context.Context, orderID string, applied []domain.StockAdjustment) error {
	var errs []error
	for _, adj := range applied {
		adj.StockDelta, adj.BoughtDelta = -adj.StockDelta, -adj.BoughtDelta
		if err := l.apply(ctx, "rollback", adj); err != nil {
			errs = append(errs, err)
		}
	}

	extracted := true
	if _, _, err := l.orders.Update(ctx, orderID, domain.OrderDetailsPatch{ExtractedFromStock: &extracted}); err != nil {
		errs = append(errs, fmt.Errorf("re-mark order %s extracted: %w", orderID, err))
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.WithError(err).WithField("order_id", orderID).Error("stock restore rollback incomplete")
		return err
	}
	return nil
}

func (l *Ledger) apply(ctx context.Context, direction string, adj domain.StockAdjustment) error {
	if errs := adj.Validate(); len(errs) > 0 {
		l.metrics.RecordStockAdjustment(direction, "invalid")
		return errors.Join(errs...)
	}

	if err := l.products.AdjustStock(ctx, adj); err != nil {
		l.metrics.RecordStockAdjustment(direction, "failed")
		l.logger.WithError(err).WithFields(log.Fields{
			"order_id":   adj.OrderID,
			"product_id": adj.ProductID,
			"variant":    adj.VariantSlug,
			"direction":  direction,
		}).Warn("stock adjustment failed")
		return err
	}

	l.metrics.RecordStockAdjustment(direction, "ok")
	return nil
}

func (l *Ledger) appendTimeline(ctx context.Context, orderID, eventType string) {
	if l.timeline == nil {
		return
	}
	if err := l.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Occurred: time.Now().UTC(),
	}); err != nil {
		l.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	l.metrics.RecordTimelineEvent()
}

func adjustmentFor(orderID string, item domain.OrderProduct, stockDelta, boughtDelta int64) domain.StockAdjustment {
	adj := domain.StockAdjustment{
		OrderID:     orderID,
		ProductID:   item.ProductID,
		StockDelta:  stockDelta,
		BoughtDelta: boughtDelta,
	}
	if item.HasVariant {
		adj.VariantSlug = item.VariantSlug
	}
	return adj
}
