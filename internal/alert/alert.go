package alert

import (
	"context"

	"go.uber.org/zap"

	"restopos/backend/internal/domain"
)

// LogNotifier writes reorder alerts to the process log. It is the fallback
// when no Redis is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReorder(_ context.Context, alert domain.ReorderAlert) error {
	n.logger.Info("item at or below reorder point",
		zap.String("item_id", alert.ItemID),
		zap.String("sku", alert.SKU),
		zap.String("current_stock", alert.CurrentStock.String()),
		zap.String("reorder_point", alert.ReorderPoint.String()),
		zap.String("transaction_id", alert.TransactionID),
	)
	return nil
}
