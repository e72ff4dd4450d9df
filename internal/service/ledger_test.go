package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

func TestPurchaseAutoAppliesAndRollsCost(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "tomatoes", "100", "10.0")
	requireDecimal(t, "1000", item.Value)

	txn, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxPurchase,
		Quantity: dec("50"),
		UnitCost: decPtr("12.0"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusApproved, txn.Status)
	require.Equal(t, domain.DirectionIn, txn.Direction)
	require.Equal(t, domain.SystemActor, txn.ReviewedBy)
	require.Equal(t, "chef", txn.CreatedBy)
	requireDecimal(t, "100", txn.PreviousStock)
	requireDecimal(t, "150", txn.NewStock)
	requireDecimal(t, "600", txn.ValueChange)

	got := env.item(t, item.ID)
	requireDecimal(t, "150", got.CurrentStock)
	requireDecimal(t, "12", got.CostPerUnit)
	requireDecimal(t, "1800", got.Value)
	env.requireLedgerConsistent(t)
}

func TestSaleReducesStockWithoutTouchingCost(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "flour", "40", "0.95")

	txn, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxSale,
		Quantity: dec("12.5"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.DirectionOut, txn.Direction)
	requireDecimal(t, "-11.875", txn.ValueChange)

	got := env.item(t, item.ID)
	requireDecimal(t, "27.5", got.CurrentStock)
	requireDecimal(t, "0.95", got.CostPerUnit)
	env.requireLedgerConsistent(t)
}

func TestSubtractiveTransactionBeyondStockWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "basil", "3", "1.20")

	_, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxProduction,
		Quantity: dec("4"),
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	txns, err := env.svc.ListItemTransactions(env.ctx, item.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1, "only the opening INITIAL transaction")
	requireDecimal(t, "3", env.item(t, item.ID).CurrentStock)
}

func TestAdjustmentWaitsForApprovalAndAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "oil", "30", "6.40")

	txn, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxAdjustment,
		Quantity: dec("-4"),
		Notes:    "bottle broke",
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusPending, txn.Status)
	require.Equal(t, domain.DirectionOut, txn.Direction)
	requireDecimal(t, "4", txn.Quantity)
	requireDecimal(t, "30", env.item(t, item.ID).CurrentStock)

	approved, err := env.svc.ApproveTransaction(env.ctx, txn.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusApproved, approved.Status)
	require.Equal(t, "manager", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)
	requireDecimal(t, "26", env.item(t, item.ID).CurrentStock)

	_, err = env.svc.ApproveTransaction(env.ctx, txn.ID, "manager")
	require.ErrorIs(t, err, store.ErrInvalidState)
	_, err = env.svc.RejectTransaction(env.ctx, txn.ID, "manager")
	require.ErrorIs(t, err, store.ErrInvalidState)
	requireDecimal(t, "26", env.item(t, item.ID).CurrentStock)
	env.requireLedgerConsistent(t)
}

func TestApprovalRebasesOnCurrentStock(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "cheese", "20", "8.50")

	pending, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxAdjustment,
		Quantity: dec("-15"),
	})
	require.NoError(t, err)
	requireDecimal(t, "20", pending.PreviousStock)

	_, err = env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxSale,
		Quantity: dec("10"),
	})
	require.NoError(t, err)

	_, err = env.svc.ApproveTransaction(env.ctx, pending.ID, "manager")
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	stillPending, err := env.svc.GetTransaction(env.ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusPending, stillPending.Status)
	requireDecimal(t, "10", env.item(t, item.ID).CurrentStock)

	_, err = env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxPurchase,
		Quantity: dec("10"),
		UnitCost: decPtr("9"),
	})
	require.NoError(t, err)

	approved, err := env.svc.ApproveTransaction(env.ctx, pending.ID, "manager")
	require.NoError(t, err)
	requireDecimal(t, "20", approved.PreviousStock)
	requireDecimal(t, "5", approved.NewStock)
	requireDecimal(t, "9", approved.UnitCost)
	requireDecimal(t, "-135", approved.ValueChange)
	env.requireLedgerConsistent(t)
}

func TestRejectLeavesItemUnchanged(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "chicken", "18", "7.80")
	before := env.item(t, item.ID)

	txn, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxAdjustment,
		Quantity: dec("6"),
		UnitCost: decPtr("1"),
	})
	require.NoError(t, err)

	rejected, err := env.svc.RejectTransaction(env.ctx, txn.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusRejected, rejected.Status)

	after := env.item(t, item.ID)
	require.True(t, before.CurrentStock.Equal(after.CurrentStock))
	require.True(t, before.CostPerUnit.Equal(after.CostPerUnit))
	require.True(t, before.Value.Equal(after.Value))

	_, err = env.svc.ApproveTransaction(env.ctx, txn.ID, "manager")
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestTransferIsNotSupported(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "napkins", "100", "0.02")

	_, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxTransfer,
		Quantity: dec("10"),
	})
	require.ErrorIs(t, err, store.ErrUnsupported)
}

func TestCreateTransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "salt", "10", "0.50")

	cases := []struct {
		name string
		req  domain.TransactionCreateRequest
		want error
	}{
		{"unknown type", domain.TransactionCreateRequest{ItemID: item.ID, Type: "GIFT", Quantity: dec("1")}, store.ErrValidation},
		{"zero quantity", domain.TransactionCreateRequest{ItemID: item.ID, Type: domain.TxPurchase, Quantity: dec("0")}, store.ErrValidation},
		{"negative purchase", domain.TransactionCreateRequest{ItemID: item.ID, Type: domain.TxPurchase, Quantity: dec("-1")}, store.ErrValidation},
		{"negative cost", domain.TransactionCreateRequest{ItemID: item.ID, Type: domain.TxPurchase, Quantity: dec("1"), UnitCost: decPtr("-2")}, store.ErrValidation},
		{"quantity beyond four places", domain.TransactionCreateRequest{ItemID: item.ID, Type: domain.TxPurchase, Quantity: dec("0.00001")}, store.ErrValidation},
		{"cost beyond four places", domain.TransactionCreateRequest{ItemID: item.ID, Type: domain.TxPurchase, Quantity: dec("3"), UnitCost: decPtr("0.33333")}, store.ErrValidation},
		{"loss outside workflow", domain.TransactionCreateRequest{ItemID: item.ID, Type: domain.TxLoss, Quantity: dec("1")}, store.ErrValidation},
		{"missing item", domain.TransactionCreateRequest{ItemID: "item-missing", Type: domain.TxSale, Quantity: dec("1")}, store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreateTransaction(env.ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDirectionCoversEveryType(t *testing.T) {
	for _, txType := range domain.TransactionTypes() {
		dir, err := direction(txType, dec("1"))
		if txType == domain.TxTransfer {
			require.ErrorIs(t, err, store.ErrUnsupported)
			continue
		}
		require.NoError(t, err, txType)
		require.Contains(t, []domain.Direction{domain.DirectionIn, domain.DirectionOut}, dir)
	}
}

func TestReorderAlertFiresAtReorderPoint(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "mozzarella", "8", "8.50")

	_, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxSale,
		Quantity: dec("3"),
	})
	require.NoError(t, err)

	require.Len(t, env.notifier.alerts, 1)
	alert := env.notifier.alerts[0]
	require.Equal(t, item.ID, alert.ItemID)
	requireDecimal(t, "5", alert.CurrentStock)
}

func TestGenericApproveOfLossTransactionGoesThroughLossWorkflow(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "lettuce", "10", "2")

	loss, err := env.svc.ReportLoss(env.ctx, domain.LossReportRequest{
		ItemID:   item.ID,
		Quantity: dec("4"),
		Reason:   domain.LossSpoilage,
	})
	require.NoError(t, err)

	txn, err := env.svc.ApproveTransaction(env.ctx, loss.TransactionID, "manager")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusApproved, txn.Status)

	got, err := env.svc.GetLoss(env.ctx, loss.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusApproved, got.Status)
	require.NotEmpty(t, got.FinancialEntryID)
	requireDecimal(t, "6", env.item(t, item.ID).CurrentStock)
}

func TestSuppliedCostRollsOnApprovalWhateverTheType(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "butter", "10", "5")

	pending, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxAdjustment,
		Quantity: dec("4"),
		UnitCost: decPtr("7"),
	})
	require.NoError(t, err)
	require.True(t, pending.CostSupplied)
	requireDecimal(t, "5", env.item(t, item.ID).CostPerUnit)

	approved, err := env.svc.ApproveTransaction(env.ctx, pending.ID, "manager")
	require.NoError(t, err)
	requireDecimal(t, "7", approved.UnitCost)
	requireDecimal(t, "28", approved.ValueChange)

	got := env.item(t, item.ID)
	requireDecimal(t, "14", got.CurrentStock)
	requireDecimal(t, "7", got.CostPerUnit)
	requireDecimal(t, "98", got.Value)

	_, err = env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxSale,
		Quantity: dec("2"),
		UnitCost: decPtr("6.5"),
	})
	require.NoError(t, err)

	got = env.item(t, item.ID)
	requireDecimal(t, "12", got.CurrentStock)
	requireDecimal(t, "6.5", got.CostPerUnit)
	requireDecimal(t, "78", got.Value)
	env.requireLedgerConsistent(t)
}

func TestFourPlaceAmountsKeepValueExact(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "saffron", "0", "0")

	txn, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxPurchase,
		Quantity: dec("3.3333"),
		UnitCost: decPtr("0.3333"),
	})
	require.NoError(t, err)
	requireDecimal(t, "1.11098889", txn.ValueChange)

	// trailing zeros are not extra precision
	_, err = env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
		ItemID:   item.ID,
		Type:     domain.TxSale,
		Quantity: dec("1.50000"),
	})
	require.NoError(t, err)

	got := env.item(t, item.ID)
	requireDecimal(t, "1.8333", got.CurrentStock)
	requireDecimal(t, "0.61103889", got.Value)
	env.requireLedgerConsistent(t)
}
