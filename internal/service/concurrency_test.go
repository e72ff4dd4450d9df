package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

func TestConcurrentSalesNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "lemons", "100", "0.40")

	var (
		wg      sync.WaitGroup
		sold    atomic.Int32
		refused atomic.Int32
		other   = make(chan error, 50)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
				ItemID:   item.ID,
				Type:     domain.TxSale,
				Quantity: dec("3"),
			})
			switch {
			case err == nil:
				sold.Add(1)
			case errors.Is(err, store.ErrInsufficientStock):
				refused.Add(1)
			default:
				other <- err
			}
		}()
	}
	wg.Wait()
	close(other)
	for err := range other {
		require.NoError(t, err)
	}

	require.EqualValues(t, 33, sold.Load())
	require.EqualValues(t, 17, refused.Load())
	requireDecimal(t, "1", env.item(t, item.ID).CurrentStock)

	sales, err := env.svc.ListTransactions(env.ctx, domain.TransactionFilter{ItemID: item.ID, Type: domain.TxSale})
	require.NoError(t, err)
	require.Len(t, sales, 33)
	env.requireLedgerConsistent(t)
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	item := env.newItem(t, "rice", "10", "1.20")

	pending := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		txn, err := env.svc.CreateTransaction(env.ctx, domain.TransactionCreateRequest{
			ItemID:   item.ID,
			Type:     domain.TxAdjustment,
			Quantity: dec("2"),
		})
		require.NoError(t, err)
		pending = append(pending, txn.ID)
	}

	var (
		wg       sync.WaitGroup
		approved atomic.Int32
		repeated atomic.Int32
	)
	for _, id := range pending {
		id := id
		for reviewer := 0; reviewer < 4; reviewer++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.svc.ApproveTransaction(env.ctx, id, "manager")
				switch {
				case err == nil:
					approved.Add(1)
				case errors.Is(err, store.ErrInvalidState):
					repeated.Add(1)
				}
			}()
		}
	}
	wg.Wait()

	require.EqualValues(t, 5, approved.Load())
	require.EqualValues(t, 15, repeated.Load())
	requireDecimal(t, "20", env.item(t, item.ID).CurrentStock)
	env.requireLedgerConsistent(t)
}
