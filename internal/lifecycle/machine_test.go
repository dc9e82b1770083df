package lifecycle_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-ledger/internal/boltdb"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

type fixture struct {
	store   ledger.Store
	stock   *inventory.Service
	machine *lifecycle.Machine
	changes []lifecycle.Change
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	store, err := boltdb.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpsertProduct(ctx, &orders.Product{ID: "p1", Name: "P1", Price: decimal.NewFromInt(20), Stock: stock, IsActive: true})
	}))

	f := &fixture{store: store}
	f.stock = inventory.New(store, logger.Nop(), inventory.Options{})
	f.machine = lifecycle.New(store, f.stock, logger.Nop(), nil, lifecycle.HookFunc(func(_ context.Context, c lifecycle.Change) error {
		f.changes = append(f.changes, c)
		return nil
	}))
	return f
}

// placeOrder reserves qty of p1 and stores an order in the given status.
func (f *fixture) placeOrder(t *testing.T, id string, qty int, status orders.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := f.stock.ReserveTx(ctx, tx, id, []orders.ItemQty{{ProductID: "p1", Qty: qty}}, orders.SystemActor); err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.InsertOrder(ctx, &orders.Order{
			ID: id, UserID: "u1", Status: status, StockReserved: true,
			Items:     []orders.OrderItem{{ID: id + "-1", OrderID: id, ProductID: "p1", Quantity: qty, UnitPrice: decimal.NewFromInt(20)}},
			CreatedAt: now, UpdatedAt: now,
		})
	}))
}

func (f *fixture) stockLevel(t *testing.T) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	return p.Stock
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to orders.Status
		ok       bool
	}{
		{orders.StatusPending, orders.StatusProcessing, true},
		{orders.StatusPending, orders.StatusPaid, false},
		{orders.StatusProcessing, orders.StatusPaid, true},
		{orders.StatusPaid, orders.StatusCancelled, false},
		{orders.StatusShipped, orders.StatusDelivered, true},
		{orders.StatusDelivered, orders.StatusShipped, false},
		{orders.StatusRefunded, orders.StatusPaid, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			f := newFixture(t, 10)
			f.placeOrder(t, "o1", 1, tc.from)

			_, err := f.machine.Transition(context.Background(), "o1", tc.to, orders.SystemActor)
			o, gerr := f.store.GetOrder(context.Background(), "o1")
			require.NoError(t, gerr)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, o.Status)
				return
			}
			var ite *orders.InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			assert.Equal(t, tc.from, ite.From)
			assert.Equal(t, tc.from, o.Status, "order untouched")
		})
	}
}

func TestCancelReleasesStockOnce(t *testing.T) {
	f := newFixture(t, 10)
	f.placeOrder(t, "o1", 3, orders.StatusPending)
	require.Equal(t, 7, f.stockLevel(t))
	ctx := context.Background()

	ch, err := f.machine.Transition(ctx, "o1", orders.StatusCancelled, orders.Actor{ID: "u1", Role: orders.RoleCustomer})
	require.NoError(t, err)
	assert.True(t, ch.StockReleased)
	assert.Equal(t, 10, f.stockLevel(t))

	ch, err = f.machine.Transition(ctx, "o1", orders.StatusCancelled, orders.SystemActor)
	require.NoError(t, err)
	assert.True(t, ch.NoOp)
	assert.Equal(t, 10, f.stockLevel(t))
	assert.Len(t, f.changes, 1, "hooks skip no-op changes")

	o, err := f.store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, o.StockReleased)
}

func TestRefundAfterDeliveryReleasesStock(t *testing.T) {
	f := newFixture(t, 10)
	f.placeOrder(t, "o1", 4, orders.StatusDelivered)
	ctx := context.Background()

	_, err := f.machine.Transition(ctx, "o1", orders.StatusRefunded, orders.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 10, f.stockLevel(t))

	ch, err := f.machine.Transition(ctx, "o1", orders.StatusRefunded, orders.SystemActor)
	require.NoError(t, err)
	assert.True(t, ch.NoOp)
	assert.Equal(t, 10, f.stockLevel(t))
}

func TestRevertRefundReservesAgain(t *testing.T) {
	f := newFixture(t, 10)
	f.placeOrder(t, "o1", 3, orders.StatusPaid)
	ctx := context.Background()

	_, err := f.machine.Transition(ctx, "o1", orders.StatusRefunded, orders.SystemActor)
	require.NoError(t, err)
	require.Equal(t, 10, f.stockLevel(t))

	require.NoError(t, f.store.WithTx(ctx, func(tx ledger.Tx) error {
		o, err := tx.LockOrder(ctx, "o1")
		if err != nil {
			return err
		}
		_, err = f.machine.RevertRefundTx(ctx, tx, o, orders.SystemActor)
		return err
	}))

	o, err := f.store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.True(t, o.HoldsStock())
	assert.Equal(t, 7, f.stockLevel(t))
}

func TestRevertRefundWithoutStockStillReverts(t *testing.T) {
	f := newFixture(t, 3)
	f.placeOrder(t, "o1", 3, orders.StatusPaid)
	ctx := context.Background()

	_, err := f.machine.Transition(ctx, "o1", orders.StatusRefunded, orders.SystemActor)
	require.NoError(t, err)
	_, err = f.stock.Adjust(ctx, "p1", -2, orders.ReasonDamage, "", orders.SystemActor)
	require.NoError(t, err)

	require.NoError(t, f.store.WithTx(ctx, func(tx ledger.Tx) error {
		o, err := tx.LockOrder(ctx, "o1")
		if err != nil {
			return err
		}
		_, err = f.machine.RevertRefundTx(ctx, tx, o, orders.SystemActor)
		return err
	}))

	o, err := f.store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.False(t, o.HoldsStock())
	assert.Equal(t, 1, f.stockLevel(t))
}

func TestHookErrorsAreNotReturned(t *testing.T) {
	f := newFixture(t, 10)
	f.placeOrder(t, "o1", 1, orders.StatusPending)
	f.machine.AddHook(lifecycle.HookFunc(func(context.Context, lifecycle.Change) error {
		return errors.New("broker down")
	}))

	_, err := f.machine.Transition(context.Background(), "o1", orders.StatusProcessing, orders.SystemActor)
	require.NoError(t, err)
}

func TestUnknownOrder(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.machine.Transition(context.Background(), "nope", orders.StatusCancelled, orders.SystemActor)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
