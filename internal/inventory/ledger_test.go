package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

func date(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fixedClock(s string) func() time.Time {
	t := *date(s)
	return func() time.Time { return t.Add(10 * time.Hour) }
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAllocateAndConsumeFEFO(t *testing.T) {
	store := inventorytest.NewStore()
	b1 := store.Seed(inventory.Batch{ProductID: 7, WarehouseID: 1, BatchNumber: "B1", Quantity: d(5), ExpiryDate: date("2025-01-01"), CostPerUnit: d(2)})
	b2 := store.Seed(inventory.Batch{ProductID: 7, WarehouseID: 1, BatchNumber: "B2", Quantity: d(10), ExpiryDate: date("2025-06-01"), CostPerUnit: d(3)})
	ledger := inventory.NewLedger(fixedClock("2024-12-15"))
	ctx := context.Background()

	var movements []inventory.StockMovement
	err := store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		allocs, err := ledger.NewAllocator(tx).Allocate(ctx, inventory.AllocationRequest{ProductID: 7, WarehouseID: 1, Quantity: d(8)})
		if err != nil {
			return err
		}
		movements, err = ledger.Consume(ctx, tx, allocs, "SO-1")
		return err
	})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.True(t, store.Batch(b1.ID).Quantity.IsZero())
	require.True(t, store.Batch(b2.ID).Quantity.Equal(d(7)))
	require.Equal(t, inventory.MovementOut, movements[0].Type)
	require.True(t, movements[0].Quantity.Equal(d(-5)))
	require.True(t, movements[1].Quantity.Equal(d(-3)))
	require.Equal(t, "SO-1", movements[1].Reference)
	require.Contains(t, movements[1].Note, "B2")
	require.True(t, movements[1].UnitCost.Equal(d(3)))
}

func TestAllocatorSessionCountsPlannedQuantity(t *testing.T) {
	store := inventorytest.NewStore()
	store.Seed(inventory.Batch{ProductID: 1, WarehouseID: 1, BatchNumber: "A", Quantity: d(5)})
	ledger := inventory.NewLedger(fixedClock("2025-01-01"))
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		alloc := ledger.NewAllocator(tx)
		if _, err := alloc.Allocate(ctx, inventory.AllocationRequest{ProductID: 1, WarehouseID: 1, Quantity: d(4)}); err != nil {
			return err
		}
		_, err := alloc.Allocate(ctx, inventory.AllocationRequest{ProductID: 1, WarehouseID: 1, Quantity: d(4)})
		return err
	})
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.True(t, stockErr.Available.Equal(d(1)))
}

func TestExplicitBatchRejectsExpired(t *testing.T) {
	store := inventorytest.NewStore()
	b := store.Seed(inventory.Batch{ProductID: 1, WarehouseID: 1, BatchNumber: "OLD", Quantity: d(5), ExpiryDate: date("2024-12-31")})
	ledger := inventory.NewLedger(fixedClock("2025-01-01"))
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := ledger.NewAllocator(tx).Allocate(ctx, inventory.AllocationRequest{
			ProductID: 1, WarehouseID: 1, Quantity: d(1), Policy: inventory.PolicyExplicitBatch, BatchID: b.ID,
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrExpiredBatch)
	var expired *shared.ExpiredBatchError
	require.ErrorAs(t, err, &expired)
	require.Equal(t, b.ID, expired.BatchID)
}

func TestExplicitBatchWrongProductIsNotFound(t *testing.T) {
	store := inventorytest.NewStore()
	b := store.Seed(inventory.Batch{ProductID: 2, WarehouseID: 1, BatchNumber: "X", Quantity: d(5)})
	ledger := inventory.NewLedger(fixedClock("2025-01-01"))
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := ledger.NewAllocator(tx).Allocate(ctx, inventory.AllocationRequest{
			ProductID: 1, WarehouseID: 1, Quantity: d(1), Policy: inventory.PolicyExplicitBatch, BatchID: b.ID,
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReserveOrConsumeRereadsBatch(t *testing.T) {
	store := inventorytest.NewStore()
	b := store.Seed(inventory.Batch{ProductID: 1, WarehouseID: 1, BatchNumber: "A", Quantity: d(5)})
	ledger := inventory.NewLedger(fixedClock("2025-01-01"))
	ctx := context.Background()
	err := store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		allocs, err := ledger.NewAllocator(tx).Allocate(ctx, inventory.AllocationRequest{ProductID: 1, WarehouseID: 1, Quantity: d(5)})
		if err != nil {
			return err
		}
		// concurrent consumer drained part of the batch after planning
		batch, _ := tx.GetBatchForUpdate(ctx, b.ID)
		batch.Quantity = d(2)
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		_, err = ledger.Consume(ctx, tx, allocs, "SO-2")
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.True(t, store.Batch(b.ID).Quantity.Equal(d(5)), "failed transaction must roll back")
	require.Empty(t, store.Movements())
}

func TestReceiveCreatesThenBlendsCost(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := inventory.NewLedger(fixedClock("2025-01-01"))
	ctx := context.Background()
	in := inventory.ReceiveInput{ProductID: 1, WarehouseID: 1, BatchNumber: "LOT-9", Quantity: d(10), CostPerUnit: d(2), ExpiryDate: date("2026-01-01"), Reference: "GR-1"}

	var first, second inventory.Batch
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		first, _, err = ledger.Receive(ctx, tx, in)
		return err
	}))
	in.CostPerUnit = d(4)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		second, _, err = ledger.Receive(ctx, tx, in)
		return err
	}))
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.Quantity.Equal(d(20)))
	require.True(t, second.CostPerUnit.Equal(d(3)))

	movements := store.Movements()
	require.Len(t, movements, 2)
	for _, mv := range movements {
		require.Equal(t, inventory.MovementIn, mv.Type)
		require.True(t, mv.Quantity.Equal(d(10)))
	}
}

func TestReceiveRejectsMixedExpiry(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := inventory.NewLedger(fixedClock("2025-01-01"))
	ctx := context.Background()
	receive := func(expiry *time.Time) error {
		return store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
			_, _, err := ledger.Receive(ctx, tx, inventory.ReceiveInput{
				ProductID: 1, WarehouseID: 1, BatchNumber: "LOT-3", Quantity: d(5), CostPerUnit: d(1), ExpiryDate: expiry,
			})
			return err
		})
	}

	require.NoError(t, receive(date("2026-01-01")))
	require.ErrorIs(t, receive(date("2026-02-01")), shared.ErrValidation)
	require.ErrorIs(t, receive(nil), shared.ErrValidation)

	sameDay := date("2026-01-01").Add(15 * time.Hour)
	require.NoError(t, receive(&sameDay))

	batches, err := store.ListBatches(ctx, inventory.BatchFilter{ProductID: 1, WarehouseID: 1, IncludeExpired: true})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.True(t, batches[0].Quantity.Equal(d(10)))
	require.Equal(t, "2026-01-01", batches[0].ExpiryDate.Format(time.DateOnly))
	require.Len(t, store.Movements(), 2)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, _, err := ledger.Receive(ctx, tx, inventory.ReceiveInput{ProductID: 1, WarehouseID: 1, BatchNumber: "LOT-4", Quantity: d(1)})
		return err
	}))
	require.ErrorIs(t, store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, _, err := ledger.Receive(ctx, tx, inventory.ReceiveInput{ProductID: 1, WarehouseID: 1, BatchNumber: "LOT-4", Quantity: d(1), ExpiryDate: date("2026-01-01")})
		return err
	}), shared.ErrValidation)
}

func TestReceiveValidatesInput(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := inventory.NewLedger(nil)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		_, _, err := ledger.Receive(ctx, tx, inventory.ReceiveInput{ProductID: 1, WarehouseID: 1, BatchNumber: " ", Quantity: d(1)})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustCannotGoNegative(t *testing.T) {
	store := inventorytest.NewStore()
	b := store.Seed(inventory.Batch{ProductID: 1, WarehouseID: 1, BatchNumber: "A", Quantity: d(3)})
	ledger := inventory.NewLedger(nil)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		_, _, err := ledger.Adjust(ctx, tx, inventory.AdjustmentInput{BatchID: b.ID, Delta: d(-4)})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.True(t, store.Batch(b.ID).Quantity.Equal(d(3)))
}
