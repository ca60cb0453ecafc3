// Package inventorytest provides an in-memory batch ledger store for tests.
package inventorytest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Store keeps batches and movements in memory. Tx methods do not lock; callers
// serialise through WithTx or their own transaction wrapper.
type Store struct {
	mu             sync.Mutex
	batches        map[int64]inventory.Batch
	movements      []inventory.StockMovement
	nextBatchID    int64
	nextMovementID int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{batches: make(map[int64]inventory.Batch)}
}

// Seed inserts a batch directly and returns it with its assigned id.
func (s *Store) Seed(b inventory.Batch) inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBatchID++
	b.ID = s.nextBatchID
	s.batches[b.ID] = b
	return b
}

// Batch returns a copy of the batch with id.
func (s *Store) Batch(id int64) inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[id]
}

// Movements returns a copy of all recorded movements.
func (s *Store) Movements() []inventory.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.movements)
}

// Snapshot captures current state and returns a function restoring it.
func (s *Store) Snapshot() func() {
	batches := maps.Clone(s.batches)
	movements := len(s.movements)
	nextBatch, nextMovement := s.nextBatchID, s.nextMovementID
	return func() {
		s.batches = batches
		s.movements = s.movements[:movements]
		s.nextBatchID, s.nextMovementID = nextBatch, nextMovement
	}
}

// WithTx runs fn against the store, restoring the snapshot when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.Snapshot()
	if err := fn(ctx, s); err != nil {
		restore()
		return err
	}
	return nil
}

// ListBatches implements inventory.RepositoryPort.
func (s *Store) ListBatches(_ context.Context, filter inventory.BatchFilter) ([]inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := inventory.DateOnly(time.Now())
	var out []inventory.Batch
	for _, id := range s.sortedIDs() {
		b := s.batches[id]
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && b.WarehouseID != filter.WarehouseID {
			continue
		}
		if !filter.IncludeEmpty && !b.Quantity.IsPositive() {
			continue
		}
		if !filter.IncludeExpired && b.IsExpired(today) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ListMovements implements inventory.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.StockMovement
	for _, mv := range s.movements {
		if filter.ProductID != 0 && mv.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && mv.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.BatchID != 0 && mv.BatchID != filter.BatchID {
			continue
		}
		if filter.Reference != "" && mv.Reference != filter.Reference {
			continue
		}
		out = append(out, mv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListBatchesForUpdate(_ context.Context, productID, warehouseID int64) ([]inventory.Batch, error) {
	var out []inventory.Batch
	for _, id := range s.sortedIDs() {
		b := s.batches[id]
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Quantity.IsPositive() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) GetBatchForUpdate(_ context.Context, id int64) (inventory.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return inventory.Batch{}, shared.NotFound("batch", id)
	}
	return b, nil
}

func (s *Store) FindBatchForUpdate(_ context.Context, productID, warehouseID int64, batchNumber string) (inventory.Batch, error) {
	for _, id := range s.sortedIDs() {
		b := s.batches[id]
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.BatchNumber == batchNumber {
			return b, nil
		}
	}
	return inventory.Batch{}, shared.NotFound("batch", 0)
}

func (s *Store) InsertBatch(_ context.Context, b inventory.Batch) (int64, error) {
	s.nextBatchID++
	b.ID = s.nextBatchID
	s.batches[b.ID] = b
	return b.ID, nil
}

func (s *Store) UpdateBatch(_ context.Context, b inventory.Batch) error {
	current, ok := s.batches[b.ID]
	if !ok {
		return shared.NotFound("batch", b.ID)
	}
	current.Quantity = b.Quantity
	current.CostPerUnit = b.CostPerUnit
	s.batches[b.ID] = current
	return nil
}

func (s *Store) InsertMovement(_ context.Context, mv inventory.StockMovement) (int64, error) {
	s.nextMovementID++
	mv.ID = s.nextMovementID
	s.movements = append(s.movements, mv)
	return mv.ID, nil
}

func (s *Store) ListMovementsByReference(_ context.Context, reference string) ([]inventory.StockMovement, error) {
	var out []inventory.StockMovement
	for _, mv := range s.movements {
		if mv.Reference == reference {
			out = append(out, mv)
		}
	}
	return out, nil
}

// Total sums quantity across every batch of a product in a warehouse.
func (s *Store) Total(productID, warehouseID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, b := range s.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID {
			total = total.Add(b.Quantity)
		}
	}
	return total
}

func (s *Store) sortedIDs() []int64 {
	return slices.Sorted(maps.Keys(s.batches))
}
