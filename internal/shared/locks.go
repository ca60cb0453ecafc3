package shared

import "fmt"

// MatchSweepLockKey is the redis key guarding the periodic three-way match sweep.
const MatchSweepLockKey = "procurement:match:sweep:lock"

// PurchaseOrderLockKey builds redis keys for per-order background work.
func PurchaseOrderLockKey(poID int64) string {
	return fmt.Sprintf("procurement:po:%d:lock", poID)
}
