package procurement

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const tolerancesYAML = `
default:
  quantity_pct: 1
overrides:
  - currency: usd
    price_pct: 3
  - supplier_id: 4
    quantity_pct: 10
  - supplier_id: 4
    currency: USD
    price_pct: 0
    price_floor: 0
`

func TestDefaultTolerance(t *testing.T) {
	tol := DefaultTolerance()
	assert.Equal(t, "0.2", tol.QuantityLimit(dec("10")).String())
	assert.Equal(t, "50", tol.PriceLimit(dec("1000")).String())
	assert.Equal(t, "0.01", tol.PriceLimit(dec("0.1")).String(), "floor applies to small totals")

	var nilPolicy *TolerancePolicy
	assert.Equal(t, DefaultTolerance(), nilPolicy.Resolve(1, "IDR"))
}

func TestTolerancePolicySpecificity(t *testing.T) {
	policy, err := ParseTolerancePolicy([]byte(tolerancesYAML), DefaultTolerance())
	require.NoError(t, err)

	base := policy.Resolve(1, "IDR")
	assert.Equal(t, "1", base.QuantityPct.String())
	assert.Equal(t, "5", base.PricePct.String(), "unset defaults keep their fallback")

	byCurrency := policy.Resolve(1, "usd")
	assert.Equal(t, "3", byCurrency.PricePct.String())
	assert.Equal(t, "1", byCurrency.QuantityPct.String())

	bySupplier := policy.Resolve(4, "IDR")
	assert.Equal(t, "10", bySupplier.QuantityPct.String())
	assert.Equal(t, "5", bySupplier.PricePct.String())

	exact := policy.Resolve(4, "USD")
	assert.True(t, exact.PricePct.IsZero())
	assert.True(t, exact.PriceFloor.IsZero())
	assert.Equal(t, "1", exact.QuantityPct.String(), "the most specific override alone applies")
}

func TestParseTolerancePolicyRejectsBadInput(t *testing.T) {
	_, err := ParseTolerancePolicy([]byte("default:\n  price_pct: -1\n"), DefaultTolerance())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = ParseTolerancePolicy([]byte("overrides:\n  - price_pct: 2\n"), DefaultTolerance())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = ParseTolerancePolicy([]byte("overrides:\n  - supplier_id: 3\n    quantity_pct: -4\n"), DefaultTolerance())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = ParseTolerancePolicy([]byte("default: [1, 2"), DefaultTolerance())
	assert.Error(t, err)
}

func TestLoadTolerancePolicy(t *testing.T) {
	policy, err := LoadTolerancePolicy("", DefaultTolerance())
	require.NoError(t, err)
	assert.Equal(t, DefaultTolerance(), policy.Resolve(4, "USD"))

	path := filepath.Join(t.TempDir(), "tolerances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tolerancesYAML), 0o600))
	policy, err = LoadTolerancePolicy(path, DefaultTolerance())
	require.NoError(t, err)
	assert.Equal(t, "10", policy.Resolve(4, "EUR").QuantityPct.String())

	_, err = LoadTolerancePolicy(filepath.Join(t.TempDir(), "missing.yaml"), DefaultTolerance())
	assert.Error(t, err)
}

func TestEvaluateMatchHonoursSupplierOverride(t *testing.T) {
	policy, err := ParseTolerancePolicy([]byte(tolerancesYAML), DefaultTolerance())
	require.NoError(t, err)

	po := PurchaseOrder{ID: 1, SupplierID: 4, Currency: "USD", TotalAmount: dec("1000"),
		Lines: []POLine{{ProductID: 7, Quantity: dec("10"), UnitPrice: dec("100"), LineTotal: dec("1000")}}}
	receipts := []GoodsReceipt{{ID: 2, POID: 1, Status: GRStatusPosted, Lines: []GRLine{{ProductID: 7, Quantity: dec("10")}}}}
	bills := []VendorBill{{ID: 3, TotalAmount: dec("1000.5"), Status: BillStatusPosted}}

	strict := EvaluateMatch(po, receipts, bills, policy.Resolve(po.SupplierID, po.Currency))
	assert.Equal(t, MatchPriceMismatch, strict.Status)
	assert.Equal(t, "0.5", strict.PriceVariance.String())

	lenient := EvaluateMatch(po, receipts, bills, DefaultTolerance())
	assert.Equal(t, MatchMatched, lenient.Status)
	require.NotNil(t, lenient.GRID)
	assert.Equal(t, int64(2), *lenient.GRID)
	require.NotNil(t, lenient.BillID)
	assert.Equal(t, int64(3), *lenient.BillID)
}

func TestEvaluateMatchWithoutDocuments(t *testing.T) {
	po := PurchaseOrder{ID: 1, TotalAmount: dec("10"), Lines: []POLine{{ProductID: 7, Quantity: dec("1")}}}
	result := EvaluateMatch(po, nil, nil, DefaultTolerance())
	assert.Equal(t, MatchPending, result.Status)
	assert.Nil(t, result.GRID)
	assert.Nil(t, result.BillID)
	assert.True(t, result.QuantityVariance.IsZero())
}
