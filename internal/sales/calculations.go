package sales

import "github.com/shopspring/decimal"

// CalculateLineTotal returns quantity × unit price rounded to cents.
func CalculateLineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(2)
}

// weightedUnitCost averages |quantity| × cost across movements.
func weightedUnitCost(quantities, costs []decimal.Decimal) decimal.Decimal {
	totalQty, totalValue := decimal.Zero, decimal.Zero
	for i := range quantities {
		q := quantities[i].Abs()
		totalQty = totalQty.Add(q)
		totalValue = totalValue.Add(q.Mul(costs[i]))
	}
	if !totalQty.IsPositive() {
		return decimal.Zero
	}
	return totalValue.DivRound(totalQty, 4)
}
