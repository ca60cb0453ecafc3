package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCoversRepositories(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_fulfillment.sql", names[0])

	body, err := Files.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{
		"batches", "stock_movements", "sales_orders", "sales_order_items", "invoices", "invoice_lines",
		"purchase_requests", "purchase_request_lines", "approval_rules", "purchase_request_approvals",
		"purchase_orders", "purchase_order_lines", "goods_receipts", "goods_receipt_lines",
		"vendor_bills", "match_results", "approvals", "audit_logs", "idempotency_keys",
	} {
		assert.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
