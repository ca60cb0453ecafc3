package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status string

func (s status) String() string { return string(s) }

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		message  string
	}{
		{InvalidTransition("sales_order", status("DRAFT"), status("SHIPPED")), ErrInvalidStateTransition, "sales_order: cannot transition from DRAFT to SHIPPED"},
		{&InsufficientStockError{ProductID: 1, WarehouseID: 2, Required: decimal.NewFromInt(5), Available: decimal.NewFromInt(3)}, ErrInsufficientStock, "insufficient stock for product 1 in warehouse 2: required 5, available 3"},
		{&ExpiredBatchError{BatchID: 9, ExpiryDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}, ErrExpiredBatch, "batch 9 expired on 2025-01-31"},
		{NotFound("purchase_order", 4), ErrNotFound, "purchase_order 4 not found"},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("service: %w", tc.err)
		assert.ErrorIs(t, wrapped, tc.sentinel)
		assert.Equal(t, tc.message, tc.err.Error())
		assert.NotErrorIs(t, wrapped, ErrValidation)
	}

	var transition *StateTransitionError
	require.ErrorAs(t, fmt.Errorf("wrap: %w", InvalidTransition("po", status("SENT"), status("DRAFT"))), &transition)
	assert.Equal(t, "SENT", transition.From)
	assert.Equal(t, "DRAFT", transition.To)
}

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	for _, bad := range []string{"", "US", "ZZZ", "dollar"} {
		_, err := NormalizeCurrency(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestActorContext(t *testing.T) {
	assert.Zero(t, ActorFromContext(context.Background()))
	assert.Equal(t, int64(12), ActorFromContext(ContextWithActor(context.Background(), 12)))
}

func TestTransitionAudit(t *testing.T) {
	ctx := ContextWithActor(context.Background(), 3)
	log := TransitionAudit(ctx, "goods_receipt", 8, "DRAFT", "POSTED", map[string]any{"po_id": int64(2)})
	assert.Equal(t, int64(3), log.ActorID)
	assert.Equal(t, "goods_receipt:POSTED", log.Action)
	assert.Equal(t, "8", log.EntityID)
	assert.Equal(t, map[string]any{"po_id": int64(2), "from": "DRAFT", "to": "POSTED"}, log.Meta)
	assert.False(t, log.At.IsZero())
}

func TestApprovalRefIsStable(t *testing.T) {
	a := ApprovalRef("purchase_request", 1)
	assert.Equal(t, a, ApprovalRef("purchase_request", 1))
	assert.NotEqual(t, a, ApprovalRef("purchase_request", 2))
	assert.NotEqual(t, a, ApprovalRef("match_result", 1))
	assert.NotEqual(t, uuid.Nil, a)
}

func TestRecordersRejectIncompleteEntries(t *testing.T) {
	recorder := NewApprovalRecorder(nil, nil)
	ctx := context.Background()
	assert.Error(t, recorder.Record(ctx, ApprovalLog{ActorID: 1, RefID: ApprovalRef("m", 1), Action: ApprovalApprove}))
	assert.Error(t, recorder.Record(ctx, ApprovalLog{Module: "m", RefID: ApprovalRef("m", 1), Action: ApprovalApprove}))
	assert.Error(t, recorder.Record(ctx, ApprovalLog{Module: "m", ActorID: 1, Action: ApprovalApprove}))
	assert.Error(t, recorder.Record(ctx, ApprovalLog{Module: "m", ActorID: 1, RefID: ApprovalRef("m", 1)}))
	assert.ErrorIs(t, recorder.Record(ctx, ApprovalLog{Module: "m", ActorID: 1, RefID: ApprovalRef("m", 1), Action: "LGTM"}), ErrValidation)
	assert.Error(t, recorder.Record(ctx, ApprovalLog{Module: "m", ActorID: 1, RefID: ApprovalRef("m", 1), Action: ApprovalApprove}), "no pool")

	audit := NewAuditLogger(nil)
	assert.ErrorIs(t, audit.Record(ctx, AuditLog{Action: "x:POSTED"}), ErrValidation)
	assert.Error(t, audit.Record(ctx, AuditLog{Action: "x:POSTED", Entity: "x", EntityID: "1"}), "no pool")

	_, err := recorder.History(ctx, "m", 1)
	assert.Error(t, err)

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, ClaimKey(ctx, nil, "receipt", "", at), ErrValidation)
	assert.ErrorIs(t, ClaimKey(ctx, nil, "", "GR-1", at), ErrValidation)
	assert.Error(t, ClaimKey(ctx, nil, "receipt", "GR-1", at))

	var nilStore *IdempotencyStore
	purged, err := nilStore.Purge(ctx, time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, purged)
}

type keyTable struct {
	keys map[string]time.Time
	err  error
}

func (k *keyTable) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if k.err != nil {
		return pgconn.CommandTag{}, k.err
	}
	key := args[0].(string)
	if _, ok := k.keys[key]; ok {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	k.keys[key] = args[2].(time.Time)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestClaimKeyOncePerModule(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	table := &keyTable{keys: make(map[string]time.Time)}

	require.NoError(t, ClaimKey(ctx, table, "procurement.goods_receipt", "GR-1", at))
	assert.Equal(t, at, table.keys["procurement.goods_receipt:GR-1"])
	assert.ErrorIs(t, ClaimKey(ctx, table, "procurement.goods_receipt", "GR-1", at), ErrIdempotencyConflict)
	assert.NoError(t, ClaimKey(ctx, table, "sales.return", "GR-1", at), "modules namespace their keys")

	table.err = errors.New("conn reset")
	err := ClaimKey(ctx, table, "procurement.goods_receipt", "GR-2", at)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdempotencyConflict)
}
