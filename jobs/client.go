package jobs

import (
	"context"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
)

// Enqueuer submits tasks; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client submits jobs to the queue and schedules matches when procurement
// documents change.
type Client struct {
	client Enqueuer
	logger *slog.Logger
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, logger *slog.Logger) (*Client, error) {
	return NewClientWith(asynq.NewClient(redisOpts), logger), nil
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: enqueuer, logger: logger}
}

// EnqueueMatch schedules a three-way match for poID.
func (c *Client) EnqueueMatch(ctx context.Context, poID int64, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewMatchTask(poID, trigger)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// HandleGoodsReceiptPosted implements procurement.IntegrationHandler.
func (c *Client) HandleGoodsReceiptPosted(ctx context.Context, evt procurement.GoodsReceiptPostedEvent) error {
	info, err := c.EnqueueMatch(ctx, evt.POID, "goods_receipt:"+evt.Number)
	if err != nil {
		return err
	}
	c.logger.Debug("match enqueued", slog.Int64("po_id", evt.POID), slog.String("task_id", info.ID))
	return nil
}

// HandleVendorBillRecorded implements procurement.IntegrationHandler. Bills
// without a purchase order have nothing to match.
func (c *Client) HandleVendorBillRecorded(ctx context.Context, evt procurement.VendorBillRecordedEvent) error {
	if evt.POID == nil {
		return nil
	}
	info, err := c.EnqueueMatch(ctx, *evt.POID, "vendor_bill:"+evt.Number)
	if err != nil {
		return err
	}
	c.logger.Debug("match enqueued", slog.Int64("po_id", *evt.POID), slog.String("task_id", info.ID))
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	if closer, ok := c.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
