package session

import (
	"context"
	"fmt"

	"github.com/trezcool/mahudhurio/core"
)

const defaultBatchSize = 100

// dispatcher fans a session alert out to enrolled participants through the
// push gateway.
type dispatcher struct {
	gateway   core.PushGateway
	batchSize int
	logger    core.Logger
}

func newDispatcher(gateway core.PushGateway, batchSize int, logger core.Logger) *dispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &dispatcher{gateway: gateway, batchSize: batchSize, logger: logger}
}

// send filters recipients down to valid push addresses, partitions them
// into bounded batches and sends the batches sequentially. A failing batch
// is recorded in the report and does not abort the remaining ones; an
// empty recipient set yields a zero-batch report.
func (d *dispatcher) send(ctx context.Context, recipients []Recipient, title, body string) core.DeliveryReport {
	addrs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if core.IsValidPushAddress(r.PushToken) {
			addrs = append(addrs, r.PushToken)
		}
	}

	report := core.DeliveryReport{Recipients: len(addrs)}
	if len(addrs) == 0 {
		return report
	}

	for start := 0; start < len(addrs); start += d.batchSize {
		end := start + d.batchSize
		if end > len(addrs) {
			end = len(addrs)
		}

		batch := make([]core.PushMessage, 0, end-start)
		for _, addr := range addrs[start:end] {
			batch = append(batch, core.NewPushMessage(addr, title, body))
		}

		report.Attempted++
		resp, err := d.gateway.SendBatch(ctx, batch)
		if err != nil {
			report.Failed++
			d.logger.Warn(fmt.Sprintf("push batch of %d failed", len(batch)), err)
		} else {
			report.Succeeded++
		}
		report.Batches = append(report.Batches, core.PushBatchResult{Size: len(batch), Response: resp, Err: err})
	}
	return report
}
