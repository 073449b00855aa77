package dummypush

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

// Gateway records every batch it is handed; tests can script per-call
// failures with FailCalls (1-based call indexes).
type Gateway struct {
	mu        sync.Mutex
	batches   [][]core.PushMessage
	calls     int
	FailCalls map[int]bool
}

var _ core.PushGateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{FailCalls: make(map[int]bool)}
}

func (g *Gateway) SendBatch(ctx context.Context, batch []core.PushMessage) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	batchCopy := make([]core.PushMessage, len(batch))
	copy(batchCopy, batch)
	g.batches = append(g.batches, batchCopy)

	if g.FailCalls[g.calls] {
		return nil, errors.Errorf("simulated gateway error on call %d", g.calls)
	}
	return []byte(`{"data":[{"status":"ok"}]}`), nil
}

// Batches returns the batches attempted so far, in order.
func (g *Gateway) Batches() [][]core.PushMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	batches := make([][]core.PushMessage, len(g.batches))
	copy(batches, g.batches)
	return batches
}
