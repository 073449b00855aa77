package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

type fakeGateway struct {
	batches   [][]core.PushMessage
	failCalls map[int]bool // 1-based call index -> fail
}

func (g *fakeGateway) SendBatch(ctx context.Context, batch []core.PushMessage) ([]byte, error) {
	g.batches = append(g.batches, batch)
	if g.failCalls[len(g.batches)] {
		return nil, errors.New("gateway down")
	}
	return []byte(`{"data":[{"status":"ok"}]}`), nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func makeRecipients(n int) []Recipient {
	rs := make([]Recipient, 0, n)
	for i := 0; i < n; i++ {
		rs = append(rs, Recipient{
			UserID:    fmt.Sprintf("u%03d", i),
			PushToken: fmt.Sprintf("ExponentPushToken[%03d]", i),
		})
	}
	return rs
}

func TestDispatcherSend(t *testing.T) {
	tests := []struct {
		name          string
		recipients    []Recipient
		failCalls     map[int]bool
		wantBatches   []int // sizes, in order
		wantSucceeded int
		wantFailed    int
	}{
		{name: "no recipients"},
		{
			name: "invalid addresses dropped, not failed",
			recipients: []Recipient{
				{UserID: "u1", PushToken: "ExponentPushToken[ok]"},
				{UserID: "u2", PushToken: "fcm:not-an-expo-token"},
				{UserID: "u3", PushToken: ""},
			},
			wantBatches:   []int{1},
			wantSucceeded: 1,
		},
		{
			name:          "single partial batch",
			recipients:    makeRecipients(42),
			wantBatches:   []int{42},
			wantSucceeded: 1,
		},
		{
			name:          "exact batch multiple",
			recipients:    makeRecipients(200),
			wantBatches:   []int{100, 100},
			wantSucceeded: 2,
		},
		{
			name:          "250 recipients make 100/100/50",
			recipients:    makeRecipients(250),
			wantBatches:   []int{100, 100, 50},
			wantSucceeded: 3,
		},
		{
			name:          "mid-batch failure does not abort the rest",
			recipients:    makeRecipients(250),
			failCalls:     map[int]bool{2: true},
			wantBatches:   []int{100, 100, 50},
			wantSucceeded: 2,
			wantFailed:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{failCalls: tt.failCalls}
			d := newDispatcher(gw, 100, nopLogger{})

			report := d.send(context.Background(), tt.recipients, "Attendance open", "Now!")

			if len(gw.batches) != len(tt.wantBatches) {
				t.Fatalf("attempted %d batches, want %d", len(gw.batches), len(tt.wantBatches))
			}
			for i, size := range tt.wantBatches {
				if len(gw.batches[i]) != size {
					t.Errorf("batch %d has %d messages, want %d", i+1, len(gw.batches[i]), size)
				}
			}
			if report.Attempted != len(tt.wantBatches) {
				t.Errorf("report.Attempted = %d, want %d", report.Attempted, len(tt.wantBatches))
			}
			if report.Succeeded != tt.wantSucceeded {
				t.Errorf("report.Succeeded = %d, want %d", report.Succeeded, tt.wantSucceeded)
			}
			if report.Failed != tt.wantFailed {
				t.Errorf("report.Failed = %d, want %d", report.Failed, tt.wantFailed)
			}
			if len(report.Batches) != len(tt.wantBatches) {
				t.Errorf("report has %d batch results, want %d", len(report.Batches), len(tt.wantBatches))
			}
		})
	}
}

func TestDispatcherMessagePayload(t *testing.T) {
	gw := &fakeGateway{}
	d := newDispatcher(gw, 100, nopLogger{})

	d.send(context.Background(), []Recipient{{UserID: "u1", PushToken: "ExponentPushToken[abc]"}}, "Attendance open: OS", "Mark attendance for CS-3A. Session will end in 3 minutes.")

	if len(gw.batches) != 1 || len(gw.batches[0]) != 1 {
		t.Fatalf("expected one batch of one message, got %v", gw.batches)
	}
	msg := gw.batches[0][0]
	if msg.To != "ExponentPushToken[abc]" {
		t.Errorf("msg.To = %q", msg.To)
	}
	if msg.Priority != "high" || msg.Sound != "default" {
		t.Errorf("msg defaults = %q/%q, want high/default", msg.Priority, msg.Sound)
	}
}
