package core

import (
	"context"
	"strings"
)

// pushAddressPrefix is the address format expected by the push gateway.
// Anything else is dropped before batching (never sent, never a failure).
const pushAddressPrefix = "ExponentPushToken"

type (
	// PushMessage is a single push notification as the gateway consumes it.
	PushMessage struct {
		To       string `json:"to"`
		Title    string `json:"title"`
		Body     string `json:"body"`
		Priority string `json:"priority"`
		Sound    string `json:"sound"`
	}

	// PushBatchResult records the outcome of one gateway call.
	// Response carries the raw gateway body for logging only.
	PushBatchResult struct {
		Size     int
		Response []byte
		Err      error
	}

	// DeliveryReport summarizes a fan-out: per-batch outcomes plus counts.
	DeliveryReport struct {
		Recipients int
		Attempted  int
		Succeeded  int
		Failed     int
		Batches    []PushBatchResult
	}

	// PushGateway delivers a single batch of push messages.
	PushGateway interface {
		SendBatch(ctx context.Context, batch []PushMessage) ([]byte, error)
	}
)

func (r DeliveryReport) HasFailures() bool { return r.Failed > 0 }

// NewPushMessage builds a message with the gateway defaults used for
// attendance alerts.
func NewPushMessage(to, title, body string) PushMessage {
	return PushMessage{
		To:       to,
		Title:    title,
		Body:     body,
		Priority: "high",
		Sound:    "default",
	}
}

// IsValidPushAddress reports whether addr matches the gateway address format.
func IsValidPushAddress(addr string) bool {
	return strings.HasPrefix(addr, pushAddressPrefix)
}
