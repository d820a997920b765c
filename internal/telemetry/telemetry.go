package telemetry

import (
	"context"
	"errors"

	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/classifier"
)

// ErrTelemetry is returned when a message cannot be delivered to the broker.
var ErrTelemetry = errors.New("telemetry publish failed")

// Publisher delivers a payload to the dashboard broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Close() error
}

// Pinger is implemented by publishers that keep an idle connection alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Message is one queued telemetry record.
type Message struct {
	Topic   string
	Payload map[string]any
	QoS     byte
}

// Classification encodes a sort result as {paper, plastic, metal, trash} flags.
func Classification(c classifier.Category) map[string]any {
	out := make(map[string]any, len(classifier.Categories))
	for k, v := range c.OneHot() {
		out[k] = v
	}
	return out
}

// BinFull encodes a bin fullness change, e.g. {"metalFull": 1}.
func BinFull(id bins.ID, full bool) map[string]any {
	v := 0
	if full {
		v = 1
	}
	return map[string]any{id.FullKey(): v}
}

// Climate encodes the filtered climate readings.
func Climate(temperature, humidity float64) map[string]any {
	return map[string]any{"temperature": temperature, "humidity": humidity}
}

// Discard is a Publisher that drops every message. It is used when telemetry
// is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, string, []byte, byte) error { return nil }
func (Discard) Close() error                                        { return nil }
