package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"
)

// Dispatcher queues telemetry and publishes it from a single worker so the
// control loop never waits on the network. When the queue is full new
// messages are dropped.
type Dispatcher struct {
	topic     string
	qos       byte
	jobs      chan Message
	publisher Publisher
	keepAlive time.Duration

	dropped atomic.Int64
	done    chan struct{}
}

// NewDispatcher creates a dispatcher publishing to topic.
func NewDispatcher(publisher Publisher, topic string, qos byte, queueSize int, keepAlive time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		topic:     topic,
		qos:       qos,
		jobs:      make(chan Message, queueSize),
		publisher: publisher,
		keepAlive: keepAlive,
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine. It stops when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.worker(ctx)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer close(d.done)
	log.Printf("Telemetry worker started")

	var ping <-chan time.Time
	if _, ok := d.publisher.(Pinger); ok && d.keepAlive > 0 {
		t := time.NewTicker(d.keepAlive / 2)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case msg := <-d.jobs:
			d.publish(ctx, msg)
		case <-ping:
			if err := d.publisher.(Pinger).Ping(ctx); err != nil {
				log.Printf("telemetry: ping: %v", err)
			}
		case <-ctx.Done():
			d.drain()
			if err := d.publisher.Close(); err != nil {
				log.Printf("telemetry: close: %v", err)
			}
			log.Printf("Telemetry worker shutting down")
			return
		}
	}
}

// drain publishes whatever is still queued, bounded by a short deadline.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-d.jobs:
			d.publish(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, msg Message) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		log.Printf("telemetry: encode: %v", err)
		return
	}
	if err := d.publisher.Publish(ctx, msg.Topic, payload, msg.QoS); err != nil {
		log.Printf("telemetry: %s: %v", payload, err)
	}
}

// Send queues a payload for the default topic. It never blocks and reports
// whether the message was queued.
func (d *Dispatcher) Send(payload map[string]any) bool {
	return d.Enqueue(Message{Topic: d.topic, Payload: payload, QoS: d.qos})
}

// Enqueue queues a message without blocking.
func (d *Dispatcher) Enqueue(msg Message) bool {
	select {
	case d.jobs <- msg:
		return true
	default:
		n := d.dropped.Add(1)
		log.Printf("telemetry: queue full, dropped message (%d total)", n)
		return false
	}
}

// Dropped returns how many messages were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Wait blocks until the worker has stopped, or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) {
	select {
	case <-d.done:
	case <-ctx.Done():
	}
}
