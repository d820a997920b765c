package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	mqttTimeout = 10 * time.Second
	mqttBufSize = 1500
)

// Dialer opens the transport to the broker.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	AccessToken string
	KeepAlive   time.Duration
	Dial        Dialer
}

// MQTTPublisher publishes telemetry over MQTT. It is used from a single
// goroutine, the dispatcher worker, and reconnects lazily after a failure.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client *mqtt.Client
	conn   net.Conn
	packet uint16
}

// NewMQTTPublisher creates a publisher. The connection is made by Connect or
// on the first publish.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &MQTTPublisher{cfg: cfg}
}

// Connect dials the broker and performs the MQTT handshake.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.disconnect(nil)

	ctx, cancel := context.WithTimeout(ctx, mqttTimeout)
	defer cancel()

	conn, err := p.cfg.Dial(ctx, p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTelemetry, p.cfg.Broker, err)
	}

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, mqttBufSize)},
		OnPub: func(_ mqtt.Header, _ mqtt.VariablesPublish, r io.Reader) error {
			// Nothing is subscribed; discard anything the broker sends.
			_, err := io.Copy(io.Discard, r)
			return err
		},
	})

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(p.cfg.ClientID))
	if p.cfg.AccessToken != "" {
		varconn.Username = []byte(p.cfg.AccessToken)
	}
	if p.cfg.KeepAlive > 0 {
		varconn.KeepAlive = uint16(p.cfg.KeepAlive / time.Second)
	}
	if err := client.Connect(ctx, conn, &varconn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: connect: %v", ErrTelemetry, err)
	}

	p.client = client
	p.conn = conn
	log.Printf("telemetry: connected to %s as %s", p.cfg.Broker, p.cfg.ClientID)
	return nil
}

// Publish sends payload to topic, reconnecting first if needed.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if !p.connected() {
		if err := p.Connect(ctx); err != nil {
			return err
		}
	}

	flags, err := mqtt.NewPublishFlags(mqtt.QoSLevel(qos), false, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTelemetry, err)
	}
	p.packet++
	if p.packet == 0 {
		p.packet = 1
	}
	varPub := mqtt.VariablesPublish{
		TopicName:        []byte(topic),
		PacketIdentifier: p.packet,
	}

	p.conn.SetDeadline(time.Now().Add(mqttTimeout))
	if err := p.client.PublishPayload(flags, varPub, payload); err != nil {
		p.disconnect(err)
		return fmt.Errorf("%w: publish: %v", ErrTelemetry, err)
	}
	if qos > 0 {
		// consume the acknowledgement
		if err := p.client.HandleNext(); err != nil {
			p.disconnect(err)
			return fmt.Errorf("%w: ack: %v", ErrTelemetry, err)
		}
	}
	return nil
}

// Ping keeps an idle connection alive. It does nothing when disconnected.
func (p *MQTTPublisher) Ping(ctx context.Context) error {
	if !p.connected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, mqttTimeout)
	defer cancel()
	p.conn.SetDeadline(time.Now().Add(mqttTimeout))
	if err := p.client.Ping(ctx); err != nil {
		p.disconnect(err)
		return fmt.Errorf("%w: ping: %v", ErrTelemetry, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.disconnect(errors.New("shutting down"))
	return nil
}

func (p *MQTTPublisher) connected() bool {
	return p.client != nil && p.client.IsConnected()
}

func (p *MQTTPublisher) disconnect(reason error) {
	if p.client != nil && p.client.IsConnected() {
		if reason == nil {
			reason = errors.New("reconnecting")
		}
		p.client.Disconnect(reason)
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.client = nil
	p.conn = nil
}
