package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/press-sensor/internal/upload"
)

// Config holds broker connection settings.
type Config struct {
	Broker     string        `yaml:"broker"`
	ClientID   string        `yaml:"client_id"`
	BufferSize int           `yaml:"buffer_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RealPublisher publishes to an actual MQTT broker. While the broker is
// unreachable, messages go to a bounded buffer that is replayed on reconnect.
type RealPublisher struct {
	client  paho.Client
	timeout time.Duration

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
}

// NewRealPublisher starts connecting to the broker in the background and
// returns immediately; the connection is retried until Close.
func NewRealPublisher(cfg Config) *RealPublisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "press-sensor"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	p := &RealPublisher{
		timeout: cfg.Timeout,
		buf:     newRingBuffer(cfg.BufferSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	slog.Info("mqtt connected", "replaying", len(pending))
	for _, m := range pending {
		if err := p.send(m); err != nil {
			slog.Warn("mqtt replay failed", "topic", m.topic, "error", err)
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err := p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
			slog.Warn("mqtt reconnect notice failed", "error", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	slog.Warn("mqtt connection lost", "error", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && p.client.IsConnectionOpen()
}

// Publish sends a record to the data topic for its device.
func (p *RealPublisher) Publish(item upload.Item) error {
	payload, err := FormatPayload(item)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: records are the durable product of this daemon.
	return p.publishOrBuffer(bufferedMsg{
		topic:   DataTopic(item.Device.Location, item.Device.Equipment),
		payload: payload,
		qos:     1,
	})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publishOrBuffer(bufferedMsg{
		topic:    TopicSystem,
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (p *RealPublisher) publishOrBuffer(m bufferedMsg) error {
	if !p.IsConnected() {
		p.mu.Lock()
		p.buf.push(m)
		n := p.buf.len()
		p.mu.Unlock()
		slog.Debug("mqtt offline, buffered", "topic", m.topic, "buffered", n)
		return nil
	}
	if err := p.send(m); err != nil {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
