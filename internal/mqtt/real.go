package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string // a random suffix is appended
	Topics   Topics
	// BufferSize is the number of messages kept while disconnected.
	BufferSize int
	// OnConnectionChange is called with true on connect and false on loss.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an MQTT broker. It connects in the background
// and buffers messages until the broker is reachable.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *zap.SugaredLogger
	onConn func(bool)

	mu  sync.Mutex
	buf *ringBuffer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// It does not block on the broker.
func NewRealPublisher(opts Options, log *zap.SugaredLogger) *RealPublisher {
	if opts.ClientID == "" {
		opts.ClientID = "iirr"
	}
	if opts.Topics.Events == "" {
		opts.Topics = NewTopics(DefaultPrefix)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	onConn := opts.OnConnectionChange
	if onConn == nil {
		onConn = func(bool) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &RealPublisher{
		topics: opts.Topics,
		log:    log,
		onConn: onConn,
		buf:    newRingBuffer(opts.BufferSize, log),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "connection lost"})
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID+"-"+uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(10*time.Second).
		SetWill(opts.Topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt: connection lost", "error", err)
			p.onConn(false)
		})
	p.client = paho.NewClient(clientOpts)

	go p.connect(ctx, opts.Broker)
	return p
}

// connect retries the first connection with exponential backoff until it
// succeeds or the publisher is closed. Later reconnects are left to paho.
func (p *RealPublisher) connect(ctx context.Context, broker string) {
	defer close(p.done)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 0

	op := func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(15 * time.Second) {
			return fmt.Errorf("connect to %s: timeout", broker)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to %s: %w", broker, err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Warnw("mqtt: connect failed, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		p.log.Infow("mqtt: connect abandoned", "error", err)
	}
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.log.Infow("mqtt: connected")
	p.onConn(true)

	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()
	if len(pending) > 0 {
		p.log.Infow("mqtt: replaying buffered messages", "count", len(pending))
	}
	for i, m := range pending {
		if err := p.send(m); err != nil {
			p.log.Warnw("mqtt: replay failed, rebuffering", "error", err)
			p.mu.Lock()
			for _, rest := range pending[i:] {
				p.buf.push(rest)
			}
			p.mu.Unlock()
			return
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends an irrigation event (QoS 1, not retained).
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
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
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close stops connecting and disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.cancel()
	<-p.done
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
	return nil
}
