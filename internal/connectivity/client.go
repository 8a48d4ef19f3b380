// Package connectivity wraps an MQTT5 client into the narrow surface the
// core consumes, per spec.md §4.I: connect/disconnect lifecycle, lazily
// subscribing receivers, and a quota-checked sender. Built on
// github.com/eclipse/paho.golang, an MQTT5 client wrapped behind an
// Options/New/Connect/Disconnect shape, with CreateReceiver for inbound
// topics and SendBuffer for outbound payloads, so callers never touch the
// underlying paho.Client directly.
package connectivity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/sender"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"
)

// Options configures one Client per spec.md §4.I's connect() parameters.
type Options struct {
	BrokerAddress    string // host:port
	ClientID         string
	KeepAliveSec     uint16
	SessionExpirySec uint32
	PingTimeoutMs    int
	RootCAPath       string // non-empty enables TLS
	MaxSendSize      int
	MaxHeapBytes     int64
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSendSize <= 0 {
		o.MaxSendSize = 128 * 1024 * 1024
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.PingTimeoutMs <= 0 {
		o.PingTimeoutMs = 3000
	}
	return o
}

// Client is the connection-owning MQTT5 wrapper. One long-lived connect
// goroutine performs dial/handshake/resubscribe with exponential backoff,
// off the caller's goroutine, per spec.md §4.I.
type Client struct {
	log   zerolog.Logger
	opts  Options
	alloc *Allocator

	mu        sync.Mutex
	pc        *paho.Client
	receivers map[string]*Receiver
	desired   map[string]bool
	failed    map[string]bool

	alive    atomic.Bool
	stopping atomic.Bool
	stop     chan struct{}
}

// New constructs a Client. Call Connect to start the connection worker.
func New(log zerolog.Logger, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		log:       log.With().Str("component", "connectivity").Logger(),
		opts:      opts,
		alloc:     NewAllocator(opts.MaxHeapBytes),
		receivers: make(map[string]*Receiver),
		desired:   make(map[string]bool),
		failed:    make(map[string]bool),
		stop:      make(chan struct{}),
	}
}

// Connect starts the async connection worker and returns true immediately —
// per spec.md §4.I, connect() reports only that an attempt has started;
// IsAlive reflects the actual connection state.
func (c *Client) Connect() bool {
	go c.connectLoop()
	return true
}

// Disconnect cancels the connection worker and, if connected, sends an MQTT
// DISCONNECT. In-flight publish callbacks still fire with a terminal
// outcome; disconnect does not cancel them.
func (c *Client) Disconnect() {
	if c.stopping.Swap(true) {
		return
	}
	close(c.stop)

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if pc != nil {
		_ = pc.Disconnect(&paho.Disconnect{ReasonCode: 0x00})
	}
	c.alive.Store(false)
}

// IsAlive reports whether the connection is currently established.
func (c *Client) IsAlive() bool { return c.alive.Load() }

// GetMaxSendSize returns the configured per-payload size ceiling.
func (c *Client) GetMaxSendSize() int { return c.opts.MaxSendSize }

// CreateReceiver returns the Receiver for topic, creating it on first call.
// Subscription only happens once the caller invokes Receiver.Subscribe.
func (c *Client) CreateReceiver(topic string) *Receiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receivers[topic]; ok {
		return r
	}
	r := &Receiver{topic: topic, client: c}
	c.receivers[topic] = r
	return r
}

// subscribe marks topic desired and, if connected, issues the SUBSCRIBE.
// Unsubscribe-on-receiver-destruction is deliberately not implemented: the
// core never removes a receiver once created, so there is nothing to
// release, matching spec.md §4.I's "best-effort" framing for a case that
// does not arise in this process's lifetime.
func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	c.desired[topic] = true
	pc := c.pc
	c.mu.Unlock()

	if pc == nil {
		return
	}
	c.doSubscribe(pc, []string{topic})
}

func (c *Client) doSubscribe(pc *paho.Client, topics []string) {
	if len(topics) == 0 {
		return
	}
	subs := make([]paho.SubscribeOptions, len(topics))
	for i, t := range topics {
		subs[i] = paho.SubscribeOptions{Topic: t, QoS: 1}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := pc.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if err != nil {
			c.failed[t] = true
		} else {
			delete(c.failed, t)
		}
	}
	if err != nil {
		c.log.Error().Err(err).Strs("topics", topics).Msg("subscribe failed")
	}
}

func (c *Client) connectLoop() {
	backoff := c.opts.MinBackoff
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("mqtt dial failed")
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			continue
		}

		pc, connack, closed, err := c.handshake(conn)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("mqtt connect failed")
			conn.Close()
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			continue
		}

		backoff = c.opts.MinBackoff
		c.onConnected(pc, connack)

		select {
		case <-closed:
		case <-c.stop:
		}
		c.alive.Store(false)
		c.mu.Lock()
		c.pc = nil
		c.mu.Unlock()

		if c.stopping.Load() {
			return
		}
		c.log.Warn().Msg("mqtt connection lost, reconnecting")
	}
}

func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.stop:
		return false
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func (c *Client) dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if c.opts.RootCAPath == "" {
		return dialer.Dial("tcp", c.opts.BrokerAddress)
	}

	pem, err := os.ReadFile(c.opts.RootCAPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(pem)
	return tls.DialWithDialer(dialer, "tcp", c.opts.BrokerAddress, &tls.Config{RootCAs: pool})
}

// fanoutRouter forwards every inbound PUBLISH to the owning Client's route
// method, which matches it against every registered Receiver's topic
// filter itself — the core's Receivers are keyed by arbitrary MQTT filters
// (including wildcards) rather than by the paho.Router's own per-topic
// registration, so dispatch is done on the Client side.
type fanoutRouter struct {
	client *Client
}

func (f fanoutRouter) Route(p *paho.Publish)                       { f.client.route(p) }
func (f fanoutRouter) RegisterHandler(topic string, h func(*paho.Publish)) {}
func (f fanoutRouter) UnregisterHandler(topic string)               {}

func (c *Client) handshake(conn net.Conn) (*paho.Client, *paho.Connack, chan struct{}, error) {
	closed := make(chan struct{})
	var closeOnce sync.Once
	closeFn := func() { closeOnce.Do(func() { close(closed) }) }

	pc := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: c.opts.ClientID,
		Router:   fanoutRouter{client: c},
		OnClientError: func(err error) {
			c.log.Error().Err(err).Msg("mqtt client error")
			closeFn()
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.log.Warn().Uint8("reason_code", d.ReasonCode).Msg("server sent disconnect")
			closeFn()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	expiry := c.opts.SessionExpirySec
	connack, err := pc.Connect(ctx, &paho.Connect{
		KeepAlive:  c.opts.KeepAliveSec,
		ClientID:   c.opts.ClientID,
		CleanStart: expiry == 0,
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &expiry,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if connack.ReasonCode >= 0x80 {
		pc.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, nil, nil, errReasonCode(connack.ReasonCode)
	}
	return pc, connack, closed, nil
}

// onConnected installs the live client and reissues subscriptions per
// spec.md §4.I's rejoined-vs-new-session policy.
func (c *Client) onConnected(pc *paho.Client, connack *paho.Connack) {
	c.mu.Lock()
	c.pc = pc
	desired := make(map[string]bool, len(c.desired))
	for t := range c.desired {
		desired[t] = true
	}
	failed := make(map[string]bool, len(c.failed))
	for t := range c.failed {
		failed[t] = true
	}
	c.mu.Unlock()

	c.alive.Store(true)
	c.log.Info().Bool("session_present", connack.SessionPresent).Msg("mqtt connected")

	topics := resubscribeTopics(connack.SessionPresent, desired, failed)
	if len(topics) > 0 {
		c.doSubscribe(pc, topics)
	}
}

func (c *Client) route(p *paho.Publish) {
	c.mu.Lock()
	receivers := make([]*Receiver, 0, len(c.receivers))
	for _, r := range c.receivers {
		receivers = append(receivers, r)
	}
	c.mu.Unlock()

	for _, r := range receivers {
		if topicMatches(r.topic, p.Topic) {
			r.dispatch(p.Topic, p.Payload)
		}
	}
}

// SendBuffer implements internal/sender.Sender: a size/quota pre-check
// followed by an asynchronous QoS-1 publish, per spec.md §4.I.
func (c *Client) SendBuffer(topic string, payload []byte, onResult func(sender.Result)) {
	if len(payload) > c.opts.MaxSendSize {
		onResult(sender.ResultWrongInputData)
		return
	}

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		onResult(sender.ResultNoConnection)
		return
	}

	n := int64(len(payload))
	if !c.alloc.Reserve(n) {
		onResult(sender.ResultQuotaReached)
		return
	}

	go func() {
		defer c.alloc.Release(n)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := pc.Publish(ctx, &paho.Publish{
			QoS:     1,
			Topic:   topic,
			Payload: payload,
		})
		if err != nil {
			onResult(sender.ResultTransmissionError)
			return
		}
		onResult(sender.ResultSuccess)
	}()
}

type errReasonCode byte

func (e errReasonCode) Error() string { return "mqtt connect rejected" }
