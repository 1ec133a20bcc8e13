package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
	"github.com/spooky-finn/go-marketdata-sync/helpers"
	promclient "github.com/spooky-finn/go-marketdata-sync/infrastructure/prometheus"
)

var logger = logrus.WithField("component", "stream-client")

const handshakeTimeout = 5 * time.Second

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Conn is the transport-level view of one websocket connection. It exists so
// the client can be driven by a fake transport in tests.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(endpoint string, header http.Header) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(endpoint string, header http.Header) (Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := d.Dial(endpoint, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// StateListener observes connection-state transitions. The attempt counter is
// meaningful only in the reconnecting state.
type StateListener func(state ConnState, attempt int)

// StreamClient owns the lifecycle of the single streaming connection:
// connect, detect failure, reconnect with capped exponential backoff, stop.
// Valid inbound messages are dispatched to the reconciliation cache; the
// client itself holds no price state.
type StreamClient struct {
	endpoint     string
	header       http.Header
	dialer       Dialer
	cache        *domain.Cache
	maxAttempts  int
	pingInterval time.Duration

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       Conn
	state      ConnState
	attempt    int
	generation int
	stopCh     chan struct{}
	backoff    *backoff.Backoff
	listeners  []StateListener
}

func NewStreamClient(conf *config.Config, cache *domain.Cache) *StreamClient {
	header := http.Header{}
	if conf.APIToken != "" {
		header.Set("Authorization", "Bearer "+conf.APIToken)
	}

	return &StreamClient{
		endpoint:     conf.StreamEndpoint,
		header:       header,
		dialer:       wsDialer{},
		cache:        cache,
		maxAttempts:  conf.MaxReconnectAttempts,
		pingInterval: conf.PingInterval,
		state:        StateDisconnected,
		backoff: &backoff.Backoff{
			Min:    conf.BaseReconnectDelay,
			Max:    conf.MaxReconnectDelay,
			Factor: 2,
		},
	}
}

// Start opens the connection. It is a no-op unless the client is currently
// disconnected, so it doubles as the manual restart after the reconnect
// budget has been exhausted.
func (c *StreamClient) Start() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	c.stopCh = make(chan struct{})
	c.attempt = 0
	c.backoff.Reset()
	c.mu.Unlock()

	c.setState(gen, StateConnecting)
	go c.run(gen)
}

// Stop tears the connection down from any state. Pending reconnect timers are
// cancelled and no further reconnection is scheduled.
func (c *StreamClient) Stop() {
	c.mu.Lock()
	if c.state == StateDisconnected && c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.generation++
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.attempt = 0
	listeners := append([]StateListener(nil), c.listeners...)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	promclient.ConnectionStateGauge.Set(float64(StateDisconnected))
	for _, l := range listeners {
		l(StateDisconnected, 0)
	}
	logger.Info("stream client stopped")
}

// Send writes one message to the channel. When the channel is not connected
// the message is dropped, not queued: the multiplexer re-issues subscriptions
// itself after a reconnect.
func (c *StreamClient) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		if config.DebugMode {
			logger.Debugf("dropping outbound message while not connected: %s", helpers.ToJsonString(v))
		}
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// State returns the current connection state and, while reconnecting, the
// attempt counter.
func (c *StreamClient) State() (ConnState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempt
}

func (c *StreamClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// OnStateChange registers a listener for state transitions. Listeners are
// called synchronously after each transition, outside the client's lock, so
// they may call back into the client (the multiplexer resubscribes this way).
func (c *StreamClient) OnStateChange(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *StreamClient) run(gen int) {
	for {
		conn, err := c.dialer.Dial(c.endpoint, c.header)
		if err != nil {
			logger.Warnf("failed to dial %s: %s", c.endpoint, err)
			if !c.scheduleReconnect(gen) {
				return
			}
			continue
		}

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.attempt = 0
		c.backoff.Reset()
		c.mu.Unlock()

		if !c.setState(gen, StateConnected) {
			conn.Close()
			return
		}
		logger.Infof("connected to %s", c.endpoint)

		if c.pingInterval > 0 {
			go c.pingLoop(gen, conn)
		}

		c.readLoop(gen, conn)

		c.mu.Lock()
		stopped := gen != c.generation
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if stopped {
			return
		}
		if !c.scheduleReconnect(gen) {
			return
		}
	}
}

// scheduleReconnect counts one more consecutive failure and waits out the
// backoff delay. It returns false when the client should stop retrying,
// either because Stop was called or because the failure budget ran out.
func (c *StreamClient) scheduleReconnect(gen int) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	c.attempt++
	attempt := c.attempt
	stopCh := c.stopCh
	c.mu.Unlock()

	if attempt >= c.maxAttempts {
		logger.Errorf("giving up after %d consecutive connection failures; explicit restart required", attempt)
		c.setState(gen, StateDisconnected)
		return false
	}

	c.setState(gen, StateReconnecting)
	promclient.ReconnectAttemptsTotal.Inc()

	delay := c.backoff.Duration()
	logger.Infof("reconnect attempt %d in %s", attempt, delay)

	select {
	case <-stopCh:
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *StreamClient) readLoop(gen int, conn Conn) {
	for {
		if c.pingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopped := gen != c.generation
			c.mu.Unlock()
			if !stopped {
				logger.Warnf("stream read error: %s", err)
			}
			return
		}

		msg, err := parseInbound(data)
		if err != nil {
			promclient.DroppedMessagesTotal.Inc()
			logger.Warnf("dropping inbound message: %s", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *StreamClient) dispatch(msg *InboundMessage) {
	switch msg.Type {
	case MessageTypeQuote:
		var payload QuotePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			promclient.DroppedMessagesTotal.Inc()
			logger.Warnf("dropping quote for %s: %s", msg.Topic, err)
			return
		}

		var applied bool
		if msg.SourceID != "" {
			applied = c.cache.ApplySourceQuote(msg.Topic, domain.SourceQuote{
				SourceID:  msg.SourceID,
				Price:     payload.Price,
				Change24h: payload.Change24h,
				Volume24h: payload.Volume24h,
				Timestamp: msg.Timestamp,
			})
		} else {
			applied = c.cache.ApplyAggregated(msg.Topic, domain.AggregatedQuote{
				Price:       payload.Price,
				Change24h:   payload.Change24h,
				Volume24h:   payload.Volume24h,
				SourceCount: payload.SourceCount,
				Timestamp:   msg.Timestamp,
			})
		}

		if applied {
			promclient.AppliedUpdatesTotal.Inc()
		} else {
			promclient.DiscardedUpdatesTotal.Inc()
		}

	case MessageTypeHealth:
		var payload HealthPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			promclient.DroppedMessagesTotal.Inc()
			logger.Warnf("dropping health message from %s: %s", msg.SourceID, err)
			return
		}

		c.cache.ApplyHealth(msg.SourceID, domain.SourceHealth{
			Online:   payload.Online,
			LastSeen: msg.Timestamp,
		})
	}
}

func (c *StreamClient) pingLoop(gen int, conn Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		live := gen == c.generation && c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout)); err != nil {
			logger.Warnf("ping failed: %s", err)
			conn.Close()
			return
		}
	}
}

// setState publishes a transition to listeners. Returns false when the
// client was stopped in the meantime.
func (c *StreamClient) setState(gen int, state ConnState) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	c.state = state
	attempt := c.attempt
	listeners := append([]StateListener(nil), c.listeners...)
	c.mu.Unlock()

	promclient.ConnectionStateGauge.Set(float64(state))
	for _, l := range listeners {
		l(state, attempt)
	}
	return true
}
