package feed

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
)

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []RequestMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.in:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(RequestMessage))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) subscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msg := range c.written {
		if msg.Type == MessageTypeSubscribe && msg.Topic == topic {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu    sync.Mutex
	fails int // dials to fail before succeeding
	dials int
	conns chan *fakeConn
}

func newFakeDialer(fails int) *fakeDialer {
	return &fakeDialer{fails: fails, conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(endpoint string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fails > 0
	if fail {
		d.fails--
	}
	d.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}

	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testStreamConfig() *config.Config {
	return &config.Config{
		StreamEndpoint:       "ws://feed.test/stream",
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectDelay:    4 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}
}

func newTestClient(dialer Dialer, cache *domain.Cache, conf *config.Config) *StreamClient {
	client := NewStreamClient(conf, cache)
	client.dialer = dialer
	return client
}

func waitForState(t *testing.T, client *StreamClient, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, _ := client.State()
		return state == want
	}, time.Second, time.Millisecond, "expected state %s", want)
}

func TestStreamClient_ConnectAndDispatch(t *testing.T) {
	cache := domain.NewCache(nil)
	dialer := newFakeDialer(0)
	client := newTestClient(dialer, cache, testStreamConfig())

	client.Start()
	defer client.Stop()
	waitForState(t, client, StateConnected)

	conn := <-dialer.conns
	conn.in <- []byte(`{"type":"quote","topic":"BTCUSDT","sourceId":"binance","payload":{"price":100,"volume24h":2},"timestamp":10}`)

	require.Eventually(t, func() bool {
		entry, ok := cache.Entry("BTCUSDT")
		return ok && entry.PerSource["binance"].Price == 100
	}, time.Second, time.Millisecond)

	conn.in <- []byte(`{"type":"health","sourceId":"binance","payload":{"online":true},"timestamp":11}`)

	require.Eventually(t, func() bool {
		return cache.Health()["binance"].Online
	}, time.Second, time.Millisecond)
}

func TestStreamClient_StartIsIdempotentWhileRunning(t *testing.T) {
	cache := domain.NewCache(nil)
	dialer := newFakeDialer(0)
	client := newTestClient(dialer, cache, testStreamConfig())

	client.Start()
	defer client.Stop()
	waitForState(t, client, StateConnected)

	client.Start()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount(), "Start while connected must not dial again")
}

func TestStreamClient_SendIsNoopWhenDisconnected(t *testing.T) {
	cache := domain.NewCache(nil)
	client := newTestClient(newFakeDialer(0), cache, testStreamConfig())

	err := client.Send(RequestMessage{Type: MessageTypeSubscribe, Topic: "BTCUSDT"})
	assert.NoError(t, err, "Send while disconnected is dropped, not an error")
}

func TestStreamClient_MalformedMessageDoesNotDisturbConnection(t *testing.T) {
	cache := domain.NewCache(nil)
	dialer := newFakeDialer(0)
	client := newTestClient(dialer, cache, testStreamConfig())

	client.Start()
	defer client.Stop()
	waitForState(t, client, StateConnected)

	conn := <-dialer.conns
	conn.in <- []byte(`{"type":"quote","topic":"ETHUSDT","sourceId":"kraken","payload":{"price":50},"timestamp":5}`)

	require.Eventually(t, func() bool {
		_, ok := cache.Entry("ETHUSDT")
		return ok
	}, time.Second, time.Millisecond)

	conn.in <- []byte(`this is not even json`)
	conn.in <- []byte(`{"type":"mystery","payload":{}}`)
	time.Sleep(10 * time.Millisecond)

	state, _ := client.State()
	assert.Equal(t, StateConnected, state, "Malformed messages must not change connection state")

	entry, _ := cache.Entry("ETHUSDT")
	assert.Equal(t, 50.0, entry.PerSource["kraken"].Price, "Unrelated cache entries must stay intact")
}

func TestStreamClient_ReconnectsAfterDrop(t *testing.T) {
	cache := domain.NewCache(nil)
	dialer := newFakeDialer(0)
	client := newTestClient(dialer, cache, testStreamConfig())

	var transitions []ConnState
	var mu sync.Mutex
	client.OnStateChange(func(state ConnState, attempt int) {
		mu.Lock()
		transitions = append(transitions, state)
		mu.Unlock()
	})

	client.Start()
	defer client.Stop()
	waitForState(t, client, StateConnected)

	conn := <-dialer.conns
	conn.Close()

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2 && client.Connected()
	}, time.Second, time.Millisecond, "client should redial and reconnect")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, StateReconnecting)
	assert.Equal(t, StateConnected, transitions[len(transitions)-1])
}

func TestStreamClient_ResubscribesAfterReconnect(t *testing.T) {
	cache := domain.NewCache(nil)
	dialer := newFakeDialer(0)
	client := newTestClient(dialer, cache, testStreamConfig())

	mux := NewMultiplexer(client)
	client.OnStateChange(func(state ConnState, _ int) {
		if state == StateConnected {
			mux.Resubscribe()
		}
	})

	// interest registered before the channel is up: the subscribe is
	// dropped now and recovered by the resubscription on connect
	mux.Acquire("ETHUSDT")

	client.Start()
	defer client.Stop()
	waitForState(t, client, StateConnected)

	conn := <-dialer.conns
	require.Eventually(t, func() bool {
		return conn.subscribeCount("ETHUSDT") == 1
	}, time.Second, time.Millisecond)

	conn.Close()

	conn2 := <-dialer.conns
	require.Eventually(t, func() bool {
		return conn2.subscribeCount("ETHUSDT") == 1
	}, time.Second, time.Millisecond, "topic with refcount > 0 is re-subscribed exactly once")

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, conn2.subscribeCount("ETHUSDT"))
}

func TestStreamClient_GivesUpAfterMaxAttempts(t *testing.T) {
	conf := testStreamConfig()
	conf.MaxReconnectAttempts = 3

	cache := domain.NewCache(nil)
	dialer := newFakeDialer(1000)
	client := newTestClient(dialer, cache, conf)

	client.Start()
	waitForState(t, client, StateDisconnected)

	assert.Equal(t, 3, dialer.dialCount())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, dialer.dialCount(), "No reconnect attempt after the failure budget is exhausted")

	// explicit restart re-arms the state machine
	client.Start()
	waitForState(t, client, StateDisconnected)
	assert.Equal(t, 6, dialer.dialCount())
}

func TestStreamClient_StopCancelsPendingReconnect(t *testing.T) {
	conf := testStreamConfig()
	conf.BaseReconnectDelay = 50 * time.Millisecond
	conf.MaxReconnectDelay = 50 * time.Millisecond

	cache := domain.NewCache(nil)
	dialer := newFakeDialer(1000)
	client := newTestClient(dialer, cache, conf)

	client.Start()
	require.Eventually(t, func() bool {
		state, _ := client.State()
		return state == StateReconnecting
	}, time.Second, time.Millisecond)

	client.Stop()
	dials := dialer.dialCount()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dials, dialer.dialCount(), "Stop must cancel the reconnect timer")

	state, _ := client.State()
	assert.Equal(t, StateDisconnected, state)
}

func TestStreamClient_BackoffPolicy(t *testing.T) {
	conf := &config.Config{
		StreamEndpoint:       "ws://feed.test/stream",
		BaseReconnectDelay:   time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
	client := NewStreamClient(conf, domain.NewCache(nil))

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	var prev time.Duration
	for i, want := range expected {
		got := client.backoff.Duration()
		assert.Equal(t, want, got, "delay for attempt %d", i+1)
		assert.GreaterOrEqual(t, got, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, got, conf.MaxReconnectDelay)
		prev = got
	}
}
