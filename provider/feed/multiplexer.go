package feed

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var muxLogger = logrus.WithField("component", "multiplexer")

type sender interface {
	Send(v any) error
}

// Multiplexer tracks which topics any consumer is interested in and keeps
// wire traffic minimal: one subscribe when the first consumer arrives, one
// unsubscribe when the last one leaves, whatever happens in between. The
// refcount map is the single owner of subscription state; consumers never
// see it.
type Multiplexer struct {
	client sender

	mu     sync.Mutex
	topics map[string]int
}

func NewMultiplexer(client sender) *Multiplexer {
	return &Multiplexer{
		client: client,
		topics: make(map[string]int),
	}
}

// Acquire registers interest in a topic. The wire subscribe goes out only on
// the 0→1 transition; when the channel is down it is silently dropped and
// Resubscribe covers the topic on the next connect.
func (m *Multiplexer) Acquire(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics[topic]++
	if m.topics[topic] == 1 {
		muxLogger.Infof("subscribing to %s", topic)
		if err := m.client.Send(RequestMessage{Type: MessageTypeSubscribe, Topic: topic}); err != nil {
			muxLogger.Warnf("failed to send subscribe for %s: %s", topic, err)
		}
	}
}

// Release drops one consumer's interest. The wire unsubscribe goes out only
// on the 1→0 transition. Releasing an unknown topic is a no-op.
func (m *Multiplexer) Release(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, ok := m.topics[topic]
	if !ok {
		return
	}

	if count > 1 {
		m.topics[topic] = count - 1
		return
	}

	delete(m.topics, topic)
	muxLogger.Infof("unsubscribing from %s", topic)
	if err := m.client.Send(RequestMessage{Type: MessageTypeUnsubscribe, Topic: topic}); err != nil {
		muxLogger.Warnf("failed to send unsubscribe for %s: %s", topic, err)
	}
}

// Resubscribe re-issues a subscribe for every topic with live interest. It
// runs on every transition to connected because server-side subscriptions do
// not survive a reconnect. A duplicate subscribe after a reconnect race is
// idempotent at the server.
func (m *Multiplexer) Resubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for topic := range m.topics {
		muxLogger.Infof("resubscribing to %s", topic)
		if err := m.client.Send(RequestMessage{Type: MessageTypeSubscribe, Topic: topic}); err != nil {
			muxLogger.Warnf("failed to resubscribe to %s: %s", topic, err)
		}
	}
}

// Topics returns the topics with at least one interested consumer.
func (m *Multiplexer) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.topics))
	for topic := range m.topics {
		out = append(out, topic)
	}
	return out
}
