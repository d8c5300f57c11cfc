package mqttstore

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
	"github.com/tphakala/pairwatch/internal/remotestore/storetest"
	"github.com/tphakala/pairwatch/internal/testutil"
)

var errNotConnected = errors.NewStd("not connected")

// fakeBroker is an in-process broker with retained messages. Deliveries
// happen synchronously on the publishing goroutine.
type fakeBroker struct {
	mu       sync.Mutex
	retained map[string][]byte
	subs     map[string]mqtt.MessageHandler
	open     bool

	subscribeCalls   int
	unsubscribeCalls int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		retained: make(map[string][]byte),
		subs:     make(map[string]mqtt.MessageHandler),
		open:     true,
	}
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload any) mqtt.Token {
	data, _ := payload.([]byte)
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return doneToken{err: errNotConnected}
	}
	if retained {
		if len(data) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = bytes.Clone(data)
		}
	}
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(nil, &message{topic: topic, payload: data})
	}
	return doneToken{}
}

func (b *fakeBroker) Subscribe(filter string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return doneToken{err: errNotConnected}
	}
	b.subscribeCalls++
	b.subs[filter] = callback
	var replay []*message
	for topic, payload := range b.retained {
		if topicMatches(filter, topic) {
			replay = append(replay, &message{topic: topic, payload: payload, retained: true})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		callback(nil, m)
	}
	return doneToken{}
}

func (b *fakeBroker) Unsubscribe(filters ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeCalls++
	for _, f := range filters {
		delete(b.subs, f)
	}
	return doneToken{}
}

func (b *fakeBroker) IsConnectionOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
}

func (b *fakeBroker) retainedPayload(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

func topicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) || (part != "+" && part != t[i]) {
			return false
		}
	}
	return len(f) == len(t)
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{}          { return closedChan }
func (t doneToken) Error() error                   { return t.err }

type message struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return qos }
func (m *message) Retained() bool    { return m.retained }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

func newTestStore(t *testing.T, b *fakeBroker) *Store {
	t.Helper()
	return newStore(b, Config{
		TopicPrefix: "pw/",
		ReadTimeout: 30 * time.Millisecond,
		SettleDelay: 10 * time.Millisecond,
		Logger:      logger.NewDiscardLogger(),
	})
}

func TestMQTTStore_Conformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) remotestore.Store { return newTestStore(t, newFakeBroker()) })
}

func TestMQTTStore_TopicLayout(t *testing.T) {
	t.Parallel()

	b := newFakeBroker()
	s := newTestStore(t, b)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Write(t.Context(), "pairings/AB12CD34", remotestore.Value{"isActive": true}))

	payload, ok := b.retainedPayload("pw/pairings/AB12CD34")
	require.True(t, ok, "node should be retained under the prefix")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, true, decoded["isActive"])

	path, ok := s.pathOf("pw/pairings/AB12CD34")
	assert.True(t, ok)
	assert.Equal(t, "pairings/AB12CD34", path)
	_, ok = s.pathOf("other/pairings/AB12CD34")
	assert.False(t, ok)
}

func TestMQTTStore_ReadSharesInFlightSubscription(t *testing.T) {
	t.Parallel()

	b := newFakeBroker()
	s := newTestStore(t, b)
	defer func() { _ = s.Close() }()
	ctx := t.Context()
	alerts := remotestore.AlertsPath("AB12CD34")

	sub1, err := s.Subscribe(ctx, alerts, "timestamp")
	require.NoError(t, err)
	sub2, err := s.Subscribe(ctx, alerts, "timestamp")
	require.NoError(t, err)

	b.mu.Lock()
	assert.Equal(t, 1, b.subscribeCalls, "subscribers of one path share a broker subscription")
	b.mu.Unlock()

	_, err = s.Append(ctx, alerts, remotestore.Value{"objectLabel": "cat"})
	require.NoError(t, err)
	storetest.WaitForChildren(t, sub1, 1)
	storetest.WaitForChildren(t, sub2, 1)

	require.NoError(t, sub1.Close())
	b.mu.Lock()
	assert.Zero(t, b.unsubscribeCalls)
	b.mu.Unlock()

	require.NoError(t, sub2.Close())
	b.mu.Lock()
	assert.Equal(t, 1, b.unsubscribeCalls)
	b.mu.Unlock()
}

func TestMQTTStore_ConnectionLostFailsSubscriptions(t *testing.T) {
	t.Parallel()

	b := newFakeBroker()
	s := newTestStore(t, b)
	defer func() { _ = s.Close() }()

	sub, err := s.Subscribe(t.Context(), remotestore.AlertsPath("AB12CD34"), "timestamp")
	require.NoError(t, err)
	storetest.WaitForChildren(t, sub, 0)

	s.connectionLost(errors.NewStd("broker went away"))

	err = testutil.Receive(t, sub.Errors(), time.Second, "subscription was not failed")
	assert.True(t, remotestore.IsUnavailable(err))
	require.NoError(t, sub.Close())

	s.mu.Lock()
	assert.Empty(t, s.routes)
	s.mu.Unlock()

	// A new subscription after the loss subscribes at the broker again.
	again, err := s.Subscribe(t.Context(), remotestore.AlertsPath("AB12CD34"), "timestamp")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestMQTTStore_OperationsFailWhenDisconnected(t *testing.T) {
	t.Parallel()

	b := newFakeBroker()
	s := newTestStore(t, b)
	defer func() { _ = s.Close() }()
	b.Disconnect(0)

	_, err := s.Read(t.Context(), "pairings/AB12CD34")
	assert.True(t, remotestore.IsUnavailable(err))
	err = s.Write(t.Context(), "pairings/AB12CD34", remotestore.Value{})
	assert.True(t, remotestore.IsUnavailable(err))
}

func TestMQTTStore_SkipsCorruptPayloads(t *testing.T) {
	t.Parallel()

	b := newFakeBroker()
	s := newTestStore(t, b)
	defer func() { _ = s.Close() }()
	alerts := remotestore.AlertsPath("AB12CD34")

	b.Publish("pw/"+alerts+"/broken", qos, true, []byte("{not json"))
	_, err := s.Append(t.Context(), alerts, remotestore.Value{"objectLabel": "cat"})
	require.NoError(t, err)

	children, err := s.List(t.Context(), alerts, "")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "cat", children[0].Value["objectLabel"])
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	v, err := decodePayload([]byte(`{"confidence":0.87,"objectLabel":"dog","tags":["a","b"],"active":true}`))
	require.NoError(t, err)

	conf, ok := remotestore.AsFloat(v["confidence"])
	require.True(t, ok)
	assert.InDelta(t, 0.87, conf, 1e-9)
	assert.Equal(t, "dog", v["objectLabel"])
	tags, ok := remotestore.AsStrings(v["tags"])
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)
	assert.Equal(t, true, v["active"])

	_, err = decodePayload([]byte(`[1,2]`))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRemoteStore))
}

func TestTopicMatches(t *testing.T) {
	t.Parallel()
	assert.True(t, topicMatches("a/+", "a/b"))
	assert.False(t, topicMatches("a/+", "a/b/c"))
	assert.True(t, topicMatches("a/#", "a"))
	assert.True(t, topicMatches("a/#", "a/b/c"))
	assert.False(t, topicMatches("a/b", "a/c"))
}
