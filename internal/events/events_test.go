package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	events []*Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e *Event) error {
	r.events = append(r.events, e)
	return r.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNew(t *testing.T) {
	e := New(EscrowReleased, "txn_1", map[string]string{"amount": "500.00"}, "usr_a", "usr_b")

	assert.True(t, strings.HasPrefix(e.ID, "evt_"))
	assert.Equal(t, EscrowReleased, e.Type)
	assert.Equal(t, []string{"usr_a", "usr_b"}, e.UserIDs)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("broker down")}
	last := &recordingPublisher{}

	err := Fanout{ok, broken, nil, last}.Publish(context.Background(), New(BadgeEarned, "usr_a", nil, "usr_a"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, last.events, 1, "a failing sink must not stop later sinks")
}

func TestKafkaPublisher_WritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "kindkart.settlement"}

	e := New(PaymentCaptured, "txn_42", map[string]string{"requestId": "req_1"}, "usr_a")
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "kindkart.settlement", msg.Topic)
	assert.Equal(t, "txn_42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "payment_captured", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, PaymentCaptured, decoded.Type)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &KafkaPublisher{writer: w, topic: "t"}

	err := p.Publish(context.Background(), New(EscrowDisputed, "txn_1", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewKafkaPublisher_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "t")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
