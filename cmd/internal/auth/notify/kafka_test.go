package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaSender_PublishesEvent(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &KafkaSender{w: w, now: func() time.Time { return now }}

	m := emailMsg()
	require.NoError(t, s.Send(context.Background(), m))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, m.Identifier, string(w.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "email", ev.Channel)
	assert.Equal(t, "login", ev.Purpose)
	assert.Equal(t, "123456", ev.Code)
	assert.True(t, ev.QueuedAt.Equal(now))
}

func TestKafkaSender_Errors(t *testing.T) {
	assert.False(t, NewKafkaSender(KafkaConfig{}).Configured())
	assert.ErrorIs(t, NewKafkaSender(KafkaConfig{}).Send(context.Background(), emailMsg()), ErrNotConfigured)

	boom := errors.New("broker down")
	s := &KafkaSender{w: &fakeWriter{err: boom}, now: time.Now}
	assert.ErrorIs(t, s.Send(context.Background(), emailMsg()), boom)
}

func encode(t *testing.T, m Message, offset int64) kafka.Message {
	t.Helper()
	v, err := json.Marshal(EventFromMessage(m, time.Now()))
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: v}
}

func TestConsumer_Handle(t *testing.T) {
	out := &recordSender{}
	c := newConsumer(&fakeReader{}, out, nil)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, encode(t, emailMsg(), 1)))
	assert.Equal(t, 1, out.count())

	stale := emailMsg()
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	assert.ErrorIs(t, c.Handle(ctx, encode(t, stale, 2)), errStale)

	assert.Error(t, c.Handle(ctx, kafka.Message{Value: []byte("{not json")}))
	assert.Error(t, c.Handle(ctx, kafka.Message{Value: []byte(`{"identifier":"x","channel":"fax","purpose":"login","code":"1"}`)}))
	assert.Equal(t, 1, out.count())
}

func TestConsumer_RunCommitsEverything(t *testing.T) {
	bad := kafka.Message{Offset: 2, Value: []byte("garbage")}
	r := &fakeReader{queue: []kafka.Message{encode(t, emailMsg(), 1), bad, encode(t, emailMsg(), 3)}}
	out := &recordSender{}
	c := newConsumer(r, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, out.count())
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

func TestNewConsumer_RequiresBrokersAndSender(t *testing.T) {
	_, err := NewConsumer(KafkaConfig{}, &recordSender{}, nil)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, Unconfigured{}, nil)
	assert.ErrorIs(t, err, ErrConfig)
}
