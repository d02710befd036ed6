package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
)

// DefaultTopic carries OTP delivery events.
const DefaultTopic = "fintrack.otp.delivery"

// KafkaConfig configures KafkaSender and Consumer.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Username string
	Password string
	TLS      bool
}

func (c KafkaConfig) configured() bool { return len(c.Brokers) > 0 }

func (c KafkaConfig) topic() string {
	if c.Topic == "" {
		return DefaultTopic
	}
	return c.Topic
}

// Event is the wire form of a Message on the delivery topic.
type Event struct {
	Identifier string    `json:"identifier"`
	Channel    string    `json:"channel"`
	Purpose    string    `json:"purpose"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	QueuedAt   time.Time `json:"queued_at"`
}

// EventFromMessage converts m for publishing.
func EventFromMessage(m Message, now time.Time) Event {
	return Event{
		Identifier: m.Identifier,
		Channel:    string(m.Channel),
		Purpose:    string(m.Purpose),
		Code:       m.Code,
		ExpiresAt:  m.ExpiresAt.UTC(),
		QueuedAt:   now.UTC(),
	}
}

// Message converts e back, validating channel and purpose.
func (e Event) Message() (Message, error) {
	ch := identity.Channel(e.Channel)
	p := otp.Purpose(e.Purpose)
	if !ch.Valid() || !p.Valid() || e.Identifier == "" || e.Code == "" {
		return Message{}, fmt.Errorf("notify: malformed event")
	}
	return Message{Identifier: e.Identifier, Channel: ch, Purpose: p, Code: e.Code, ExpiresAt: e.ExpiresAt}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes delivery events; fintrack-notifier performs the
// actual delivery. Success means the broker acknowledged the event.
type KafkaSender struct {
	w   messageWriter
	now func() time.Time
}

// NewKafkaSender returns a KafkaSender, or an unconfigured one if no brokers are set.
func NewKafkaSender(cfg KafkaConfig) *KafkaSender {
	if !cfg.configured() {
		return &KafkaSender{now: time.Now}
	}

	transport := &kafka.Transport{DialTimeout: 5 * time.Second}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &KafkaSender{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.topic(),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
			Transport:    transport,
		},
		now: time.Now,
	}
}

func (s *KafkaSender) Configured() bool { return s.w != nil }

func (s *KafkaSender) Send(ctx context.Context, m Message) error {
	if s.w == nil {
		return ErrNotConfigured
	}
	v, err := json.Marshal(EventFromMessage(m, s.now()))
	if err != nil {
		return err
	}
	// Keyed by identifier so events for one recipient stay ordered.
	if err := s.w.WriteMessages(ctx, kafka.Message{Key: []byte(m.Identifier), Value: v}); err != nil {
		return fmt.Errorf("notify.kafka: publish: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	if s.w == nil {
		return nil
	}
	return s.w.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads delivery events and hands them to a Sender.
//
// Events are committed even when delivery fails: codes are short-lived and a
// redelivered stale code is worse than none. Events already past their expiry
// are dropped.
type Consumer struct {
	r    messageReader
	out  Sender
	log  *slog.Logger
	now  func() time.Time
	wait time.Duration
}

// NewConsumer returns a Consumer in cfg.GroupID (default "fintrack-notifier").
func NewConsumer(cfg KafkaConfig, out Sender, log *slog.Logger) (*Consumer, error) {
	if !cfg.configured() {
		return nil, fmt.Errorf("%w: no kafka brokers", ErrConfig)
	}
	if out == nil || !out.Configured() {
		return nil, fmt.Errorf("%w: consumer has no configured sender", ErrConfig)
	}
	group := cfg.GroupID
	if group == "" {
		group = "fintrack-notifier"
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  group,
		Topic:    cfg.topic(),
		MinBytes: 1,
		MaxBytes: 1 << 20,
		Dialer:   dialer,
	})
	return newConsumer(r, out, log), nil
}

func newConsumer(r messageReader, out Sender, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{r: r, out: out, log: log, now: time.Now, wait: time.Second}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("notify.consumer.fetch_failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.wait):
			}
			continue
		}

		if err := c.Handle(ctx, msg); err != nil {
			c.log.Warn("notify.consumer.delivery_failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("notify.consumer.commit_failed", "offset", msg.Offset, "err", err)
		}
	}
}

// errStale marks an event that expired before it could be delivered.
var errStale = errors.New("notify: event expired before delivery")

// Handle decodes and delivers one event.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("notify: decode event: %w", err)
	}
	m, err := ev.Message()
	if err != nil {
		return err
	}
	if !m.ExpiresAt.IsZero() && !c.now().Before(m.ExpiresAt) {
		return errStale
	}
	if err := c.out.Send(ctx, m); err != nil {
		return err
	}
	c.log.Info("notify.consumer.delivered", "channel", ev.Channel, "purpose", ev.Purpose)
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error { return c.r.Close() }
