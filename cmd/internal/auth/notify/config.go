package notify

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"fintrack/cmd/identity"
)

// Driver names a delivery backend.
type Driver string

const (
	DriverNone  Driver = "none"
	DriverLog   Driver = "log"
	DriverSMTP  Driver = "smtp"
	DriverKafka Driver = "kafka"
)

// Config selects a driver per channel.
type Config struct {
	Email Driver
	Phone Driver

	// Timeout bounds one delivery attempt.
	Timeout time.Duration

	// FallbackToLog logs the code when the primary driver fails. Never enable
	// in production.
	FallbackToLog bool

	SMTP  SMTPConfig
	Kafka KafkaConfig
}

// DefaultConfig logs codes on both channels.
func DefaultConfig() Config {
	return Config{
		Email:   DriverLog,
		Phone:   DriverLog,
		Timeout: 5 * time.Second,
		Kafka:   KafkaConfig{Topic: DefaultTopic, GroupID: "fintrack-notifier"},
	}
}

// ConfigFromEnv loads Config.
//
// Env surface:
// - FINTRACK_NOTIFY_EMAIL (none|log|smtp|kafka)
// - FINTRACK_NOTIFY_PHONE (none|log|kafka)
// - FINTRACK_NOTIFY_TIMEOUT
// - FINTRACK_NOTIFY_FALLBACK_LOG (true/false)
// - FINTRACK_SMTP_HOST, FINTRACK_SMTP_PORT, FINTRACK_SMTP_USERNAME,
// FINTRACK_SMTP_PASSWORD, FINTRACK_SMTP_FROM, FINTRACK_SMTP_FROM_NAME
// - FINTRACK_KAFKA_BROKERS (comma separated), FINTRACK_KAFKA_TOPIC,
// FINTRACK_KAFKA_GROUP_ID, FINTRACK_KAFKA_USERNAME, FINTRACK_KAFKA_PASSWORD,
// FINTRACK_KAFKA_TLS (true/false)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := env("FINTRACK_NOTIFY_EMAIL"); v != "" {
		cfg.Email = Driver(strings.ToLower(v))
	}
	if v := env("FINTRACK_NOTIFY_PHONE"); v != "" {
		cfg.Phone = Driver(strings.ToLower(v))
	}
	if v := env("FINTRACK_NOTIFY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: FINTRACK_NOTIFY_TIMEOUT", ErrConfig)
		}
		cfg.Timeout = d
	}
	if v := env("FINTRACK_NOTIFY_FALLBACK_LOG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: FINTRACK_NOTIFY_FALLBACK_LOG", ErrConfig)
		}
		cfg.FallbackToLog = b
	}

	cfg.SMTP = SMTPConfig{
		Host:     env("FINTRACK_SMTP_HOST"),
		Username: env("FINTRACK_SMTP_USERNAME"),
		Password: os.Getenv("FINTRACK_SMTP_PASSWORD"),
		From:     env("FINTRACK_SMTP_FROM"),
		FromName: env("FINTRACK_SMTP_FROM_NAME"),
	}
	if v := env("FINTRACK_SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return Config{}, fmt.Errorf("%w: FINTRACK_SMTP_PORT", ErrConfig)
		}
		cfg.SMTP.Port = p
	}

	if v := env("FINTRACK_KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	if v := env("FINTRACK_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := env("FINTRACK_KAFKA_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}
	cfg.Kafka.Username = env("FINTRACK_KAFKA_USERNAME")
	cfg.Kafka.Password = os.Getenv("FINTRACK_KAFKA_PASSWORD")
	if v := env("FINTRACK_KAFKA_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: FINTRACK_KAFKA_TLS", ErrConfig)
		}
		cfg.Kafka.TLS = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that each selected driver has what it needs.
func (c Config) Validate() error {
	check := func(ch identity.Channel, d Driver) error {
		switch d {
		case DriverNone, DriverLog:
			return nil
		case DriverSMTP:
			if ch != identity.ChannelEmail {
				return fmt.Errorf("%w: smtp cannot deliver to %s", ErrConfig, ch)
			}
			if c.SMTP.Host == "" || (c.SMTP.From == "" && c.SMTP.Username == "") {
				return fmt.Errorf("%w: smtp needs FINTRACK_SMTP_HOST and a sender address", ErrConfig)
			}
			return nil
		case DriverKafka:
			if !c.Kafka.configured() {
				return fmt.Errorf("%w: kafka needs FINTRACK_KAFKA_BROKERS", ErrConfig)
			}
			return nil
		default:
			return fmt.Errorf("%w: unknown driver %q for %s", ErrConfig, d, ch)
		}
	}
	if err := check(identity.ChannelEmail, c.Email); err != nil {
		return err
	}
	return check(identity.ChannelPhone, c.Phone)
}

// Built is the assembled sender plus the resources it owns.
type Built struct {
	*Router
	closers []io.Closer
}

// Close releases any producer connections.
func (b *Built) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build assembles the per-channel sender tree described by cfg.
func Build(cfg Config, log *slog.Logger) (*Built, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	b := &Built{}
	var kafkaSender *KafkaSender
	driver := func(d Driver) Sender {
		switch d {
		case DriverLog:
			return LogSender{Log: log}
		case DriverSMTP:
			return NewSMTPSender(cfg.SMTP)
		case DriverKafka:
			if kafkaSender == nil {
				kafkaSender = NewKafkaSender(cfg.Kafka)
				b.closers = append(b.closers, kafkaSender)
			}
			return kafkaSender
		default:
			return Unconfigured{}
		}
	}

	wrap := func(d Driver) Sender {
		s := driver(d)
		if cfg.FallbackToLog && d != DriverLog {
			s = Fallback{Primary: s, Secondary: LogSender{Log: log}, Log: log}
		}
		return Timeout{Next: s, D: cfg.Timeout}
	}

	b.Router = NewRouter(map[identity.Channel]Sender{
		identity.ChannelEmail: wrap(cfg.Email),
		identity.ChannelPhone: wrap(cfg.Phone),
	})
	return b, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
