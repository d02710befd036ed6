// Command fintrack-notifier consumes OTP delivery events from Kafka and
// delivers them over SMTP (email) or the log channel.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/app"
	"fintrack/cmd/internal/auth/notify"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := app.LoadDotEnv(); err != nil {
		return err
	}
	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ncfg, err := notify.ConfigFromEnv()
	if err != nil {
		return err
	}

	var email notify.Sender = notify.NewSMTPSender(ncfg.SMTP)
	if !email.Configured() {
		if cfg.Production() {
			return errors.New("fintrack-notifier: FINTRACK_SMTP_HOST and FINTRACK_SMTP_FROM are required in production")
		}
		logger.Warn("notifier.smtp.absent", "msg", "email codes will be logged")
		email = notify.LogSender{Log: logger}
	}
	// No SMS provider is wired; phone codes go to the log channel.
	var phone notify.Sender = notify.LogSender{Log: logger}

	out := notify.NewRouter(map[identity.Channel]notify.Sender{
		identity.ChannelEmail: notify.Timeout{Next: email, D: ncfg.Timeout},
		identity.ChannelPhone: notify.Timeout{Next: phone, D: ncfg.Timeout},
	})

	consumer, err := notify.NewConsumer(ncfg.Kafka, out, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("notifier.close.fail", "err", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("notifier.start", "brokers", ncfg.Kafka.Brokers, "topic", ncfg.Kafka.Topic)
	err = consumer.Run(ctx)
	logger.Info("notifier.stopped")
	return err
}
