package app

import (
	"github.com/sirupsen/logrus"

	"dispatch/internal/config"
	"dispatch/internal/events"
	"dispatch/internal/payment"
)

// NewPublisher returns a Kafka publisher when brokers are configured and a
// logging publisher otherwise.
func NewPublisher(cfg config.KafkaConfig, log logrus.FieldLogger) events.Publisher {
	if len(cfg.Brokers) == 0 {
		log.Info("no Kafka brokers configured, events will only be logged")
		return events.NewLogPublisher(log)
	}
	log.WithField("topic", cfg.Topic).Info("publishing events to Kafka")
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}

// NewGateway returns the Stripe gateway when a key is configured and a no-op one otherwise.
func NewGateway(cfg config.StripeConfig, log logrus.FieldLogger) payment.Gateway {
	if cfg.SecretKey == "" {
		log.Info("no Stripe key configured, escrow funding is tracked in the ledger only")
		return payment.NoopGateway{}
	}
	return payment.NewStripeGateway(cfg.SecretKey)
}
