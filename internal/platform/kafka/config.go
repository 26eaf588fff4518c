// Package kafka holds broker configuration shared by the outcome event producer
// and the readiness check.
package kafka

import (
	"strings"
	"time"
)

// DefaultOutcomeTopic receives verification.completed events.
const DefaultOutcomeTopic = "gatekeeper.verification-outcomes"

// ProducerConfig holds configuration for the Kafka producer.
type ProducerConfig struct {
	Brokers         []string
	Topic           string
	ClientID        string
	Acks            string // "0", "1" or "all"
	Retries         int
	DeliveryTimeout time.Duration
}

// Enabled reports whether any broker is configured.
func (c ProducerConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// DefaultProducerConfig returns defaults for the given comma-separated broker list.
func DefaultProducerConfig(brokers string) ProducerConfig {
	return ProducerConfig{
		Brokers:         ParseBrokers(brokers),
		Topic:           DefaultOutcomeTopic,
		ClientID:        "gatekeeper-relay",
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}
}

// ParseBrokers splits a comma-separated list, dropping blanks.
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
