package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig("localhost:9092")
	assert.True(t, cfg.Enabled())
	assert.Equal(t, DefaultOutcomeTopic, cfg.Topic)
	assert.False(t, DefaultProducerConfig("").Enabled())
}
