package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberConfig(t *testing.T) {
	cfg := subscriberConfig([]string{"broker1:9092", "broker2:9092"}, "weft-api")

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Brokers)
	assert.Equal(t, "cg-weft-api", cfg.ConsumerGroup)
	assert.True(t, cfg.OTELEnabled)
	require.NotNil(t, cfg.OverwriteSaramaConfig)
	assert.Equal(t, sarama.OffsetOldest, cfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
}

func TestPublisherConfig(t *testing.T) {
	cfg := publisherConfig([]string{"broker1:9092"})

	assert.Equal(t, []string{"broker1:9092"}, cfg.Brokers)
	assert.True(t, cfg.OTELEnabled)
	require.NotNil(t, cfg.OverwriteSaramaConfig)
	assert.True(t, cfg.OverwriteSaramaConfig.Producer.Return.Successes)
}

func TestCreateChannelRequiresBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	_, _, err := CreateChannel(watermill.NopLogger{}, "weft-api")
	assert.ErrorContains(t, err, "KAFKA_BROKERS")
}
