// Package kafka provides the Kafka-backed channel implementation, for
// deployments where execution events must reach consumers outside the
// process.
package kafka

import (
	"errors"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, nil, errors.New("KAFKA_BROKERS environment variable is not set or empty")
	}

	subscriber, err := kafka.NewSubscriber(subscriberConfig(brokers, serviceName), logger)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := kafka.NewPublisher(publisherConfig(brokers), logger)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}

func subscriberConfig(brokers []string, serviceName string) kafka.SubscriberConfig {
	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
		ConsumerGroup:         "cg-" + serviceName,
		OTELEnabled:           true,
	}
}

func publisherConfig(brokers []string) kafka.PublisherConfig {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true

	return kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
		OTELEnabled:           true,
	}
}
