// Package kafka publishes order events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Shopify/sarama"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

// NewSyncProducer dials brokers with an idempotent, all-acks producer. The
// producer owns its client, so closing it releases every broker connection.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	conn, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer %v: %w", brokers, err)
	}
	return conn, nil
}

func producerConfig() *sarama.Config {
	saramaConf := sarama.NewConfig()
	saramaConf.Producer.Return.Successes = true
	saramaConf.Producer.Return.Errors = true
	saramaConf.Producer.RequiredAcks = sarama.WaitForAll
	saramaConf.Producer.Retry.Max = 5
	saramaConf.Producer.Idempotent = true
	saramaConf.Net.MaxOpenRequests = 1
	saramaConf.Version = sarama.V2_1_0_0
	return saramaConf
}

// NotificationSink publishes every order event keyed by order id, so all
// events for one order land on one partition in order. order.paid is the
// buyer's confirmation notification.
type NotificationSink struct {
	conn  sarama.SyncProducer
	topic string
}

func NewNotificationSink(conn sarama.SyncProducer, topic string) *NotificationSink {
	return &NotificationSink{conn: conn, topic: topic}
}

func (s *NotificationSink) Name() string { return "kafka" }

func (s *NotificationSink) Deliver(_ context.Context, event models.OrderEvent) error {
	msg, err := toKafkaMessage(event, s.topic)
	if err != nil {
		return err
	}
	if _, _, err := s.conn.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s for order %d: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (s *NotificationSink) Close() error {
	return s.conn.Close()
}

func toKafkaMessage(event models.OrderEvent, topic string) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.OrderID, 10)),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}, nil
}
