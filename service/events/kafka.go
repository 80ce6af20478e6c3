package events

import (
	"context"
	"strconv"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type KafkaConf struct {
	Brokers []string
	Topic   string
	Retries int
}

func (c *KafkaConf) norm() {
	if c.Topic == "" {
		c.Topic = "pgate.session.events"
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
}

// KafkaProducer publishes session events through a sync producer, hash
// partitioned by user id.
type KafkaProducer struct {
	conf     KafkaConf
	client   sarama.Client
	producer sarama.SyncProducer
}

func NewKafkaProducer(conf KafkaConf) (*KafkaProducer, error) {
	conf.norm()

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = conf.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second

	client, err := sarama.NewClient(conf.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka client")
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka sync producer")
	}
	return &KafkaProducer{conf: conf, client: client, producer: producer}, nil
}

func (p *KafkaProducer) Publish(_ context.Context, e *SessionEvent) error {
	raw, err := e.Encode()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.conf.Topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(e.UserID, 10)),
		Value: sarama.ByteEncoder(raw),
	}
	_, _, err = p.producer.SendMessage(msg)
	return errors.Wrap(err, "kafka publish")
}

func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		_ = p.client.Close()
		return errors.Wrap(err, "kafka producer close")
	}
	return errors.Wrap(p.client.Close(), "kafka client close")
}
