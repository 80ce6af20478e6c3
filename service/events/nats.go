package events

import (
	"context"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type NatsConf struct {
	URL     string
	Subject string
}

func (c *NatsConf) norm() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "pgate.session.events"
	}
}

// NatsProducer publishes session events on core NATS, one subject per
// event stream with the user id in a header for subject-agnostic filters.
type NatsProducer struct {
	conf NatsConf
	nc   *nats.Conn
}

func NewNatsProducer(conf NatsConf) (*NatsProducer, error) {
	conf.norm()
	nc, err := nats.Connect(conf.URL,
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NatsProducer{conf: conf, nc: nc}, nil
}

func (p *NatsProducer) Publish(_ context.Context, e *SessionEvent) error {
	raw, err := e.Encode()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.conf.Subject)
	msg.Header.Set("user-id", strconv.FormatInt(e.UserID, 10))
	msg.Header.Set("event-type", e.Type)
	msg.Data = raw
	return errors.Wrap(p.nc.PublishMsg(msg), "nats publish")
}

func (p *NatsProducer) Close() error {
	err := p.nc.Drain()
	return errors.Wrap(err, "nats drain")
}
