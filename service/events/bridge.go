package events

import (
	"context"
	"time"

	"PGate/logger"
	"PGate/service/gateway"
)

const publishTimeout = 5 * time.Second

// Bridge adapts a Producer to the session registry's listener hooks.
// Publish failures are logged and dropped: losing an event must never
// stall or kill the connection path.
type Bridge struct {
	producer Producer
}

func NewBridge(p Producer) *Bridge { return &Bridge{producer: p} }

func (b *Bridge) Bind(r *gateway.SessionRegistry) {
	r.AddOnlineListener(b.OnOnline)
	r.AddOfflineListener(b.OnOffline)
}

func (b *Bridge) OnOnline(s *gateway.Session) {
	b.publish(onlineEvent(s))
}

func (b *Bridge) OnOffline(s *gateway.Session, info gateway.CloseInfo) {
	b.publish(offlineEvent(s, info))
}

func (b *Bridge) publish(e *SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.producer.Publish(ctx, e); err != nil {
		logger.Errorf("[events] publish %s user=%d: %v", e.Type, e.UserID, err)
	}
}
