package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"PGate/service/gateway"
)

// Session lifecycle events published for downstream services (presence
// aggregation, audit, push). One event per real state change; switch
// closes produce no offline event, so consumers never see a reconnect as
// the user leaving.

const (
	TypeOnline  = "session_online"
	TypeOffline = "session_offline"
)

type SessionEvent struct {
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	DeviceType string `json:"device_type"`
	SessionID  string `json:"session_id"`
	CloseCode  int    `json:"close_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	At         int64  `json:"at"` // unix millis
}

func (e *SessionEvent) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	return raw, errors.Wrap(err, "encode session event")
}

// Producer publishes one event; the partition/subject key is the user id
// so per-user ordering survives fanout.
type Producer interface {
	Publish(ctx context.Context, e *SessionEvent) error
	Close() error
}

func onlineEvent(s *gateway.Session) *SessionEvent {
	return &SessionEvent{
		Type:       TypeOnline,
		UserID:     s.UserID,
		DeviceType: s.DeviceType.String(),
		SessionID:  s.ID,
		At:         time.Now().UnixMilli(),
	}
}

func offlineEvent(s *gateway.Session, info gateway.CloseInfo) *SessionEvent {
	return &SessionEvent{
		Type:       TypeOffline,
		UserID:     s.UserID,
		DeviceType: s.DeviceType.String(),
		SessionID:  s.ID,
		CloseCode:  info.Code,
		Reason:     info.Reason,
		At:         time.Now().UnixMilli(),
	}
}
