package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"PGate/logger"
	"PGate/service/gateway"
)

// Presence mirrors the session registry into redis so other services can
// answer "which gateway serves this user+device right now". The value is
// the serving gateway's advertised address; the TTL bounds staleness when
// a gateway dies without cleaning up.

type PresenceConf struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// NodeAddr is this gateway's advertised address, stored as the value.
	NodeAddr string
	TTL      time.Duration
}

func (c *PresenceConf) norm() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
}

type PresenceStore struct {
	rdb  *redis.Client
	conf PresenceConf
}

func NewPresenceStore(conf PresenceConf) (*PresenceStore, error) {
	conf.norm()
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
		PoolSize: conf.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "presence redis ping")
	}
	return &PresenceStore{rdb: rdb, conf: conf}, nil
}

// NewPresenceStoreWithClient shares an already-dialed client.
func NewPresenceStoreWithClient(rdb *redis.Client, conf PresenceConf) *PresenceStore {
	conf.norm()
	return &PresenceStore{rdb: rdb, conf: conf}
}

func presenceKey(userID int64, device string) string {
	return "pgate:presence:" + strconv.FormatInt(userID, 10) + ":" + device
}

func (p *PresenceStore) Online(ctx context.Context, userID int64, device string) error {
	err := p.rdb.Set(ctx, presenceKey(userID, device), p.conf.NodeAddr, p.conf.TTL).Err()
	return errors.Wrap(err, "presence online")
}

// Refresh renews the TTL without rewriting the value.
func (p *PresenceStore) Refresh(ctx context.Context, userID int64, device string) error {
	err := p.rdb.Expire(ctx, presenceKey(userID, device), p.conf.TTL).Err()
	return errors.Wrap(err, "presence refresh")
}

func (p *PresenceStore) Offline(ctx context.Context, userID int64, device string) error {
	err := p.rdb.Del(ctx, presenceKey(userID, device)).Err()
	return errors.Wrap(err, "presence offline")
}

// Lookup returns the serving gateway address, or online=false on a miss.
func (p *PresenceStore) Lookup(ctx context.Context, userID int64, device string) (string, bool, error) {
	addr, err := p.rdb.Get(ctx, presenceKey(userID, device)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return addr, true, nil
}

func (p *PresenceStore) Close() error { return p.rdb.Close() }

// ===== registry bridge =====

// TrackOnline is a registry OnlineListener.
func (p *PresenceStore) TrackOnline(s *gateway.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Online(ctx, s.UserID, s.DeviceType.String()); err != nil {
		logger.Errorf("[presence] online user=%d device=%s: %v", s.UserID, s.DeviceType, err)
	}
}

// TrackOffline is a registry OfflineListener. Switch closes never reach
// it, so a redirect handoff cannot flap presence.
func (p *PresenceStore) TrackOffline(s *gateway.Session, _ gateway.CloseInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Offline(ctx, s.UserID, s.DeviceType.String()); err != nil {
		logger.Errorf("[presence] offline user=%d device=%s: %v", s.UserID, s.DeviceType, err)
	}
}
