package gateway

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"PGate/tools/errs"
)

// ReasonCache lets constrained clients ask "why was I rejected or
// disconnected" over a plain side channel after the fact, because the
// failed connection itself cannot carry the reason on some devices.
// Only device types in the configured degraded set participate.

type loginReasonKey struct {
	userID    int64
	device    DeviceType
	requestID int64
}

type disconnectReasonKey struct {
	userID    int64
	device    DeviceType
	sessionID string
}

type ReasonCacheConf struct {
	Enabled       bool
	Degraded      []DeviceType
	MaxSize       int           // per cache; LRU beyond this
	LoginTTL      time.Duration // entry lifetime
	DisconnectTTL time.Duration
}

func (c *ReasonCacheConf) norm() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1024
	}
	if c.LoginTTL <= 0 {
		c.LoginTTL = 60 * time.Second
	}
	if c.DisconnectTTL <= 0 {
		c.DisconnectTTL = 60 * time.Second
	}
}

type ReasonCache struct {
	conf       ReasonCacheConf
	degraded   map[DeviceType]bool
	login      *expirable.LRU[loginReasonKey, string]
	disconnect *expirable.LRU[disconnectReasonKey, string]
}

func NewReasonCache(conf ReasonCacheConf) *ReasonCache {
	conf.norm()
	degraded := make(map[DeviceType]bool, len(conf.Degraded))
	for _, d := range conf.Degraded {
		degraded[d] = true
	}
	return &ReasonCache{
		conf:       conf,
		degraded:   degraded,
		login:      expirable.NewLRU[loginReasonKey, string](conf.MaxSize, nil, conf.LoginTTL),
		disconnect: expirable.NewLRU[disconnectReasonKey, string](conf.MaxSize, nil, conf.DisconnectTTL),
	}
}

func (c *ReasonCache) Enabled() bool { return c.conf.Enabled }

func (c *ReasonCache) IsDegraded(d DeviceType) bool { return c.degraded[d] }

// CacheLoginFailed stores the rejection reason (a status code, or the
// redirect target). A write outside the gate is a silent no-op.
func (c *ReasonCache) CacheLoginFailed(userID int64, device DeviceType, requestID int64, reason string) {
	if !c.conf.Enabled || !c.degraded[device] {
		return
	}
	if userID <= 0 || requestID <= 0 || reason == "" {
		return
	}
	c.login.Add(loginReasonKey{userID, device, requestID}, reason)
}

// LoginFailedReason distinguishes policy violations from plain misses:
// disabled feature and non-degraded device type are errors, an expired or
// absent entry is an empty result.
func (c *ReasonCache) LoginFailedReason(userID int64, device DeviceType, requestID int64) (string, error) {
	if !c.conf.Enabled {
		return "", errs.ErrReasonDisabled.Wrap()
	}
	if !c.degraded[device] {
		return "", errs.ErrReasonIllegal.WrapMsg("device", "type", device)
	}
	reason, _ := c.login.Get(loginReasonKey{userID, device, requestID})
	return reason, nil
}

// TrackClose is the registry offline hook: it records why a session was
// dropped so a degraded client can ask afterwards. A switch close is a
// handoff, not a disconnect, and is never recorded; a redirect close
// stores the new owner's address, anything else the close code.
func (c *ReasonCache) TrackClose(s *Session, info CloseInfo) {
	if info.IsSwitch() {
		return
	}
	reason := strconv.Itoa(info.Code)
	if info.IsRedirect() && info.Reason != "" {
		reason = info.Reason
	}
	c.CacheDisconnection(s.UserID, s.DeviceType, s.ID, reason)
}

func (c *ReasonCache) CacheDisconnection(userID int64, device DeviceType, sessionID string, reason string) {
	if !c.conf.Enabled || !c.degraded[device] {
		return
	}
	if userID <= 0 || sessionID == "" || reason == "" {
		return
	}
	c.disconnect.Add(disconnectReasonKey{userID, device, sessionID}, reason)
}

func (c *ReasonCache) DisconnectionReason(userID int64, device DeviceType, sessionID string) (string, error) {
	if !c.conf.Enabled {
		return "", errs.ErrReasonDisabled.Wrap()
	}
	if !c.degraded[device] {
		return "", errs.ErrReasonIllegal.WrapMsg("device", "type", device)
	}
	reason, _ := c.disconnect.Get(disconnectReasonKey{userID, device, sessionID})
	return reason, nil
}
