package gateway

import (
	"testing"
	"time"

	"PGate/tools/errs"
)

func degradedBrowserCache(ttl time.Duration) *ReasonCache {
	return NewReasonCache(ReasonCacheConf{
		Enabled:       true,
		Degraded:      []DeviceType{DeviceBrowser},
		LoginTTL:      ttl,
		DisconnectTTL: ttl,
	})
}

func TestReasonCacheGating(t *testing.T) {
	c := degradedBrowserCache(time.Minute)

	// write for a non-degraded device type is a silent no-op
	c.CacheLoginFailed(200, DeviceDesktop, 11, "401")
	if _, err := c.LoginFailedReason(200, DeviceDesktop, 11); !errs.ErrReasonIllegal.Is(err) {
		t.Fatalf("desktop read: want illegal error, got %v", err)
	}

	// degraded device with no entry: empty result, no error
	reason, err := c.LoginFailedReason(200, DeviceBrowser, 11)
	if err != nil || reason != "" {
		t.Fatalf("miss: reason=%q err=%v", reason, err)
	}

	c.CacheLoginFailed(200, DeviceBrowser, 11, "401")
	reason, err = c.LoginFailedReason(200, DeviceBrowser, 11)
	if err != nil || reason != "401" {
		t.Fatalf("hit: reason=%q err=%v", reason, err)
	}
}

func TestReasonCacheDisabled(t *testing.T) {
	c := NewReasonCache(ReasonCacheConf{Enabled: false, Degraded: []DeviceType{DeviceBrowser}})

	c.CacheLoginFailed(200, DeviceBrowser, 11, "401")
	if _, err := c.LoginFailedReason(200, DeviceBrowser, 11); !errs.ErrReasonDisabled.Is(err) {
		t.Fatalf("want disabled error, got %v", err)
	}
	if _, err := c.DisconnectionReason(200, DeviceBrowser, "s1"); !errs.ErrReasonDisabled.Is(err) {
		t.Fatalf("want disabled error, got %v", err)
	}
}

func TestReasonCacheRejectsZeroKeys(t *testing.T) {
	c := degradedBrowserCache(time.Minute)

	c.CacheLoginFailed(0, DeviceBrowser, 11, "401")
	c.CacheLoginFailed(200, DeviceBrowser, 0, "401")
	c.CacheLoginFailed(200, DeviceBrowser, 11, "")
	if reason, _ := c.LoginFailedReason(200, DeviceBrowser, 11); reason != "" {
		t.Fatalf("zero-key write leaked: %q", reason)
	}

	c.CacheDisconnection(200, DeviceBrowser, "", "closed")
	if reason, _ := c.DisconnectionReason(200, DeviceBrowser, ""); reason != "" {
		t.Fatalf("empty-session write leaked: %q", reason)
	}
}

func TestReasonCacheExpiry(t *testing.T) {
	c := degradedBrowserCache(20 * time.Millisecond)

	c.CacheLoginFailed(200, DeviceBrowser, 11, "401")
	c.CacheDisconnection(200, DeviceBrowser, "s1", "4001")
	time.Sleep(60 * time.Millisecond)

	if reason, err := c.LoginFailedReason(200, DeviceBrowser, 11); err != nil || reason != "" {
		t.Fatalf("expired login entry: reason=%q err=%v", reason, err)
	}
	if reason, err := c.DisconnectionReason(200, DeviceBrowser, "s1"); err != nil || reason != "" {
		t.Fatalf("expired disconnect entry: reason=%q err=%v", reason, err)
	}
}

func TestDisconnectionReasonRoundTrip(t *testing.T) {
	c := degradedBrowserCache(time.Minute)

	c.CacheDisconnection(200, DeviceBrowser, "s1", "4300 10.0.0.2:9100")
	reason, err := c.DisconnectionReason(200, DeviceBrowser, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if reason != "4300 10.0.0.2:9100" {
		t.Fatalf("reason=%q", reason)
	}
	// other session ids miss
	if reason, _ := c.DisconnectionReason(200, DeviceBrowser, "s2"); reason != "" {
		t.Fatalf("unexpected hit: %q", reason)
	}
}

// A dropped session records its close through the registry offline hook;
// a switch close is a handoff and must leave no trace.
func TestTrackCloseThroughRegistry(t *testing.T) {
	c := degradedBrowserCache(time.Minute)
	registry := NewSessionRegistry(Policy{})
	registry.AddOfflineListener(c.TrackClose)

	s, _ := newTestSession(200, DeviceBrowser)
	registry.Register(s)
	registry.Evict(200, DeviceBrowser, CloseInfo{Code: CloseServerError, Reason: "write failed"})

	reason, err := c.DisconnectionReason(200, DeviceBrowser, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "4500" {
		t.Fatalf("reason=%q, want close code", reason)
	}

	// supersession: the old session's close is never recorded
	first, _ := newTestSession(7, DeviceBrowser)
	registry.Register(first)
	second, _ := newTestSession(7, DeviceBrowser)
	registry.Register(second)
	if reason, err := c.DisconnectionReason(7, DeviceBrowser, first.ID); err != nil || reason != "" {
		t.Fatalf("switch close leaked into reason cache: %q %v", reason, err)
	}
}

func TestTrackCloseRedirectStoresTarget(t *testing.T) {
	c := degradedBrowserCache(time.Minute)
	s, _ := newTestSession(200, DeviceBrowser)
	c.TrackClose(s, RedirectClose("10.0.0.2:9100"))

	reason, err := c.DisconnectionReason(200, DeviceBrowser, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "10.0.0.2:9100" {
		t.Fatalf("reason=%q, want redirect target", reason)
	}
}
