package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceType keys the simultaneous-login policy: at most one live session
// per (user, device type).
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceDesktop
	DeviceBrowser
	DeviceIOS
	DeviceAndroid
	DeviceOthers
)

var deviceNames = map[DeviceType]string{
	DeviceUnknown: "UNKNOWN",
	DeviceDesktop: "DESKTOP",
	DeviceBrowser: "BROWSER",
	DeviceIOS:     "IOS",
	DeviceAndroid: "ANDROID",
	DeviceOthers:  "OTHERS",
}

func (d DeviceType) String() string {
	if s, ok := deviceNames[d]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseDeviceType is case-insensitive; anything unrecognized collapses to
// the UNKNOWN sentinel rather than failing the handshake.
func ParseDeviceType(s string) DeviceType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DESKTOP":
		return DeviceDesktop
	case "BROWSER":
		return DeviceBrowser
	case "IOS":
		return DeviceIOS
	case "ANDROID":
		return DeviceAndroid
	case "OTHERS":
		return DeviceOthers
	default:
		return DeviceUnknown
	}
}

type OnlineStatus int

const (
	StatusAvailable OnlineStatus = iota
	StatusAway
	StatusDoNotDisturb
	StatusInvisible
)

func ParseOnlineStatus(s string) OnlineStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AWAY":
		return StatusAway
	case "DO_NOT_DISTURB":
		return StatusDoNotDisturb
	case "INVISIBLE":
		return StatusInvisible
	default:
		return StatusAvailable
	}
}

type Location struct {
	Longitude float64
	Latitude  float64
}

// ParseLocation parses "<longitude>:<latitude>".
func ParseLocation(s string) (*Location, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("location %q: want <longitude>:<latitude>", s)
	}
	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("location longitude %q: %w", parts[0], err)
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("location latitude %q: %w", parts[1], err)
	}
	return &Location{Longitude: lon, Latitude: lat}, nil
}

// ParseDeviceDetails parses a user-agent-like string of ";"-separated
// "key=value" entries; bare tokens land under "agent".
func ParseDeviceDetails(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, tok := range strings.Split(s, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if k, v, ok := strings.Cut(tok, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		} else {
			out["agent"] = tok
		}
	}
	return out
}
