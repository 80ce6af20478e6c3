package gateway

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"PGate/service/codec"
	"PGate/tools/errs"
)

// Header names are wire-level and live in the codec package; aliased for
// the server-side call sites.
const (
	HeaderRequestID     = codec.HeaderRequestID
	HeaderUserID        = codec.HeaderUserID
	HeaderPassword      = codec.HeaderPassword
	HeaderDeviceType    = codec.HeaderDeviceType
	HeaderOnlineStatus  = codec.HeaderOnlineStatus
	HeaderLocation      = codec.HeaderLocation
	HeaderDeviceDetails = codec.HeaderDeviceDetails

	HeaderCode   = codec.HeaderCode
	HeaderReason = codec.HeaderReason
)

type Handshake struct {
	RequestID     int64
	UserID        int64
	Password      string
	DeviceType    DeviceType
	Status        OnlineStatus
	Location      *Location
	DeviceDetails map[string]string
}

func (h *Handshake) Credentials() *Credentials {
	return &Credentials{
		UserID:     h.UserID,
		Password:   h.Password,
		DeviceType: h.DeviceType,
		Status:     h.Status,
		Location:   h.Location,
	}
}

// ParseHandshake validates the RECEIVED->VALIDATED transition. A missing
// or non-numeric user id is a malformed request: rejected fast, never
// cached (not a legitimate client).
func ParseHandshake(r *http.Request) (*Handshake, *errs.CodeError) {
	if !isUpgradeRequest(r) {
		return nil, errs.ErrBadRequest.WithDetail("not a websocket upgrade")
	}

	rawUser := handshakeValue(r, HeaderUserID)
	if rawUser == "" {
		return nil, errs.ErrBadRequest.WithDetail("missing user id")
	}
	userID, err := strconv.ParseInt(rawUser, 10, 64)
	if err != nil || userID <= 0 {
		return nil, errs.ErrBadRequest.WithDetail("bad user id " + rawUser)
	}

	var requestID int64
	if raw := handshakeValue(r, HeaderRequestID); raw != "" {
		requestID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errs.ErrBadRequest.WithDetail("bad request id " + raw)
		}
	}

	loc, err := ParseLocation(handshakeValue(r, HeaderLocation))
	if err != nil {
		return nil, errs.ErrBadRequest.WithDetail(err.Error())
	}

	return &Handshake{
		RequestID:     requestID,
		UserID:        userID,
		Password:      handshakeValue(r, HeaderPassword),
		DeviceType:    ParseDeviceType(handshakeValue(r, HeaderDeviceType)),
		Status:        ParseOnlineStatus(handshakeValue(r, HeaderOnlineStatus)),
		Location:      loc,
		DeviceDetails: ParseDeviceDetails(handshakeValue(r, HeaderDeviceDetails)),
	}, nil
}

func handshakeValue(r *http.Request, name string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	if c, err := r.Cookie(name); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			return v
		}
		return c.Value
	}
	return ""
}

func isUpgradeRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
