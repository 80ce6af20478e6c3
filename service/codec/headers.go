package codec

// Handshake metadata travels in headers or cookies; the header wins when
// both are present. Cookie values arrive URL-encoded.
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderUserID        = "X-User-Id"
	HeaderPassword      = "X-Password"
	HeaderDeviceType    = "X-Device-Type"
	HeaderOnlineStatus  = "X-Online-Status"
	HeaderLocation      = "X-Location"
	HeaderDeviceDetails = "X-Device-Details"

	// Response headers on rejection: numeric status code, and the redirect
	// target (or human reason) when present.
	HeaderCode   = "X-API-Code"
	HeaderReason = "X-API-Reason"
)
