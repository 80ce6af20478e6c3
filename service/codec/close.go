package codec

// Application close codes (4000-4999 per RFC 6455). Shared wire
// vocabulary: the gateway sends them, the multiplexer branches on them.
const (
	CloseNormal           = 4000 // server-side normal close
	CloseClientDisconnect = 4001 // client asked to disconnect
	// CloseRedirect hands the client off to another member; the target
	// address travels in the close reason text (or in the X-API-Reason
	// header when the handshake itself is rejected).
	CloseRedirect = 4300
	// CloseSwitch is a benign supersession: a newer session for the same
	// (user, device type) took over, or the connection is being rebound.
	CloseSwitch      = 4301
	CloseServerError = 4500
)
