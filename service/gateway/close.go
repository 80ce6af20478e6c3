package gateway

import "PGate/service/codec"

// Close codes are wire-level and live in the codec package; aliased here
// for the server-side call sites.
const (
	CloseNormal           = codec.CloseNormal
	CloseClientDisconnect = codec.CloseClientDisconnect
	CloseRedirect         = codec.CloseRedirect
	CloseSwitch           = codec.CloseSwitch
	CloseServerError      = codec.CloseServerError
)

type CloseInfo struct {
	Code   int
	Reason string
}

func (c CloseInfo) IsSwitch() bool   { return c.Code == CloseSwitch }
func (c CloseInfo) IsRedirect() bool { return c.Code == CloseRedirect }

func SwitchClose() CloseInfo {
	return CloseInfo{Code: CloseSwitch, Reason: "superseded"}
}

func RedirectClose(target string) CloseInfo {
	return CloseInfo{Code: CloseRedirect, Reason: target}
}
