package gateway

import (
	"PGate/service/codec"
)

// EchoHandler answers a request with its own data. Mostly useful for
// connectivity checks and the multiplexer tests.
type EchoHandler struct{}

func (EchoHandler) Kind() string { return codec.KindEcho }

func (EchoHandler) Handle(_ *Context, req *codec.Envelope, _ *Session) (*codec.Envelope, error) {
	resp := codec.NewResponse(req.RequestID, 200, "")
	resp.Data = req.Data
	return resp, nil
}

// SessionQueryHandler returns the caller's assigned session id and the
// address actually serving it.
type SessionQueryHandler struct{}

func (SessionQueryHandler) Kind() string { return codec.KindSessionQuery }

func (SessionQueryHandler) Handle(ctx *Context, req *codec.Envelope, s *Session) (*codec.Envelope, error) {
	resp := codec.NewResponse(req.RequestID, 200, "")
	resp.SessionInfo = &codec.SessionInfo{
		SessionID:     s.ID,
		ServerAddress: ctx.View.AddressOf(ctx.View.LocalID()),
	}
	return resp, nil
}
