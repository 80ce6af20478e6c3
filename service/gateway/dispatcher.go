package gateway

import (
	"github.com/golang/glog"

	"PGate/service/cluster"
	"PGate/service/codec"
)

type Context struct {
	Registry *SessionRegistry
	View     *cluster.View
}

type Handler interface {
	Kind() string
	Handle(ctx *Context, req *codec.Envelope, s *Session) (*codec.Envelope, error)
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Kind()] = h }

func (d *Dispatcher) Get(kind string) Handler {
	h, ok := d.handlers[kind]
	if !ok {
		glog.Infof("no handler for kind=%q", kind)
		return nil
	}
	return h
}
