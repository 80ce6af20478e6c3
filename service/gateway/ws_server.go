package gateway

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"PGate/logger"
	"PGate/service/cluster"
	"PGate/service/codec"
	"PGate/tools/errs"
)

type ServerConf struct {
	SendQueueSize   int
	FanoutWorkers   int
	FanoutQueue     int
	PingInterval    time.Duration // transport-level keepalive pings
	FirstPingDelay  time.Duration
	PushSessionInfo bool // push assigned session id + serving address after upgrade
}

func (c *ServerConf) norm() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.FirstPingDelay <= 0 {
		c.FirstPingDelay = 5 * time.Second
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	conf      ServerConf
	admission *Admission
	registry  *SessionRegistry
	disp      *Dispatcher
	fanout    *Fanout
	view      *cluster.View
}

func NewServer(conf ServerConf, admission *Admission, registry *SessionRegistry,
	disp *Dispatcher, view *cluster.View) *Server {
	conf.norm()
	return &Server{
		conf:      conf,
		admission: admission,
		registry:  registry,
		disp:      disp,
		fanout:    NewFanout(conf.FanoutWorkers, conf.FanoutQueue),
		view:      view,
	}
}

func (s *Server) Fanout() *Fanout            { return s.fanout }
func (s *Server) Registry() *SessionRegistry { return s.registry }

func (s *Server) Routes(r *gin.Engine) {
	r.GET("/im", s.HandleWS)
}

// HandleWS admits, upgrades, registers, then serves the read loop.
// Admission failures are resolved at the handshake boundary: the client
// sees response headers, never a mid-protocol error frame.
func (s *Server) HandleWS(c *gin.Context) {
	res := s.admission.Decide(c.Request.Context(), c.Request)
	switch res.Decision {
	case DecisionRedirected:
		c.Header(HeaderCode, strconv.Itoa(res.Code))
		c.Header(HeaderReason, res.RedirectTo)
		c.Status(http.StatusTemporaryRedirect)
		return
	case DecisionRejected:
		c.Header(HeaderCode, strconv.Itoa(res.Code))
		if res.Reason != "" {
			c.Header(HeaderReason, res.Reason)
		}
		c.Status(httpStatusFor(res.Code))
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade err: %v", err)
		return
	}

	sess := NewSession(res.Handshake, NewWSLink(ws), s.conf.SendQueueSize)
	// eviction of a conflicting (user, device type) session happens here,
	// with the benign switch reason
	s.registry.Register(sess)
	logger.Infof("[ws] accepted user=%d device=%s session=%s",
		sess.UserID, sess.DeviceType, sess.ID)

	go s.writeLoop(sess)

	if s.conf.PushSessionInfo {
		info := &codec.Envelope{SessionInfo: &codec.SessionInfo{
			SessionID:     sess.ID,
			ServerAddress: s.view.AddressOf(s.view.LocalID()),
		}}
		if payload, merr := codec.Marshal(info); merr == nil {
			sess.Enqueue(payload)
		}
	}

	s.readLoop(ws, sess)
}

func (s *Server) readLoop(ws *websocket.Conn, sess *Session) {
	var closeInfo CloseInfo
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			closeInfo = closeInfoFromErr(rerr, sess)
			break
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		if len(data) == 0 {
			// heartbeat ping; ack with an empty frame
			sess.TouchHeartbeat()
			sess.Enqueue([]byte{})
			continue
		}
		env, perr := codec.Unmarshal(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame session=%s err=%v sample=%q", sess.ID, perr, sample)
			continue
		}
		s.handleEnvelope(sess, env)
	}
	s.registry.Drop(sess, closeInfo)
}

func (s *Server) handleEnvelope(sess *Session, env *codec.Envelope) {
	if env.RequestID != 0 && !sess.MarkRequest(env.RequestID) {
		// a retried or duplicated frame must not run its handler twice
		s.respond(sess, codec.NewResponse(env.RequestID, errs.DuplicateRequestIDError, "duplicate request id"))
		return
	}
	h := s.disp.Get(env.Kind)
	if h == nil {
		if env.RequestID != 0 {
			s.respond(sess, codec.NewResponse(env.RequestID, 404, "unknown kind "+env.Kind))
		}
		return
	}
	resp, err := h.Handle(&Context{Registry: s.registry, View: s.view}, env, sess)
	if err != nil {
		logger.Errorf("[ws] handler kind=%s err: %v", env.Kind, err)
		if env.RequestID != 0 {
			s.respond(sess, codec.NewResponse(env.RequestID, int64(errs.CodeOf(err)), "handler failed"))
		}
		return
	}
	if resp != nil {
		s.respond(sess, resp)
	}
}

func (s *Server) respond(sess *Session, e *codec.Envelope) {
	payload, err := codec.Marshal(e)
	if err != nil {
		logger.Errorf("[ws] marshal response err: %v", err)
		return
	}
	if !sess.Enqueue(payload) {
		logger.Warnf("[ws] send queue full, drop response session=%s", sess.ID)
	}
}

// writeLoop is the single writer for one session: business frames first,
// then keepalive pings.
func (s *Server) writeLoop(sess *Session) {
	ticker := time.NewTicker(s.conf.PingInterval)
	first := time.NewTimer(s.conf.FirstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
	}()

	for {
		select {
		case payload := <-sess.Send:
			if err := sess.Link().WriteBinary(payload); err != nil {
				logger.Infof("[ws] write err session=%s user=%d: %v", sess.ID, sess.UserID, err)
				s.registry.Drop(sess, CloseInfo{Code: CloseServerError, Reason: "write failed"})
				return
			}
		case <-first.C:
			if err := sess.Link().WritePing(); err != nil {
				s.registry.Drop(sess, CloseInfo{Code: CloseServerError, Reason: "ping failed"})
				return
			}
		case <-ticker.C:
			if err := sess.Link().WritePing(); err != nil {
				s.registry.Drop(sess, CloseInfo{Code: CloseServerError, Reason: "ping failed"})
				return
			}
		case <-sess.Done():
			return
		}
	}
}

func closeInfoFromErr(err error, sess *Session) CloseInfo {
	if ce, ok := err.(*websocket.CloseError); ok {
		switch ce.Code {
		case CloseSwitch:
			return SwitchClose()
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return CloseInfo{Code: CloseClientDisconnect, Reason: "peer closed"}
		default:
			return CloseInfo{Code: ce.Code, Reason: ce.Text}
		}
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		logger.Infof("[ws] read timeout session=%s err=%v", sess.ID, err)
		return CloseInfo{Code: CloseServerError, Reason: "read timeout"}
	}
	return CloseInfo{Code: CloseClientDisconnect, Reason: "read error"}
}

// httpStatusFor passes HTTP-like rejection codes straight through and
// hides anything non-HTTP behind 500.
func httpStatusFor(code int) int {
	if code >= 100 && code < 600 {
		return code
	}
	return http.StatusInternalServerError
}
