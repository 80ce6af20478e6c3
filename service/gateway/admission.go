package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"

	"PGate/logger"
	"PGate/module/user"
	"PGate/tools/errs"
)

// NodeState gates admission on node liveness: the node may be
// administratively deactivated, or not serving because cluster quorum is
// not met.
type NodeState struct {
	active atomic.Bool
}

func NewNodeState() *NodeState {
	n := &NodeState{}
	n.active.Store(true)
	return n
}

func (n *NodeState) Activate()    { n.active.Store(true) }
func (n *NodeState) Deactivate()  { n.active.Store(false) }
func (n *NodeState) Active() bool { return n.active.Load() }

type AdmissionConf struct {
	// AuthEnabled toggles the authenticator chain; when off, any
	// well-formed handshake for an existing ownership range is let in.
	AuthEnabled bool
	// ServeOutsideRange admits users whose slot belongs to another member
	// instead of redirecting. Operational escape hatch.
	ServeOutsideRange bool
}

type Decision int

const (
	DecisionAccepted Decision = iota
	DecisionRedirected
	DecisionRejected
)

type AdmissionResult struct {
	Decision   Decision
	Code       int
	Reason     string
	RedirectTo string
	Handshake  *Handshake
}

type Viewer interface {
	MemberAddrResponsibleFor(userID int64) (addr string, local bool)
}

// Admission runs the handshake state machine:
// RECEIVED -> VALIDATED -> AUTHENTICATED -> OWNERSHIP_CHECKED ->
// [ACCEPTED | REDIRECTED | REJECTED]. Phases are strictly sequential:
// each may short-circuit.
type Admission struct {
	conf     AdmissionConf
	node     *NodeState
	view     Viewer
	registry *SessionRegistry
	store    user.Store
	chain    *Chain
	reasons  *ReasonCache
}

func NewAdmission(conf AdmissionConf, node *NodeState, view Viewer,
	registry *SessionRegistry, store user.Store, chain *Chain, reasons *ReasonCache) *Admission {
	return &Admission{
		conf:     conf,
		node:     node,
		view:     view,
		registry: registry,
		store:    store,
		chain:    chain,
		reasons:  reasons,
	}
}

func (a *Admission) Decide(ctx context.Context, r *http.Request) *AdmissionResult {
	// RECEIVED -> VALIDATED
	hs, cerr := ParseHandshake(r)
	if cerr != nil {
		// malformed request: rejected fast, never cached
		return &AdmissionResult{
			Decision: DecisionRejected,
			Code:     cerr.Code,
			Reason:   cerr.Detail,
		}
	}

	// VALIDATED -> AUTHENTICATED
	if !a.node.Active() {
		return a.reject(hs, errs.UnavailableError, "node inactive")
	}
	// the account liveness gate is not behind AuthEnabled: an inactive or
	// soft-deleted account never gets a session, credentials or not
	acct, lerr := a.store.Account(ctx, hs.UserID)
	if lerr != nil {
		if errs.ErrRecordNotFound.Is(lerr) {
			return a.reject(hs, errs.UnauthorizedError, "unknown account")
		}
		logger.Warnf("[admission] account lookup user=%d: %v", hs.UserID, lerr)
		return a.reject(hs, errs.UnavailableError, "account lookup failed")
	}
	if acct == nil || !acct.Active || acct.Deleted {
		return a.reject(hs, errs.UnauthorizedError, "account inactive")
	}
	if a.conf.AuthEnabled {
		if outcome := a.chain.Authenticate(ctx, hs.Credentials()); outcome != OutcomeAllow {
			return a.reject(hs, errs.UnauthorizedError, "unauthorized")
		}
	}

	// AUTHENTICATED -> OWNERSHIP_CHECKED
	if addr, local := a.view.MemberAddrResponsibleFor(hs.UserID); !local {
		if !a.conf.ServeOutsideRange {
			a.reasons.CacheLoginFailed(hs.UserID, hs.DeviceType, hs.RequestID, addr)
			logger.Infof("[admission] redirect user=%d to=%s", hs.UserID, addr)
			return &AdmissionResult{
				Decision:   DecisionRedirected,
				Code:       errs.RedirectError,
				RedirectTo: addr,
				Handshake:  hs,
			}
		}
		logger.Infof("[admission] serving user=%d outside assigned range", hs.UserID)
	}

	// device-type uniqueness policy, checked before accepting
	if !a.registry.IsDeviceTypeAllowed(hs.UserID, hs.DeviceType) {
		return a.reject(hs, errs.SessionConflictError, "conflicting device online")
	}

	// OWNERSHIP_CHECKED -> ACCEPTED; caller registers the session and
	// completes the protocol upgrade.
	return &AdmissionResult{Decision: DecisionAccepted, Handshake: hs}
}

// Rebalance evicts every live session whose slot now belongs to another
// member, closing each with the redirect reason carrying the new owner's
// address. Wired to membership change notifications; a node configured to
// serve outside its range keeps its sessions.
func (a *Admission) Rebalance() {
	if a.conf.ServeOutsideRange {
		return
	}
	for _, s := range a.registry.All() {
		addr, local := a.view.MemberAddrResponsibleFor(s.UserID)
		if local {
			continue
		}
		logger.Infof("[admission] rebalance user=%d session=%s to=%s", s.UserID, s.ID, addr)
		a.registry.Evict(s.UserID, s.DeviceType, RedirectClose(addr))
	}
}

func (a *Admission) reject(hs *Handshake, code int, reason string) *AdmissionResult {
	a.reasons.CacheLoginFailed(hs.UserID, hs.DeviceType, hs.RequestID, strconv.Itoa(code))
	return &AdmissionResult{
		Decision:  DecisionRejected,
		Code:      code,
		Reason:    reason,
		Handshake: hs,
	}
}
