package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"PGate/tools/errs"
)

// ReasonAPI is the authentication-free side channel degraded clients poll
// for failure reasons. Query volume is capped with a small semaphore;
// anything beyond it is rate-limited, not queued.
type ReasonAPI struct {
	cache *ReasonCache
	sem   chan struct{}
}

func NewReasonAPI(cache *ReasonCache, maxConcurrent int) *ReasonAPI {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &ReasonAPI{
		cache: cache,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (a *ReasonAPI) Routes(r *gin.Engine) {
	r.GET("/reasons/login-failed", a.handleLoginFailed)
	r.GET("/reasons/disconnection", a.handleDisconnection)
}

type reasonResp struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

func (a *ReasonAPI) handleLoginFailed(c *gin.Context) {
	if !a.acquire(c) {
		return
	}
	defer a.release()

	userID, ok1 := queryInt64(c, "userId")
	requestID, ok2 := queryInt64(c, "requestId")
	device := ParseDeviceType(c.Query("deviceType"))
	if !ok1 || !ok2 {
		c.JSON(http.StatusBadRequest, reasonResp{Code: errs.MalformedRequestError, Msg: "bad query"})
		return
	}

	reason, err := a.cache.LoginFailedReason(userID, device, requestID)
	writeReason(c, reason, err)
}

func (a *ReasonAPI) handleDisconnection(c *gin.Context) {
	if !a.acquire(c) {
		return
	}
	defer a.release()

	userID, ok := queryInt64(c, "userId")
	sessionID := c.Query("sessionId")
	device := ParseDeviceType(c.Query("deviceType"))
	if !ok || sessionID == "" {
		c.JSON(http.StatusBadRequest, reasonResp{Code: errs.MalformedRequestError, Msg: "bad query"})
		return
	}

	reason, err := a.cache.DisconnectionReason(userID, device, sessionID)
	writeReason(c, reason, err)
}

func (a *ReasonAPI) acquire(c *gin.Context) bool {
	select {
	case a.sem <- struct{}{}:
		return true
	default:
		c.JSON(http.StatusTooManyRequests, reasonResp{Code: errs.RateLimitedError, Msg: "too many reason queries"})
		return false
	}
}

func (a *ReasonAPI) release() { <-a.sem }

func writeReason(c *gin.Context, reason string, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, reasonResp{Code: 0, Reason: reason})
	case errs.ErrReasonDisabled.Is(err):
		c.JSON(http.StatusServiceUnavailable, reasonResp{Code: errs.ReasonQueryDisabledError, Msg: "disabled"})
	case errs.ErrReasonIllegal.Is(err):
		c.JSON(http.StatusForbidden, reasonResp{Code: errs.ReasonQueryIllegalError, Msg: "not allowed for device type"})
	default:
		c.JSON(http.StatusInternalServerError, reasonResp{Code: errs.ServerInternalError, Msg: "internal"})
	}
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
