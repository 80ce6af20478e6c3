package errs

// Stable numeric codes. Handshake rejections surface these in the
// X-API-Code response header; the multiplexer surfaces them through
// CodeError so clients can branch on them.
const (
	MalformedRequestError = 400 // missing mandatory handshake fields
	UnauthorizedError     = 401 // bad credentials / inactive or deleted account
	SessionConflictError  = 409 // device type not allowed to log in now
	RedirectError         = 307 // correct user, wrong node
	RateLimitedError      = 429 // min-interval throttle or too many reason queries
	ServerInternalError   = 500
	UnavailableError      = 503 // node inactive / quorum not met

	// Protocol class: multiplexer-level failures on an otherwise live link.
	DuplicateRequestIDError = 460
	MissingStatusCodeError  = 461
	MessageRejectedError    = 462
	NotConnectedError       = 463

	// Reason side-channel policy results.
	ReasonQueryDisabledError = 510
	ReasonQueryIllegalError  = 511

	// Fatal configuration: more members than slots. Unrecoverable.
	MemberOverflowError = 580
)

var (
	ErrBadRequest       = NewCodeError(MalformedRequestError, "bad request")
	ErrUnauthorized     = NewCodeError(UnauthorizedError, "unauthorized")
	ErrSessionConflict  = NewCodeError(SessionConflictError, "device type conflict")
	ErrRedirect         = NewCodeError(RedirectError, "served by another member")
	ErrRateLimited      = NewCodeError(RateLimitedError, "rate limited")
	ErrInternal         = NewCodeError(ServerInternalError, "internal error")
	ErrUnavailable      = NewCodeError(UnavailableError, "node unavailable")
	ErrDuplicateID      = NewCodeError(DuplicateRequestIDError, "duplicate request id")
	ErrMissingCode      = NewCodeError(MissingStatusCodeError, "missing status code")
	ErrMessageRejected  = NewCodeError(MessageRejectedError, "message rejected")
	ErrNotConnected     = NewCodeError(NotConnectedError, "not connected")
	ErrReasonDisabled   = NewCodeError(ReasonQueryDisabledError, "reason query disabled")
	ErrReasonIllegal    = NewCodeError(ReasonQueryIllegalError, "reason query not allowed for device type")
	ErrMemberOverflow   = NewCodeError(MemberOverflowError, "member count exceeds slot count")
	ErrRecordNotFound   = NewCodeError(404, "record not found")
)
