package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"PGate/tools/decode"
)

// One opaque binary frame per logical message. A zero-length frame is a
// heartbeat ping/ack and never reaches this codec; everything else is an
// Envelope.

// Request kinds understood by the gateway dispatcher.
const (
	KindEcho         = "echo"
	KindSessionQuery = "query_session"
)

type RelayedRequest struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// SessionInfo is pushed once after a successful upgrade when configured:
// the assigned session id plus the address actually serving the session.
type SessionInfo struct {
	SessionID     string `json:"session_id"`
	ServerAddress string `json:"server_address"`
}

type Envelope struct {
	RequestID      int64           `json:"request_id,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Code           *int64          `json:"code,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Data           map[string]any  `json:"data,omitempty"`
	RelayedRequest *RelayedRequest `json:"relayed_request,omitempty"`
	SessionInfo    *SessionInfo    `json:"session_info,omitempty"`
}

// IsResponse reports whether the frame answers a locally initiated request:
// it carries a correlation id and embeds no relayed request. A frame with a
// relayed request is a server-initiated push regardless of correlation id.
func (e *Envelope) IsResponse() bool {
	return e.RequestID != 0 && e.RelayedRequest == nil
}

func (e *Envelope) HasCode() bool { return e.Code != nil }

func (e *Envelope) StatusCode() int64 {
	if e.Code == nil {
		return 0
	}
	return *e.Code
}

func Code(c int64) *int64 { return &c }

func NewResponse(requestID int64, code int64, reason string) *Envelope {
	return &Envelope{RequestID: requestID, Code: Code(code), Reason: reason}
}

// Marshal encodes the envelope as a protojson Struct frame.
func Marshal(e *Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("envelope to map: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("envelope to struct: %w", err)
	}
	return protojson.Marshal(st)
}

// Unmarshal decodes one non-empty frame.
func Unmarshal(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	st := &structpb.Struct{}
	um := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := um.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	return decode.DecodeStruct[Envelope](st)
}
