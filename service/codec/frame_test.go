package codec

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	in := &Envelope{
		RequestID: 101,
		Kind:      KindEcho,
		Code:      Code(200),
		Reason:    "ok",
		Data:      map[string]any{"text": "hello"},
	}
	raw, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if out.RequestID != 101 || out.Kind != KindEcho || out.Reason != "ok" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if !out.HasCode() || out.StatusCode() != 200 {
		t.Fatalf("code lost: %+v", out.Code)
	}
	if out.Data["text"] != "hello" {
		t.Fatalf("data lost: %+v", out.Data)
	}
}

func TestEnvelopeCodeAbsenceSurvives(t *testing.T) {
	raw, err := Marshal(&Envelope{RequestID: 7})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if out.HasCode() {
		t.Fatalf("absent code decoded as present: %v", *out.Code)
	}

	// explicit zero must stay distinguishable from absent
	raw, err = Marshal(&Envelope{RequestID: 8, Code: Code(0)})
	if err != nil {
		t.Fatal(err)
	}
	out, err = Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !out.HasCode() || out.StatusCode() != 0 {
		t.Fatalf("explicit zero code lost: %+v", out.Code)
	}
}

func TestRelayedRequestIsNotAResponse(t *testing.T) {
	raw, err := Marshal(&Envelope{
		RequestID:      55,
		RelayedRequest: &RelayedRequest{Kind: "friend_request", Data: map[string]any{"from": "u2"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if out.IsResponse() {
		t.Fatal("frame with relayed request must not be treated as a response")
	}
	if out.RelayedRequest == nil || out.RelayedRequest.Kind != "friend_request" {
		t.Fatalf("relayed request lost: %+v", out.RelayedRequest)
	}
}

func TestUnmarshalRejectsEmpty(t *testing.T) {
	if _, err := Unmarshal(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}
