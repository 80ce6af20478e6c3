package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"PGate/tools/errs"
)

func TestParseHandshakeHeaders(t *testing.T) {
	r := upgradeRequest(t, map[string]string{
		HeaderRequestID:     "12345",
		HeaderUserID:        "200",
		HeaderPassword:      "secret",
		HeaderDeviceType:    "IOS",
		HeaderOnlineStatus:  "AWAY",
		HeaderLocation:      "116.40:39.90",
		HeaderDeviceDetails: "os=ios17;model=iphone15",
	})

	hs, cerr := ParseHandshake(r)
	if cerr != nil {
		t.Fatal(cerr)
	}
	if hs.RequestID != 12345 || hs.UserID != 200 || hs.Password != "secret" {
		t.Fatalf("unexpected handshake: %+v", hs)
	}
	if hs.DeviceType != DeviceIOS || hs.Status != StatusAway {
		t.Fatalf("device=%v status=%v", hs.DeviceType, hs.Status)
	}
	if hs.Location == nil || hs.Location.Longitude != 116.40 || hs.Location.Latitude != 39.90 {
		t.Fatalf("location=%+v", hs.Location)
	}
	if hs.DeviceDetails["model"] != "iphone15" {
		t.Fatalf("details=%v", hs.DeviceDetails)
	}
}

func TestParseHandshakeCookieFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/im", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.AddCookie(&http.Cookie{Name: HeaderUserID, Value: "200"})
	// cookie values arrive URL-encoded
	r.AddCookie(&http.Cookie{Name: HeaderPassword, Value: "p%40ss"})
	r.AddCookie(&http.Cookie{Name: HeaderDeviceType, Value: "BROWSER"})

	hs, cerr := ParseHandshake(r)
	if cerr != nil {
		t.Fatal(cerr)
	}
	if hs.UserID != 200 || hs.Password != "p@ss" || hs.DeviceType != DeviceBrowser {
		t.Fatalf("unexpected handshake: %+v", hs)
	}
}

func TestParseHandshakeHeaderWinsOverCookie(t *testing.T) {
	r := upgradeRequest(t, map[string]string{HeaderUserID: "200"})
	r.AddCookie(&http.Cookie{Name: HeaderUserID, Value: "999"})

	hs, cerr := ParseHandshake(r)
	if cerr != nil {
		t.Fatal(cerr)
	}
	if hs.UserID != 200 {
		t.Fatalf("userID=%d, header must win", hs.UserID)
	}
}

func TestParseHandshakeMalformed(t *testing.T) {
	cases := map[string]map[string]string{
		"missing user id": {HeaderDeviceType: "DESKTOP"},
		"non-numeric":     {HeaderUserID: "abc"},
		"zero":            {HeaderUserID: "0"},
		"negative":        {HeaderUserID: "-5"},
		"bad request id":  {HeaderUserID: "200", HeaderRequestID: "nope"},
	}
	for name, headers := range cases {
		if _, cerr := ParseHandshake(upgradeRequest(t, headers)); cerr == nil || cerr.Code != errs.MalformedRequestError {
			t.Fatalf("%s: want malformed request error, got %v", name, cerr)
		}
	}

	// not an upgrade request at all
	plain := httptest.NewRequest(http.MethodGet, "/im", nil)
	plain.Header.Set(HeaderUserID, "200")
	if _, cerr := ParseHandshake(plain); cerr == nil || cerr.Code != errs.MalformedRequestError {
		t.Fatal("plain http request must be rejected")
	}
}

func TestParseDeviceType(t *testing.T) {
	for raw, want := range map[string]DeviceType{
		"DESKTOP": DeviceDesktop,
		"browser": DeviceBrowser,
		"Ios":     DeviceIOS,
		"ANDROID": DeviceAndroid,
		"OTHERS":  DeviceOthers,
		"":        DeviceUnknown,
		"toaster": DeviceUnknown,
	} {
		if got := ParseDeviceType(raw); got != want {
			t.Fatalf("ParseDeviceType(%q)=%v, want %v", raw, got, want)
		}
	}
}

func TestParseLocation(t *testing.T) {
	if _, err := ParseLocation("116.40"); err == nil {
		t.Fatal("missing latitude must fail")
	}
	if _, err := ParseLocation("x:y"); err == nil {
		t.Fatal("non-numeric coordinates must fail")
	}
	loc, err := ParseLocation("-73.98:40.74")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Longitude != -73.98 || loc.Latitude != 40.74 {
		t.Fatalf("loc=%+v", loc)
	}
}
