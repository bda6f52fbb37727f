package wsserver

import (
	"strings"
	"testing"
)

// TestValidateCloseCode covers the close-code range rules and the
// reason-length limit.
func TestValidateCloseCode(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		reason  string
		wantErr bool
	}{
		{"normal", CloseNormal, "bye", false},
		{"going_away", CloseGoingAway, "", false},
		{"lower_bound", 1000, "", false},
		{"upper_bound", 4999, "", false},
		{"below_range", 999, "", true},
		{"above_range", 5000, "", true},
		{"mandatory_ext_rejected", CloseMandatoryExt, "x", true},
		{"no_status_with_reason", CloseNoStatus, "x", true},
		{"no_status_empty_reason", CloseNoStatus, "", false},
		{"reason_too_long", CloseNormal, strings.Repeat("x", 124), true},
		{"reason_at_limit", CloseNormal, strings.Repeat("x", 123), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateCloseCode(c.code, c.reason)
			if c.wantErr && err == nil {
				t.Errorf("validateCloseCode(%d, len=%d) = nil, want error", c.code, len(c.reason))
			}
			if !c.wantErr && err != nil {
				t.Errorf("validateCloseCode(%d, len=%d) = %v, want nil", c.code, len(c.reason), err)
			}
		})
	}
}

func TestReadyStateString(t *testing.T) {
	cases := map[ReadyState]string{
		Connecting: "connecting",
		Open:       "open",
		Closing:    "closing",
		Closed:     "closed",
	}
	for rs, want := range cases {
		if got := rs.String(); got != want {
			t.Errorf("ReadyState(%d).String() = %q, want %q", rs, got, want)
		}
	}
}

func TestConnectionSendRequiresOpen(t *testing.T) {
	c := newConnection(nil, 0, "")
	if err := c.Send(OpcodeText, []byte("hi")); err == nil {
		t.Fatal("Send on a Connecting connection should fail")
	}
}

func TestConnectionPingFalseWhenNotOpen(t *testing.T) {
	c := newConnection(nil, 0, "")
	if c.Ping(nil, 0) {
		t.Fatal("Ping on a Connecting connection should return false")
	}
}
