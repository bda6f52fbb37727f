package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDigestAuthenticatorChallengeThenAuthenticate(t *testing.T) {
	finder := func(username string) (string, bool) {
		if username == "alice" {
			return "hunter2", true
		}
		return "", false
	}
	d := NewDigestAuthenticator("wsserver", finder)

	rec := httptest.NewRecorder()
	d.Challenge(rec)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Challenge status = %d, want 401", rec.Code)
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	params := parseDigestParams(strings.TrimPrefix(challenge, "Digest "))
	nonce := params["nonce"]
	if nonce == "" {
		t.Fatal("challenge did not include a nonce")
	}

	ha1 := md5Hex("alice:wsserver:hunter2")
	ha2 := md5Hex("GET:/ws")
	response := md5Hex(strings.Join([]string{ha1, nonce, "00000001", "abcd", "auth", ha2}, ":"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization",
		`Digest username="alice", realm="wsserver", nonce="`+nonce+`", uri="/ws", `+
			`qop=auth, nc=00000001, cnonce="abcd", response="`+response+`"`)

	username, ok := d.Authenticate(req)
	if !ok || username != "alice" {
		t.Fatalf("Authenticate() = (%q, %v), want (\"alice\", true)", username, ok)
	}
}

func TestDigestAuthenticatorRejectsReplayedNonce(t *testing.T) {
	finder := func(username string) (string, bool) { return "hunter2", true }
	d := NewDigestAuthenticator("wsserver", finder)

	rec := httptest.NewRecorder()
	d.Challenge(rec)
	params := parseDigestParams(strings.TrimPrefix(rec.Header().Get("WWW-Authenticate"), "Digest "))
	nonce := params["nonce"]

	ha1 := md5Hex("alice:wsserver:hunter2")
	ha2 := md5Hex("GET:/ws")
	response := md5Hex(strings.Join([]string{ha1, nonce, "00000001", "abcd", "auth", ha2}, ":"))
	mkReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Authorization",
			`Digest username="alice", realm="wsserver", nonce="`+nonce+`", uri="/ws", `+
				`qop=auth, nc=00000001, cnonce="abcd", response="`+response+`"`)
		return req
	}

	if _, ok := d.Authenticate(mkReq()); !ok {
		t.Fatal("first use of nonce should succeed")
	}
	if _, ok := d.Authenticate(mkReq()); ok {
		t.Fatal("replayed nonce should be rejected")
	}
}

func TestDigestAuthenticatorRejectsWrongPassword(t *testing.T) {
	finder := func(username string) (string, bool) { return "wrong-password", true }
	d := NewDigestAuthenticator("wsserver", finder)

	rec := httptest.NewRecorder()
	d.Challenge(rec)
	params := parseDigestParams(strings.TrimPrefix(rec.Header().Get("WWW-Authenticate"), "Digest "))
	nonce := params["nonce"]

	ha1 := md5Hex("alice:wsserver:hunter2")
	ha2 := md5Hex("GET:/ws")
	response := md5Hex(strings.Join([]string{ha1, nonce, "00000001", "abcd", "auth", ha2}, ":"))
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization",
		`Digest username="alice", realm="wsserver", nonce="`+nonce+`", uri="/ws", `+
			`qop=auth, nc=00000001, cnonce="abcd", response="`+response+`"`)

	if _, ok := d.Authenticate(req); ok {
		t.Fatal("Authenticate should fail when the server-side password differs")
	}
}
