package security

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CredentialsFinder resolves a username to its cleartext password.
type CredentialsFinder func(username string) (password string, ok bool)

// DigestAuthenticator implements RFC 2617 HTTP Digest access
// authentication (qop=auth) for the "Digest" auth-scheme config value.
// Nonces are single-use and expire after nonceTTL; a server restart
// invalidates all outstanding nonces, which is acceptable since the
// server keeps no persisted state.
type DigestAuthenticator struct {
	Realm    string
	Finder   CredentialsFinder
	nonceTTL time.Duration

	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewDigestAuthenticator constructs an authenticator for realm using
// finder to resolve passwords.
func NewDigestAuthenticator(realm string, finder CredentialsFinder) *DigestAuthenticator {
	return &DigestAuthenticator{
		Realm:    realm,
		Finder:   finder,
		nonceTTL: 5 * time.Minute,
		nonces:   make(map[string]time.Time),
	}
}

// Challenge writes a 401 response with a fresh WWW-Authenticate: Digest
// header.
func (d *DigestAuthenticator) Challenge(w http.ResponseWriter) {
	nonce := d.newNonce()
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Digest realm=%q, qop="auth", nonce=%q, algorithm=MD5`, d.Realm, nonce))
	w.WriteHeader(http.StatusUnauthorized)
}

// Authenticate validates the Authorization header on r, returning the
// authenticated username on success.
func (d *DigestAuthenticator) Authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Digest ") {
		return "", false
	}
	params := parseDigestParams(strings.TrimPrefix(header, "Digest "))

	username := params["username"]
	if username == "" || d.Finder == nil {
		return "", false
	}
	password, ok := d.Finder(username)
	if !ok {
		return "", false
	}

	if !d.consumeNonce(params["nonce"]) {
		return "", false
	}

	ha1 := md5Hex(username + ":" + d.Realm + ":" + password)
	ha2 := md5Hex(r.Method + ":" + params["uri"])
	expected := md5Hex(strings.Join([]string{
		ha1, params["nonce"], params["nc"], params["cnonce"], params["qop"], ha2,
	}, ":"))

	return username, TokenMatch(params["response"], expected)
}

func (d *DigestAuthenticator) newNonce() string {
	var b [16]byte
	rand.Read(b[:])
	nonce := hex.EncodeToString(b[:])
	d.mu.Lock()
	d.nonces[nonce] = time.Now().Add(d.nonceTTL)
	d.mu.Unlock()
	return nonce
}

// consumeNonce enforces single-use: a nonce is valid exactly once within
// its TTL, then removed.
func (d *DigestAuthenticator) consumeNonce(nonce string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiry, ok := d.nonces[nonce]
	if !ok {
		return false
	}
	delete(d.nonces, nonce)
	return time.Now().Before(expiry)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// parseDigestParams splits a comma-separated list of key=value (or
// key="value") pairs from a Digest Authorization header.
func parseDigestParams(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}
