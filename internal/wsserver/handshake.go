package wsserver

import (
	"net/http"
	"net/url"
)

// HandshakeContext is immutable after creation. It carries the
// upgrade request's identifying details into the Behavior's validators and
// into the Session once Open.
type HandshakeContext struct {
	Method     string
	Version    string
	RequestURI string
	Host       string
	Origin     string
	Header     http.Header
	Query      url.Values
	CookiesIn  []*http.Cookie
	RemoteAddr string
	Principal  string // authenticated user, "" if anonymous
}

func newHandshakeContext(r *http.Request, principal string) *HandshakeContext {
	return &HandshakeContext{
		Method:     r.Method,
		Version:    r.Proto,
		RequestURI: r.RequestURI,
		Host:       r.Host,
		Origin:     r.Header.Get("Origin"),
		Header:     r.Header.Clone(),
		Query:      r.URL.Query(),
		CookiesIn:  r.Cookies(),
		RemoteAddr: r.RemoteAddr,
		Principal:  principal,
	}
}

// HostValidator reports whether the Host header is acceptable.
type HostValidator func(host string) bool

// OriginValidator reports whether the Origin header is acceptable. It is
// invoked even when origin is "", so the hook can decide whether an
// absent Origin is itself a rejection.
type OriginValidator func(origin string) bool

// CookiesValidator inspects the inbound cookies and may append outbound
// Set-Cookie values via cookiesOut; it returns false to reject.
type CookiesValidator func(cookiesIn []*http.Cookie, cookiesOut *[]*http.Cookie) bool

// ValidatorConfig is the set of checks a Behavior may install; all are
// optional. Checks run short-circuit in the order listed and
// the first failure wins.
type ValidatorConfig struct {
	HostValidator    HostValidator
	OriginValidator  OriginValidator
	CookiesValidator CookiesValidator
	IgnoreExtensions bool
	Protocol         string
}

// rejection describes why the Handshake Validator rejected an upgrade.
type rejection struct {
	status int
	reason string
}

func (r *rejection) Error() string { return r.reason }

// runValidator applies the validator pipeline. It returns a
// non-nil *rejection on the first failing step, and the accepted
// subprotocol (possibly "") and outbound cookies on success.
func runValidator(cfg ValidatorConfig, ctx *HandshakeContext, offeredProtocols []string) (acceptedProtocol string, cookiesOut []*http.Cookie, rej *rejection) {
	if cfg.HostValidator != nil && !cfg.HostValidator(ctx.Host) {
		return "", nil, &rejection{status: http.StatusBadRequest, reason: "invalid Host header"}
	}

	if cfg.OriginValidator != nil && !cfg.OriginValidator(ctx.Origin) {
		return "", nil, &rejection{status: http.StatusBadRequest, reason: "invalid Origin header"}
	}

	if cfg.CookiesValidator != nil {
		if !cfg.CookiesValidator(ctx.CookiesIn, &cookiesOut) {
			return "", nil, &rejection{status: http.StatusForbidden, reason: "invalid cookies"}
		}
	}

	// Subprotocol: echo exactly one if Protocol is set and offered,
	// otherwise omit the header entirely.
	if cfg.Protocol != "" {
		for _, p := range offeredProtocols {
			if p == cfg.Protocol {
				acceptedProtocol = cfg.Protocol
				break
			}
		}
	}

	return acceptedProtocol, cookiesOut, nil
}
