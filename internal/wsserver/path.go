package wsserver

import (
	"fmt"
	"net/url"
	"strings"
)

// canonicalizePath validates and normalizes a service path: it must
// start with "/";
// "?" and "#" are rejected; percent-escapes are UTF-8 decoded; a single
// trailing "/" is trimmed unless the whole path is "/".
//
// Decoding and trimming each happen once, so
// canonicalizePath(canonicalizePath(p)) == canonicalizePath(p) holds only
// when the canonical form contains no "%" and does not end in "/" (other
// than "/" itself). "/chat//" becomes "/chat/", which a second pass turns
// into "/chat"; "/a%25" becomes "/a%", which a second pass rejects.
func canonicalizePath(raw string) (string, error) {
	if raw == "" || raw[0] != '/' {
		return "", fmt.Errorf("%w: path must start with \"/\": %q", ErrConfig, raw)
	}
	if strings.ContainsAny(raw, "?#") {
		return "", fmt.Errorf("%w: path must not contain \"?\" or \"#\": %q", ErrConfig, raw)
	}

	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid percent-encoding in path %q: %v", ErrConfig, raw, err)
	}

	if decoded != "/" && strings.HasSuffix(decoded, "/") {
		decoded = strings.TrimSuffix(decoded, "/")
	}
	if decoded == "" {
		decoded = "/"
	}
	return decoded, nil
}
