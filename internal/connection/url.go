package connection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/matchline/internal/auth"
)

// TokenParam is the query parameter carrying the access token. Browsers and
// some proxies cannot set headers on a WebSocket upgrade, so the token rides
// in the URL; the reverse proxy strips it from logs and re-issues it upstream.
const TokenParam = "token"

// BuildWSURL appends the current access token to base as a query parameter.
// It fails with ErrUnauthenticated when the store holds no token.
func BuildWSURL(base string, tokens auth.TokenSource) (string, error) {
	u, err := parseWSURL(base)
	if err != nil {
		return "", err
	}

	var token string
	if tokens != nil {
		token = tokens.AccessToken()
	}
	if token == "" {
		return "", ErrUnauthenticated
	}

	param := TokenParam + "=" + encodeQueryComponent(token)
	if u.RawQuery == "" {
		u.RawQuery = param
	} else {
		u.RawQuery += "&" + param
	}
	return u.String(), nil
}

func parseWSURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme %q (want ws or wss)", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// encodeQueryComponent percent-encodes like encodeURIComponent: spaces become
// %20 rather than "+".
func encodeQueryComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// redactURL hides the token for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	q := u.Query()
	if q.Has(TokenParam) {
		q.Set(TokenParam, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
