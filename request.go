package oauth2

import (
	"encoding/base64"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Request is the protocol-level view of an inbound HTTP request. The engine
// only needs header, query and form access, so HTTP framework adapters
// (api/echo) build one of these and hand it to a controller.
type Request struct {
	Method      string
	ContentType string
	Header      http.Header
	Query       url.Values
	Form        url.Values
}

// NewRequest builds a Request from a standard *http.Request. The body form
// must already be parsed (http.Request.ParseForm).
func NewRequest(r *http.Request) *Request {
	return &Request{
		Method:      r.Method,
		ContentType: r.Header.Get("Content-Type"),
		Header:      r.Header,
		Query:       r.URL.Query(),
		Form:        r.PostForm,
	}
}

// QueryParam returns a query-string parameter.
func (r *Request) QueryParam(name string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query.Get(name)
}

// FormValue returns a POST body parameter.
func (r *Request) FormValue(name string) string {
	if r.Form == nil {
		return ""
	}
	return r.Form.Get(name)
}

// BasicAuth extracts HTTP Basic credentials from the Authorization header.
func (r *Request) BasicAuth() (username, password string, ok bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}

// IsFormURLEncoded reports whether the request content type is
// application/x-www-form-urlencoded, ignoring any charset suffix.
func (r *Request) IsFormURLEncoded() bool {
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		// A bare content type without parameters still parses; a truly
		// malformed one is not form-urlencoded.
		return strings.HasPrefix(r.ContentType, "application/x-www-form-urlencoded")
	}
	return mediaType == "application/x-www-form-urlencoded"
}
