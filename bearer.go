package oauth2

import (
	"net/http"
	"regexp"

	serrors "go.pilab.hu/oauth2/errors"
)

var bearerHeaderRegexp = regexp.MustCompile(`^\s*Bearer\s+(\S+)\s*$`)

// ExtractBearerToken pulls the bearer credential out of the request. The
// token must arrive via exactly one of the Authorization header, the query
// string, or the POST body (RFC 6750 sections 2.1-2.3).
func ExtractBearerToken(req *Request) (string, *serrors.OAuth2Error) {
	header := req.Header.Get("Authorization")
	queryToken := req.QueryParam("access_token")
	bodyToken := req.FormValue("access_token")

	methods := 0
	if header != "" {
		methods++
	}
	if queryToken != "" {
		methods++
	}
	if bodyToken != "" {
		methods++
	}

	if methods > 1 {
		return "", serrors.NewInvalidRequest("Only one method may be used to authenticate at a time (Auth header, GET or POST)")
	}
	if methods == 0 {
		return "", serrors.NewInvalidRequest("The access token was not found")
	}

	switch {
	case header != "":
		m := bearerHeaderRegexp.FindStringSubmatch(header)
		if m == nil {
			return "", serrors.NewInvalidRequest("Malformed auth header")
		}
		return m[1], nil

	case bodyToken != "":
		if req.Method != http.MethodPost {
			return "", serrors.NewInvalidRequest("When putting the token in the body, the method must be POST")
		}
		if !req.IsFormURLEncoded() {
			return "", serrors.NewInvalidRequest("The content type for POST requests must be application/x-www-form-urlencoded")
		}
		return bodyToken, nil

	default:
		return queryToken, nil
	}
}
