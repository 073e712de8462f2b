package transport

import "net/http"

// Authenticator injects vendor authentication into an outgoing request.
// body is the Go value about to be sent, for schemes that sign the payload.
// Implementations must not retain req or body.
type Authenticator interface {
	Authenticate(req *http.Request, body any) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(req *http.Request, body any) error

func (f AuthenticatorFunc) Authenticate(req *http.Request, body any) error { return f(req, body) }

// BearerAuth sets "Authorization: Bearer <key>". Used by OpenAI-compatible
// vendors, Dify and DashScope.
type BearerAuth struct {
	Key string
}

func (a BearerAuth) Authenticate(req *http.Request, _ any) error {
	if a.Key != "" {
		req.Header.Set("Authorization", "Bearer "+a.Key)
	}
	return nil
}

// String keeps the key out of logs and fmt output.
func (a BearerAuth) String() string { return "BearerAuth{Key:***}" }

// QueryTokenAuth puts the token into a query parameter, e.g. Baidu's
// access_token.
type QueryTokenAuth struct {
	Param string
	Token string
}

func (a QueryTokenAuth) Authenticate(req *http.Request, _ any) error {
	if a.Token == "" {
		return nil
	}
	q := req.URL.Query()
	q.Set(a.Param, a.Token)
	req.URL.RawQuery = q.Encode()
	return nil
}

func (a QueryTokenAuth) String() string { return "QueryTokenAuth{Param:" + a.Param + ", Token:***}" }
