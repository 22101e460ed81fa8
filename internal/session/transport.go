package session

import (
	"bytes"
	"io"
	"net/http"
)

// exemptPaths never carry a credential and never trigger a refresh: a 401
// from them is an answer, not a stale token.
var exemptPaths = map[string]struct{}{
	"/v1/auth/login":    {},
	"/v1/auth/register": {},
	"/v1/auth/refresh":  {},
}

// Transport is an http.RoundTripper that attaches the session's bearer token
// and transparently retries a request exactly once after a 401, behind the
// manager's shared refresh. A rejected refresh ends the session and the
// original 401 is returned untouched.
type Transport struct {
	Base    http.RoundTripper
	Manager *Manager
}

func NewTransport(m *Manager) *Transport {
	return &Transport{Base: http.DefaultTransport, Manager: m}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, exempt := exemptPaths[req.URL.Path]; exempt {
		return t.base().RoundTrip(req)
	}

	token, err := t.Manager.AccessToken(req.Context())
	if err != nil {
		// Proactive refresh failed; send as-is and let the server answer.
		token = t.Manager.State().AccessToken()
	}

	out, err := cloneable(req)
	if err != nil {
		return nil, err
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	fresh, refreshErr := t.Manager.SharedRefresh(req.Context())
	if refreshErr != nil || fresh == "" {
		return resp, nil
	}

	retry, err := redo(out)
	if err != nil {
		return resp, nil
	}
	drain(resp)

	retry.Header.Set("Authorization", "Bearer "+fresh)
	return t.base().RoundTrip(retry)
}

// cloneable guarantees the request body can be replayed. Requests built
// without GetBody get their body buffered once up front.
func cloneable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req.Clone(req.Context()), nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(raw))
	out.ContentLength = int64(len(raw))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return out, nil
}

// redo rebuilds a request from its replayable body.
func redo(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
