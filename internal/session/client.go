package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskgrid.org/internal/auth"
)

// Kind classifies API failures so callers branch on meaning, not on status
// codes scattered through the code.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindInvalidInput    Kind = "invalid_input"
	KindUnauthorized    Kind = "unauthorized"
	KindRefreshRejected Kind = "refresh_rejected"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindServer          Kind = "server"
)

// APIError is the single error type crossing the client boundary. The wire
// body is decoded exactly once, here; callers never re-parse responses.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
}

// IsRefreshRejected reports whether the server permanently refused the
// refresh credential.
func IsRefreshRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindRefreshRejected
}

// Client speaks the auth API's JSON wire format.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption adjusts a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenPairWire struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

type whoAmIWire struct {
	User  *auth.User      `json:"user"`
	Roles []auth.UserRole `json:"roles"`
}

// RegisterParams create a new organization and its owner.
type RegisterParams struct {
	Organization string `json:"organization"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

func (c *Client) Register(ctx context.Context, p RegisterParams) (Tokens, error) {
	var out tokenPairWire
	if err := c.post(ctx, "/v1/auth/register", p, &out, nil); err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	body := map[string]string{"email": email, "password": password}
	var out tokenPairWire
	if err := c.post(ctx, "/v1/auth/login", body, &out, nil); err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

// Refresh exchanges the refresh credential for a new pair. A 401 means the
// credential was rejected outright and the session is over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var out tokenPairWire
	err := c.post(ctx, "/v1/auth/refresh", body, &out, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			apiErr.Kind = KindRefreshRejected
		}
		return Tokens{}, err
	}
	return Tokens{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

// WhoAmI fetches the authenticated identity and its role grants.
func (c *Client) WhoAmI(ctx context.Context, accessToken string) (*auth.User, []auth.UserRole, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/auth/me", nil)
	if err != nil {
		return nil, nil, &APIError{Kind: KindNetwork, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	var out whoAmIWire
	if err := c.send(req, &out); err != nil {
		return nil, nil, err
	}
	return out.User, out.Roles, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any, headers map[string]string) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return &APIError{Kind: KindInvalidInput, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return &APIError{Kind: KindNetwork, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Kind: KindNetwork, Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Kind: KindServer, Status: resp.StatusCode, Message: "malformed response body"}
		}
	}
	return nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	var wire struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &wire)

	kind := KindServer
	switch {
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindUnauthorized
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status >= 400 && status < 500:
		kind = KindInvalidInput
	}
	return &APIError{Kind: kind, Status: status, Message: wire.Error}
}
