package session

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSessionClient(m *Manager) *http.Client {
	return &http.Client{Transport: &Transport{Base: http.DefaultTransport, Manager: m}}
}

func TestTransportAttachesBearerOnlyWhenStored(t *testing.T) {
	var sawAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	state := NewState()
	m := NewManager(NewClient(srv.URL), NewMemoryStorage(), state)
	client := newSessionClient(m)

	// No session: no credential.
	resp, err := client.Get(srv.URL + "/v1/departments")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "", sawAuth.Load())

	// With a session: bearer attached.
	access := mintToken(t, time.Now().Add(10*time.Minute))
	state.SetTokens(Tokens{AccessToken: access, RefreshToken: "r"})

	resp, err = client.Get(srv.URL + "/v1/departments")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "Bearer "+access, sawAuth.Load())
}

func TestTransportExemptEndpointsCarryNoCredential(t *testing.T) {
	var sawAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	state := NewState()
	state.SetTokens(Tokens{
		AccessToken:  mintToken(t, time.Now().Add(10*time.Minute)),
		RefreshToken: "r",
	})
	m := NewManager(NewClient(srv.URL), NewMemoryStorage(), state)
	client := newSessionClient(m)

	for _, path := range []string{"/v1/auth/login", "/v1/auth/register", "/v1/auth/refresh"} {
		resp, err := client.Post(srv.URL+path, "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, "", sawAuth.Load(), "path %s must carry no credential", path)
	}
}

func TestTransportRetriesOnceAfterRefresh(t *testing.T) {
	stale := mintToken(t, time.Now().Add(10*time.Minute))
	fresh := mintToken(t, time.Now().Add(20*time.Minute))

	var refreshCalls, apiCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			refreshCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  fresh,
				"refresh_token": "r-new",
			})
		case "/v1/tasks":
			apiCalls.Add(1)
			body, _ := io.ReadAll(r.Body)
			require.JSONEq(t, `{"title":"t"}`, string(body), "body must survive the retry")
			if r.Header.Get("Authorization") != "Bearer "+fresh {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
				return
			}
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	storage := NewMemoryStorage()
	require.NoError(t, storage.Save(Tokens{AccessToken: stale, RefreshToken: "r-old"}))
	state := NewState()
	state.SetTokens(Tokens{AccessToken: stale, RefreshToken: "r-old"})

	m := NewManager(NewClient(srv.URL), storage, state)
	client := newSessionClient(m)

	resp, err := client.Post(srv.URL+"/v1/tasks", "application/json", strings.NewReader(`{"title":"t"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int64(1), refreshCalls.Load())
	require.Equal(t, int64(2), apiCalls.Load(), "original attempt plus one retry")
}

func TestTransportSharesOneRefreshAcrossConcurrentRequests(t *testing.T) {
	stale := mintToken(t, time.Now().Add(10*time.Minute))
	fresh := mintToken(t, time.Now().Add(20*time.Minute))

	var refreshCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			refreshCalls.Add(1)
			time.Sleep(50 * time.Millisecond) // widen the single-flight window
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  fresh,
				"refresh_token": "r-new",
			})
		default:
			if r.Header.Get("Authorization") == "Bearer "+fresh {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
		}
	}))
	defer srv.Close()

	storage := NewMemoryStorage()
	require.NoError(t, storage.Save(Tokens{AccessToken: stale, RefreshToken: "r-old"}))
	state := NewState()
	state.SetTokens(Tokens{AccessToken: stale, RefreshToken: "r-old"})

	m := NewManager(NewClient(srv.URL), storage, state)
	client := newSessionClient(m)

	const n = 8
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/v1/departments")
			if err != nil {
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), refreshCalls.Load(), "concurrent 401s must share one refresh")
	for i, code := range statuses {
		require.Equal(t, http.StatusOK, code, "request %d should succeed after the shared refresh", i)
	}
}

func TestTransportReturnsOriginal401WhenRefreshRejected(t *testing.T) {
	stale := mintToken(t, time.Now().Add(10*time.Minute))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
	}))
	defer srv.Close()

	storage := NewMemoryStorage()
	require.NoError(t, storage.Save(Tokens{AccessToken: stale, RefreshToken: "r-dead"}))
	state := NewState()
	state.SetTokens(Tokens{AccessToken: stale, RefreshToken: "r-dead"})

	m := NewManager(NewClient(srv.URL), storage, state)
	client := newSessionClient(m)

	resp, err := client.Get(srv.URL + "/v1/departments")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.False(t, state.Authenticated(), "rejected refresh must end the session")
	_, ok, loadErr := storage.Load()
	require.NoError(t, loadErr)
	require.False(t, ok)
}
