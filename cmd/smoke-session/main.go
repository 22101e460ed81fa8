package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"taskgrid.org/internal/session"
)

// Drives the whole client stack against a running API: register a tenant,
// persist the session, break the access token, and verify the transport
// recovers through a shared refresh.
func main() {
	base := os.Getenv("TASKGRID_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	dir, err := os.MkdirTemp("", "taskgrid-smoke-")
	if err != nil {
		log.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(dir)

	storage := session.NewFileStorage(filepath.Join(dir, "session.json"))
	state := session.NewState()
	client := session.NewClient(base)
	manager := session.NewManager(client, storage, state)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	email := fmt.Sprintf("smoke-%d@taskgrid.test", rand.Int())
	err = manager.Register(ctx, session.RegisterParams{
		Organization: "Smoke Org",
		Name:         "Smoke Owner",
		Email:        email,
		Password:     "smoke-password-1",
	})
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	if !state.Authenticated() || !state.IsOwner() {
		log.Fatal("expected an authenticated owner session after register")
	}

	// Corrupt the in-memory access token; the stored refresh token stays
	// valid, so the next request must 401 and recover via refresh.
	tokens := state.Tokens()
	state.SetTokens(session.Tokens{
		AccessToken:  tokens.AccessToken + "x",
		RefreshToken: tokens.RefreshToken,
	})

	httpClient := &http.Client{Transport: session.NewTransport(manager)}
	resp, err := httpClient.Get(base + "/v1/departments")
	if err != nil {
		log.Fatalf("departments: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("departments after token corruption: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Departments []json.RawMessage `json:"departments"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		log.Fatalf("decode departments: %v", err)
	}

	if state.Tokens().RefreshToken == tokens.RefreshToken {
		log.Fatal("expected the refresh token to rotate")
	}

	// The persisted session must restore in a fresh manager.
	state2 := session.NewState()
	manager2 := session.NewManager(client, storage, state2)
	if err := manager2.InitializeFromStorage(ctx); err != nil {
		log.Fatalf("restore session: %v", err)
	}
	if !state2.Authenticated() {
		log.Fatal("restored session is not authenticated")
	}

	if err := manager.Logout(); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if state.Authenticated() {
		log.Fatal("session should be gone after logout")
	}

	fmt.Printf("session smoke test passed: owner=%s departments=%d\n", email, len(out.Departments))
}
