// cmd/signaturad/main_test.go
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signatura/signatura-core-go/internal/config"
	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/server"
	"github.com/signatura/signatura-core-go/internal/storage"
)

// This is an integration-style test that wires the same components main()
// uses (in-memory store + server mux) but runs them under httptest.Server.
func TestSignaturad_Integration(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := config.Config{
		Env:             "test",
		Address:         ":8080",
		ShareBaseURL:    "https://signatura.example",
		TokenIssuer:     "signatura-test",
		TokenSigningKey: priv,
		SessionTTL:      10 * time.Minute,
		OTPTTL:          5 * time.Minute,
	}
	store := storage.NewMemory()
	h, err := server.New(cfg, store, slog.Default())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	// Health
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Generate an issuer keypair
	resp, err = http.Post(ts.URL+"/v1/keys", "application/json", nil)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	var keysEnv struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&keysEnv); err != nil {
		resp.Body.Close()
		t.Fatalf("decode keys: %v", err)
	}
	resp.Body.Close()

	// Issue a credential
	in := map[string]any{
		"credentialType":  "diploma",
		"recipientEmail":  "grad@example.com",
		"recipientName":   "Jordan Grad",
		"issuerSecretKey": keysEnv.Data["secretKey"],
	}
	body, _ := json.Marshal(in)
	resp, err = http.Post(ts.URL+"/v1/credentials", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("issue status = %d body=%s", resp.StatusCode, string(b))
	}
	var issueEnv struct {
		Data model.SignedDocument `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issueEnv); err != nil {
		resp.Body.Close()
		t.Fatalf("decode issue: %v", err)
	}
	resp.Body.Close()
	if issueEnv.Data.DocumentID == "" {
		t.Fatalf("no document id in %+v", issueEnv.Data)
	}

	// Fetch it back
	resp, err = http.Get(ts.URL + "/v1/credentials/" + issueEnv.Data.DocumentID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("get status = %d body=%s", resp.StatusCode, string(b))
	}
	var getEnv struct {
		Data struct {
			Document model.SignedDocument `json:"document"`
			Revoked  bool                 `json:"revoked"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&getEnv); err != nil {
		resp.Body.Close()
		t.Fatalf("decode get: %v", err)
	}
	resp.Body.Close()
	if getEnv.Data.Document.DocumentID != issueEnv.Data.DocumentID {
		t.Fatalf("document mismatch: got %s want %s", getEnv.Data.Document.DocumentID, issueEnv.Data.DocumentID)
	}
}

func TestBuildStore_Memory(t *testing.T) {
	store, err := buildStore(config.Config{StoreBackend: "memory"}, slog.Default())
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if store == nil {
		t.Fatalf("nil store")
	}
}
