package webhooks

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mdresch/cognisync-pipeline/core"
)

func TestHTTPHandler_AcceptsSignedPost(t *testing.T) {
	events := core.NewMemoryEventStore()
	intake, _ := NewIntake(testConfigStore(), events)
	server := httptest.NewServer(NewHTTPHandler(intake))
	defer server.Close()

	body := []byte(`{"webhookEvent":"issue_created","issue":{"key":"JIRA-1"}}`)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/webhooks/cfg-1", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, signHex("shh", body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if got := len(events.Snapshot()); got != 1 {
		t.Fatalf("expected one enqueued event, got %d", got)
	}
}

func TestHTTPHandler_RejectsMissingSignature(t *testing.T) {
	events := core.NewMemoryEventStore()
	intake, _ := NewIntake(testConfigStore(), events)
	server := httptest.NewServer(NewHTTPHandler(intake))
	defer server.Close()

	resp, err := http.Post(server.URL+"/webhooks/cfg-1", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := len(events.Snapshot()); got != 0 {
		t.Fatalf("expected no enqueued events, got %d", got)
	}
}

func TestHTTPHandler_RejectsOversizedBody(t *testing.T) {
	events := core.NewMemoryEventStore()
	intake, _ := NewIntake(testConfigStore(), events)
	server := httptest.NewServer(NewHTTPHandler(intake))
	defer server.Close()

	body := bytes.Repeat([]byte("x"), maxWebhookBodyBytes+1)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/webhooks/cfg-1", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, signHex("shh", body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	if got := len(events.Snapshot()); got != 0 {
		t.Fatalf("expected no enqueued events, got %d", got)
	}
}
