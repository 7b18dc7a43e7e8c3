package pipeline_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pipeline "github.com/mdresch/cognisync-pipeline"
	"github.com/mdresch/cognisync-pipeline/broker"
	"github.com/mdresch/cognisync-pipeline/core"
	"github.com/mdresch/cognisync-pipeline/webhooks"
)

const (
	testConfigID = "cfg-jira-prod"
	testSecret   = "shh"
	testTenant   = "tenant-1"
	testSource   = "jira"
)

func newTestPipeline(t *testing.T) (*pipeline.Pipeline, *core.MemoryEventStore, *core.MemoryGraphStore, *broker.Memory) {
	t.Helper()

	cfg := pipeline.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.BatchSize = 10

	events := core.NewMemoryEventStore()
	graph := core.NewMemoryGraphStore()
	topic := broker.NewMemory(64)

	p, err := pipeline.New(cfg, pipeline.Dependencies{
		Events: events,
		Configs: core.NewMemoryConfigStore(core.SyncConfiguration{
			ID:       testConfigID,
			TenantID: testTenant,
			Source:   testSource,
			Secret:   testSecret,
			Enabled:  true,
		}),
		Mappings:   core.NewMemoryMappingStore(),
		Graph:      graph,
		Topic:      topic,
		Deliveries: topic.Subscribe(),
		TenantID:   testTenant,
		Source:     testSource,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, events, graph, topic
}

func signedRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+testConfigID, strings.NewReader(body))
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	req.Header.Set(webhooks.SignatureHeader, webhooks.SignaturePrefix+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestPipeline_WebhookToGraph(t *testing.T) {
	p, events, graph, _ := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	body := `{
		"webhookEvent": "jira:issue_created",
		"issue": {
			"id": "10001",
			"key": "PROJ-42",
			"fields": {"summary": "Fix login", "status": {"name": "Open"}}
		},
		"user": {"accountId": "acct-9", "displayName": "Dana"}
	}`

	recorder := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(recorder, signedRequest(body))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	waitFor(t, func() bool {
		entities := graph.Entities()
		return len(entities) == 2 && len(graph.Relationships()) == 1
	})

	var issue, person bool
	for _, entity := range graph.Entities() {
		switch entity.Type {
		case core.EntityTypeIssue:
			issue = entity.ID == "PROJ-42"
		case core.EntityTypePerson:
			person = entity.ID == "acct-9"
		}
	}
	if !issue || !person {
		t.Fatalf("expected issue and person entities, got %+v", graph.Entities())
	}

	relationship := graph.Relationships()[0]
	if relationship.RelationshipType != core.RelationshipReportedBy {
		t.Fatalf("expected %s relationship, got %s", core.RelationshipReportedBy, relationship.RelationshipType)
	}

	// The completed event must not be leasable again.
	leased, err := events.LeaseBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("LeaseBatch: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("expected no leasable events after completion, got %d", len(leased))
	}
}

func TestPipeline_RejectsBadSignatureWithoutSideEffects(t *testing.T) {
	p, _, graph, topic := newTestPipeline(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+testConfigID, strings.NewReader(`{}`))
	req.Header.Set(webhooks.SignatureHeader, "sha256=deadbeef")

	recorder := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if topic.Depth() != 0 {
		t.Fatalf("expected empty topic, found %d messages", topic.Depth())
	}
	if len(graph.Entities()) != 0 {
		t.Fatalf("expected no graph writes")
	}
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Stop()
	p.Stop()

	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestPipeline_WaitBeforeStartReturnsImmediately(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait blocked without a started pipeline")
	}
}

func TestPipeline_NewRequiresBroker(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	_, err := pipeline.New(cfg, pipeline.Dependencies{
		Events:   core.NewMemoryEventStore(),
		Configs:  core.NewMemoryConfigStore(),
		Mappings: core.NewMemoryMappingStore(),
		Graph:    core.NewMemoryGraphStore(),
		TenantID: testTenant,
		Source:   testSource,
	})
	if err == nil {
		t.Fatalf("expected error for missing broker topic")
	}
}
