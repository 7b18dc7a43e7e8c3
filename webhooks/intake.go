package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/mdresch/cognisync-pipeline/core"
)

// InboundRequest is a webhook delivery as it arrives at the boundary, before
// any trust is established.
type InboundRequest struct {
	ConfigID string
	Headers  map[string]string
	Body     []byte
}

// InboundResult is what the webhook caller learns: accept or reject. The
// caller is never told about downstream processing outcome.
type InboundResult struct {
	Accepted   bool
	StatusCode int
	EventID    string
	Metadata   map[string]any
}

// Intake authenticates a delivery and enqueues it. Sits between the HTTP
// adapter and the event store.
type Intake struct {
	Configs core.ConfigStore
	Events  core.EventStore
	Metrics core.MetricsRecorder
	Logger  core.Logger
}

func NewIntake(configs core.ConfigStore, events core.EventStore) (*Intake, error) {
	if configs == nil {
		return nil, fmt.Errorf("webhooks: config store is required")
	}
	if events == nil {
		return nil, fmt.Errorf("webhooks: event store is required")
	}
	return &Intake{
		Configs: configs,
		Events:  events,
		Metrics: core.NopMetricsRecorder{},
		Logger:  glog.Nop(),
	}, nil
}

func (i *Intake) Handle(ctx context.Context, req InboundRequest) (InboundResult, error) {
	if i == nil || i.Configs == nil || i.Events == nil {
		return InboundResult{}, fmt.Errorf("webhooks: intake requires config and event stores")
	}
	configID := strings.TrimSpace(req.ConfigID)
	if configID == "" {
		return InboundResult{}, core.NewBadInputError("webhooks: config id is required", nil)
	}

	config, err := i.Configs.Get(ctx, configID)
	if err != nil {
		if core.IsNotFound(err) {
			return rejected(http.StatusNotFound), err
		}
		return InboundResult{}, core.WrapExternalError(err, "webhooks: resolve configuration", map[string]any{
			"config_id": configID,
		})
	}
	if !config.Enabled {
		return rejected(http.StatusNotFound), core.NewNotFoundError(
			"webhooks: configuration is disabled",
			map[string]any{"config_id": configID},
		)
	}

	signature := headerValue(req.Headers, SignatureHeader)
	if !VerifySignature(config.Secret, req.Body, signature) {
		return rejected(http.StatusUnauthorized), core.NewAuthError(
			"webhooks: signature verification failed",
			map[string]any{"config_id": configID},
		)
	}

	eventType, externalID := describePayload(req.Body)
	event, err := i.Events.Enqueue(ctx, core.EnqueueInput{
		ConfigID:   configID,
		TenantID:   config.TenantID,
		Source:     config.Source,
		Type:       eventType,
		ExternalID: externalID,
		Payload:    req.Body,
	})
	if err != nil {
		return InboundResult{}, core.WrapExternalError(err, "webhooks: enqueue sync event", map[string]any{
			"config_id": configID,
		})
	}

	i.metrics().IncCounter(ctx, core.MetricEventsReceived, 1, map[string]string{
		"config_id": configID,
		"source":    config.Source,
	})
	i.logger().Info("webhook accepted",
		"config_id", configID,
		"event_id", event.ID,
		"event_type", eventType,
	)

	return InboundResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		EventID:    event.ID,
		Metadata: map[string]any{
			"config_id":  configID,
			"event_type": eventType,
		},
	}, nil
}

// describePayload pulls the event kind and upstream object id out of the raw
// body for indexing. Intake never rejects on shape; the transformer owns
// structural validation.
func describePayload(body []byte) (string, string) {
	var payload struct {
		WebhookEvent string `json:"webhookEvent"`
		Issue        struct {
			Key string `json:"key"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return strings.TrimSpace(payload.WebhookEvent), strings.TrimSpace(payload.Issue.Key)
}

func rejected(statusCode int) InboundResult {
	return InboundResult{
		Accepted:   false,
		StatusCode: statusCode,
		Metadata:   map[string]any{"rejected": true},
	}
}

func (i *Intake) metrics() core.MetricsRecorder {
	if i != nil && i.Metrics != nil {
		return i.Metrics
	}
	return core.NopMetricsRecorder{}
}

func (i *Intake) logger() core.Logger {
	if i != nil && i.Logger != nil {
		return i.Logger
	}
	return glog.Nop()
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
