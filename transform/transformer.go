// Package transform maps raw webhook payloads into domain events and hands
// them to the broker. A payload missing its structural prerequisites is a
// skip, not a failure: the sync event still completes, with zero events
// published.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mdresch/cognisync-pipeline/core"
)

// Result carries either the events to publish or an explicit skip.
type Result struct {
	Events     []core.DomainEvent
	Skipped    bool
	SkipReason string
}

type issuePayload struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
			Project struct {
				Key string `json:"key"`
			} `json:"project"`
			IssueType struct {
				Name string `json:"name"`
			} `json:"issuetype"`
		} `json:"fields"`
	} `json:"issue"`
	User struct {
		AccountID   string `json:"accountId"`
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

// Transform validates the issue-shaped payload and emits CREATE_ENTITY and
// LINK_ENTITIES events. Message ids derive from the sync event id plus a
// role suffix so broker redelivery of the same publish attempt is detectable
// downstream.
func Transform(event core.SyncEvent) (Result, error) {
	var payload issuePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return Result{}, fmt.Errorf("transform: decode payload for event %q: %w", event.ID, err)
	}

	missing := missingFields(payload)
	if len(missing) > 0 {
		return Result{
			Skipped:    true,
			SkipReason: "missing fields: " + strings.Join(missing, ", "),
		}, nil
	}

	issueKey := strings.TrimSpace(payload.Issue.Key)
	metadata := map[string]any{
		"status":       strings.TrimSpace(payload.Issue.Fields.Status.Name),
		"webhookEvent": strings.TrimSpace(payload.WebhookEvent),
	}
	if project := strings.TrimSpace(payload.Issue.Fields.Project.Key); project != "" {
		metadata["project"] = project
	}
	if issueType := strings.TrimSpace(payload.Issue.Fields.IssueType.Name); issueType != "" {
		metadata["issueType"] = issueType
	}

	events := []core.DomainEvent{
		{
			MessageID:   event.ID + "-issue",
			MessageType: core.MessageTypeCreateEntity,
			Payload: core.EntityPayload{
				ID:       issueKey,
				Type:     core.EntityTypeIssue,
				Name:     strings.TrimSpace(payload.Issue.Fields.Summary),
				Metadata: metadata,
			}.ToMap(),
		},
	}

	if accountID := strings.TrimSpace(payload.User.AccountID); accountID != "" {
		events = append(events,
			core.DomainEvent{
				MessageID:   event.ID + "-user",
				MessageType: core.MessageTypeCreateEntity,
				Payload: core.EntityPayload{
					ID:   accountID,
					Type: core.EntityTypePerson,
					Name: strings.TrimSpace(payload.User.DisplayName),
				}.ToMap(),
			},
			core.DomainEvent{
				MessageID:   event.ID + "-link",
				MessageType: core.MessageTypeLinkEntities,
				Payload: core.RelationshipPayload{
					SourceEntityID:   issueKey,
					TargetEntityID:   accountID,
					RelationshipType: core.RelationshipReportedBy,
				}.ToMap(),
			},
		)
	}

	return Result{Events: events}, nil
}

func missingFields(payload issuePayload) []string {
	var missing []string
	if strings.TrimSpace(payload.WebhookEvent) == "" {
		missing = append(missing, "webhookEvent")
	}
	if strings.TrimSpace(payload.Issue.Key) == "" {
		missing = append(missing, "issue.key")
	}
	if strings.TrimSpace(payload.Issue.Fields.Summary) == "" {
		missing = append(missing, "issue.fields.summary")
	}
	if strings.TrimSpace(payload.Issue.Fields.Status.Name) == "" {
		missing = append(missing, "issue.fields.status.name")
	}
	return missing
}
