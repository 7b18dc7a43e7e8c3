// Package graphclient is the HTTP client for the knowledge graph service.
// It doubles as a remote-backed core.GraphStore, so a deployment can apply
// domain events against the hosted graph API instead of the local SQL tables.
package graphclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/mdresch/cognisync-pipeline/core"
)

const (
	defaultTimeout = 15 * time.Second

	healthPath        = "/api/v1/health"
	entitiesPath      = "/api/v1/entities"
	relationshipsPath = "/api/v1/relationships"
)

// Client talks to the knowledge graph API. The API accepts the key both as a
// bearer token and as an x-api-key header; we send both.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     core.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(baseURL string, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("graphclient: base url is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("graphclient: api key is required")
	}
	client := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// HealthStatus is the health endpoint response.
type HealthStatus struct {
	Status string `json:"status"`
}

func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, healthPath, nil, &status); err != nil {
		return HealthStatus{}, err
	}
	return status, nil
}

// Entity is the graph API entity representation.
type Entity struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenantId,omitempty"`
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Relationship is the graph API edge representation.
type Relationship struct {
	SourceEntityID   string `json:"sourceEntityId"`
	TargetEntityID   string `json:"targetEntityId"`
	RelationshipType string `json:"relationshipType"`
	TenantID         string `json:"tenantId,omitempty"`
}

func (c *Client) GetEntity(ctx context.Context, entityID string) (Entity, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return Entity{}, fmt.Errorf("graphclient: entity id is required")
	}
	var entity Entity
	if err := c.do(ctx, http.MethodGet, entitiesPath+"/"+url.PathEscape(entityID), nil, &entity); err != nil {
		return Entity{}, err
	}
	return entity, nil
}

// ListEntities fetches entities, optionally filtered by query parameters.
func (c *Client) ListEntities(ctx context.Context, params map[string]string) ([]Entity, error) {
	path := entitiesPath
	if len(params) > 0 {
		values := url.Values{}
		for key, value := range params {
			values.Set(key, value)
		}
		path += "?" + values.Encode()
	}
	var entities []Entity
	if err := c.do(ctx, http.MethodGet, path, nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (c *Client) CreateEntityRecord(ctx context.Context, entity Entity) (Entity, error) {
	if strings.TrimSpace(entity.ID) == "" {
		return Entity{}, fmt.Errorf("graphclient: entity id is required")
	}
	var created Entity
	if err := c.do(ctx, http.MethodPost, entitiesPath, entity, &created); err != nil {
		return Entity{}, err
	}
	return created, nil
}

func (c *Client) UpdateEntity(ctx context.Context, entityID string, entity Entity) (Entity, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return Entity{}, fmt.Errorf("graphclient: entity id is required")
	}
	var updated Entity
	if err := c.do(ctx, http.MethodPut, entitiesPath+"/"+url.PathEscape(entityID), entity, &updated); err != nil {
		return Entity{}, err
	}
	return updated, nil
}

func (c *Client) DeleteEntity(ctx context.Context, entityID string) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return fmt.Errorf("graphclient: entity id is required")
	}
	return c.do(ctx, http.MethodDelete, entitiesPath+"/"+url.PathEscape(entityID), nil, nil)
}

// CreateEntity implements core.GraphStore. A conflict means the entity is
// already in the graph, which counts as success.
func (c *Client) CreateEntity(ctx context.Context, entity core.GraphEntity) error {
	_, err := c.CreateEntityRecord(ctx, Entity{
		ID:       entity.ID,
		TenantID: entity.TenantID,
		Type:     entity.Type,
		Name:     entity.Name,
		Metadata: entity.Metadata,
	})
	if isConflict(err) {
		return nil
	}
	return err
}

// CreateRelationship implements core.GraphStore with the same
// success-if-exists contract.
func (c *Client) CreateRelationship(ctx context.Context, relationship core.GraphRelationship) error {
	err := c.do(ctx, http.MethodPost, relationshipsPath, Relationship{
		SourceEntityID:   relationship.SourceEntityID,
		TargetEntityID:   relationship.TargetEntityID,
		RelationshipType: relationship.RelationshipType,
		TenantID:         relationship.TenantID,
	}, nil)
	if isConflict(err) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("graphclient: client is not configured")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graphclient: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("graphclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.WrapExternalError(err, "graph api request failed", map[string]any{
			"method": method,
			"path":   path,
		})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.WrapExternalError(err, "decode graph api response", map[string]any{
			"method": method,
			"path":   path,
		})
	}
	return nil
}

func (c *Client) statusError(method string, path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	metadata := map[string]any{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
		"body":        strings.TrimSpace(string(snippet)),
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewAuthError("graph api rejected credentials", metadata)
	case http.StatusNotFound:
		return core.NewNotFoundError("graph api resource not found", metadata)
	case http.StatusConflict:
		return errConflict{metadata: metadata}
	default:
		return core.WrapExternalError(
			fmt.Errorf("graphclient: unexpected status %d", resp.StatusCode),
			"graph api request failed",
			metadata,
		)
	}
}

type errConflict struct {
	metadata map[string]any
}

func (e errConflict) Error() string {
	return "graphclient: resource already exists"
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(errConflict)
	return ok
}

var _ core.GraphStore = (*Client)(nil)
