// Package deploy triggers deployments of stored site bundles through a
// deployment webhook.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one deployment trigger request.
const DefaultTimeout = 30 * time.Second

// Deployment identifies a started deployment.
type Deployment struct {
	ID  string `json:"deployment_id"`
	URL string `json:"url"`
}

// Deployer starts a deployment of the bundle stored at artifactRef.
type Deployer interface {
	Deploy(ctx context.Context, siteID, artifactRef string) (*Deployment, error)
}

// Error represents a failed deployment trigger
type Error struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	msg := "deploy error: " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("deploy error: %s (status %d)", e.Message, e.StatusCode)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Webhook posts deployment requests to a fixed endpoint.
type Webhook struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewWebhook creates a webhook deployer. A nil client uses one with DefaultTimeout.
func NewWebhook(endpoint, token string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Webhook{endpoint: endpoint, token: token, client: client}
}

type webhookRequest struct {
	SiteID      string `json:"site_id"`
	ArtifactURL string `json:"artifact_url"`
}

// Deploy implements Deployer.
func (w *Webhook) Deploy(ctx context.Context, siteID, artifactRef string) (*Deployment, error) {
	body, err := json.Marshal(webhookRequest{SiteID: siteID, ArtifactURL: artifactRef})
	if err != nil {
		return nil, &Error{Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, &Error{Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "deployment rejected: " + string(bytes.TrimSpace(data))}
	}

	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "invalid response body", Cause: err}
	}
	if d.ID == "" {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "response has no deployment_id"}
	}
	return &d, nil
}
