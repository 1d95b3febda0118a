// Package api provides an HTTP destination. Each item is serialized to
// JSON and sent to an endpoint with POST or PUT; response status codes
// are classified so the engine retries throttling and server errors but
// stops on auth failures.
package api

import (
	"bytes"
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterDestination("api", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error) {
		url := cfg.Option("url", "")
		if url == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "api destination requires a url option")
		}
		method := cfg.Option("method", http.MethodPost)
		if method != http.MethodPost && method != http.MethodPut {
			return nil, errors.Newf(errors.ErrorTypeConfig, "api destination method must be POST or PUT, got %q", method)
		}
		timeout, err := time.ParseDuration(cfg.Option("timeout", "30s"))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid timeout option")
		}
		return &Destination{
			name:      cfg.BindingName(),
			url:       url,
			method:    method,
			authToken: cfg.Option("auth_token", ""),
			client:    &http.Client{Timeout: timeout},
		}, nil
	})
}

// record is the JSON body sent per item.
type record struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Raw       string                 `json:"raw,omitempty"`
}

// Destination posts items to an HTTP endpoint one request per item.
type Destination struct {
	name      string
	url       string
	method    string
	authToken string
	client    *http.Client
}

// Name implements core.Destination.
func (d *Destination) Name() string { return d.name }

// Open implements core.Destination. The client is connectionless until
// the first send, so there is nothing to establish up front.
func (d *Destination) Open(ctx context.Context) error { return nil }

// Send implements core.Destination.
func (d *Destination) Send(ctx context.Context, item *models.Item) error {
	body, err := json.Marshal(record{
		ID:        item.ID,
		Source:    item.Source,
		Timestamp: item.Timestamp.UnixMilli(),
		Data:      item.Data,
		Raw:       string(item.Raw),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "item not serializable")
	}

	req, err := http.NewRequestWithContext(ctx, d.method, d.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Newf(errors.ErrorTypeAuthentication, "endpoint rejected credentials: %s", resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Newf(errors.ErrorTypeRateLimit, "endpoint throttled: %s", resp.Status)
	case resp.StatusCode >= 500:
		return errors.Newf(errors.ErrorTypeConnection, "endpoint unavailable: %s", resp.Status)
	case resp.StatusCode >= 300:
		return errors.Newf(errors.ErrorTypeData, "unexpected status: %s", resp.Status)
	}
	return nil
}

// Close implements core.Destination.
func (d *Destination) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
