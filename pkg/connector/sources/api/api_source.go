// Package api provides a paginated HTTP source. It fetches pages of
// JSON arrays from an endpoint, emitting one item per element, until a
// page comes back empty. The resume cursor is the last fully emitted
// page number.
//
// Pulls are retried under the pipeline retry policy: throttling and
// server errors back off and try again, so a single 429 does not end
// the stream. Only permanent rejections and exhausted budgets surface.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/logger"
	"github.com/conveyr/conveyr/pkg/metrics"
	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/retry"
)

func init() {
	registry.RegisterSource("api", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Source, error) {
		url := cfg.Option("url", "")
		if url == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "api source requires a url option")
		}
		timeout, err := time.ParseDuration(cfg.Option("timeout", "30s"))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid timeout option")
		}
		return &Source{
			name:      cfg.BindingName(),
			url:       url,
			pageParam: cfg.Option("page_param", "page"),
			idField:   cfg.Option("id_field", "id"),
			authToken: cfg.Option("auth_token", ""),
			client:    &http.Client{Timeout: timeout},
			policy:    retry.FromConfig(pc.Retry),
		}, nil
	})
}

// Source pulls JSON pages from an HTTP endpoint.
type Source struct {
	name      string
	url       string
	pageParam string
	idField   string
	authToken string
	client    *http.Client
	policy    *retry.Policy
}

// Name implements core.Source.
func (s *Source) Name() string { return s.name }

// Open implements core.Source. cursor is "page:<n>" or empty.
func (s *Source) Open(ctx context.Context, cursor string) (*core.ItemStream, error) {
	page, err := parsePage(cursor)
	if err != nil {
		return nil, err
	}

	items := make(chan *models.Item)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		log := logger.Get().With(zap.String("source", s.name), zap.String("url", s.url))
		for {
			page++
			records, err := s.pullPage(ctx, log, page)
			if err != nil {
				errs <- err
				return
			}
			if len(records) == 0 {
				log.Debug("endpoint exhausted", zap.Int("pages", page-1))
				return
			}
			for _, data := range records {
				item := models.New(s.name, data)
				item.Cursor = fmt.Sprintf("page:%d", page)
				if id, ok := data[s.idField].(string); ok && id != "" {
					item.ID = id
				}
				select {
				case items <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &core.ItemStream{Items: items, Errors: errs}, nil
}

// pullPage fetches one page under the retry policy. Transient failures
// (throttling, 5xx, network errors) back off and retry; the error that
// comes back is permanent, fatal, or the exhausted retry budget.
func (s *Source) pullPage(ctx context.Context, log *zap.Logger, page int) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	attempt := 0
	err := s.policy.Execute(ctx, func() error {
		attempt++
		if attempt > 1 {
			log.Warn("pull retried", zap.Int("page", page), zap.Int("attempt", attempt))
			metrics.Retries.WithLabelValues("source_pull", s.name).Inc()
		}
		var ferr error
		records, ferr = s.fetchPage(ctx, page)
		return ferr
	})
	return records, err
}

// fetchPage performs one GET and decodes the body as a JSON array of
// objects. HTTP status codes are classified so the engine can retry
// throttling and server errors but stop on auth failures.
func (s *Source) fetchPage(ctx context.Context, page int) ([]map[string]interface{}, error) {
	sep := "?"
	if strings.Contains(s.url, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s%s%s=%d", s.url, sep, s.pageParam, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Newf(errors.ErrorTypeAuthentication, "endpoint rejected credentials: %s", resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Newf(errors.ErrorTypeRateLimit, "endpoint throttled: %s", resp.Status)
	case resp.StatusCode >= 500:
		return nil, errors.Newf(errors.ErrorTypeConnection, "endpoint unavailable: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.ErrorTypeData, "unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read body")
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "response is not a JSON array")
	}
	return records, nil
}

// Close implements core.Source.
func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func parsePage(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(cursor, "page:")
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeData, "malformed api cursor %q", cursor)
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "malformed api cursor %q", cursor)
	}
	return page, nil
}
