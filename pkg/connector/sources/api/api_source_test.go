package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func newSource(t *testing.T, url string, options map[string]string) core.Source {
	t.Helper()
	if options == nil {
		options = map[string]string{}
	}
	options["url"] = url
	pc := config.DefaultPipelineConfig("test")
	pc.Retry = config.RetryConfig{
		Attempts: 3,
		Delay:    config.Duration(time.Millisecond),
		MaxDelay: config.Duration(5 * time.Millisecond),
		Backoff:  config.BackoffFixed,
	}
	src, err := registry.CreateSource(
		&config.ConnectorConfig{Type: "api", Options: options}, pc)
	require.NoError(t, err)
	return src
}

func collect(t *testing.T, src core.Source, cursor string) ([]*models.Item, []error) {
	t.Helper()
	stream, err := src.Open(context.Background(), cursor)
	require.NoError(t, err)
	defer src.Close()

	var items []*models.Item
	var errs []error
	for stream.Items != nil || stream.Errors != nil {
		select {
		case it, ok := <-stream.Items:
			if !ok {
				stream.Items = nil
				continue
			}
			items = append(items, it)
		case err, ok := <-stream.Errors:
			if !ok {
				stream.Errors = nil
				continue
			}
			errs = append(errs, err)
		}
	}
	return items, errs
}

func pagedServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Query().Get("page")]
		if !ok {
			body = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPaginatesUntilEmptyPage(t *testing.T) {
	srv := pagedServer(t, map[string]string{
		"1": `[{"id":"a","v":"1"},{"id":"b","v":"2"}]`,
		"2": `[{"id":"c","v":"3"}]`,
	})

	items, errs := collect(t, newSource(t, srv.URL, nil), "")
	require.Empty(t, errs)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "page:1", items[0].Cursor)
	assert.Equal(t, "c", items[2].ID)
	assert.Equal(t, "page:2", items[2].Cursor)
}

func TestResumesFromPageCursor(t *testing.T) {
	srv := pagedServer(t, map[string]string{
		"1": `[{"id":"a"}]`,
		"2": `[{"id":"b"}]`,
	})

	items, errs := collect(t, newSource(t, srv.URL, nil), "page:1")
	require.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
}

func TestMissingIDFieldFallsBackToContentHash(t *testing.T) {
	srv := pagedServer(t, map[string]string{"1": `[{"v":"x"}]`})

	items, errs := collect(t, newSource(t, srv.URL, nil), "")
	require.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].ID, "identity is derived later by the engine")
}

func TestAuthRejectionIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, errs := collect(t, newSource(t, srv.URL, nil), "")
	require.Len(t, errs, 1)
	assert.True(t, errors.IsFatal(errs[0]))
}

func TestThrottledPullRetriesAndResumes(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The very first pull is throttled; every retry succeeds.
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `[{"id":"a"},{"id":"b"}]`)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(srv.Close)

	items, errs := collect(t, newSource(t, srv.URL, nil), "")
	require.Empty(t, errs, "a transient 429 must not end the stream")
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.GreaterOrEqual(t, calls.Load(), int64(3), "throttled pull plus retry plus empty page")
}

func TestPersistentThrottlingExhaustsBudget(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, errs := collect(t, newSource(t, srv.URL, nil), "")
	require.Len(t, errs, 1)
	assert.True(t, errors.IsExhausted(errs[0]))
	assert.Equal(t, int64(3), calls.Load(), "one attempt per budget slot")
}

func TestBearerTokenIsSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(srv.Close)

	_, errs := collect(t, newSource(t, srv.URL, map[string]string{"auth_token": "s3cret"}), "")
	require.Empty(t, errs)
	assert.Equal(t, "Bearer s3cret", got)
}
