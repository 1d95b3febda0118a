package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func newDest(t *testing.T, url string, options map[string]string) core.Destination {
	t.Helper()
	if options == nil {
		options = map[string]string{}
	}
	options["url"] = url
	dst, err := registry.CreateDestination(
		&config.ConnectorConfig{Type: "api", Options: options},
		config.DefaultPipelineConfig("test"))
	require.NoError(t, err)
	return dst
}

func item(id string, data map[string]interface{}) *models.Item {
	it := models.New("src", data)
	it.ID = id
	return it
}

func send(t *testing.T, dst core.Destination, it *models.Item) error {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, dst.Open(ctx))
	defer dst.Close()
	return dst.Send(ctx, it)
}

func TestPostsItemAsJSON(t *testing.T) {
	var (
		gotMethod string
		gotType   string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	err := send(t, newDest(t, srv.URL, nil), item("a", map[string]interface{}{"v": "1"}))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)

	var rec record
	require.NoError(t, json.Unmarshal(gotBody, &rec))
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, "src", rec.Source)
	assert.Equal(t, "1", rec.Data["v"])
}

func TestPutMethodOption(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	t.Cleanup(srv.Close)

	err := send(t, newDest(t, srv.URL, map[string]string{"method": "PUT"}), item("a", nil))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
}

func TestBearerTokenIsSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	err := send(t, newDest(t, srv.URL, map[string]string{"auth_token": "s3cret"}), item("a", nil))
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", got)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"auth rejection is fatal", http.StatusUnauthorized, errors.IsFatal},
		{"throttling is transient", http.StatusTooManyRequests, errors.IsTransient},
		{"server error is transient", http.StatusBadGateway, errors.IsTransient},
		{"client rejection is permanent", http.StatusUnprocessableEntity, errors.IsPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			err := send(t, newDest(t, srv.URL, nil), item("a", nil))
			require.Error(t, err)
			assert.True(t, tt.check(err))
		})
	}
}

func TestRejectsUnknownMethod(t *testing.T) {
	_, err := registry.CreateDestination(
		&config.ConnectorConfig{Type: "api", Options: map[string]string{
			"url":    "http://example.invalid",
			"method": "PATCH",
		}},
		config.DefaultPipelineConfig("test"))
	assert.Error(t, err)
}
