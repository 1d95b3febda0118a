package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
)

var upgrader = websocket.Upgrader{}

func feedServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, msg := range messages {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		}
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSource(t *testing.T, url string) core.Source {
	t.Helper()
	src, err := registry.CreateSource(
		&config.ConnectorConfig{Type: "websocket", Options: map[string]string{"url": url}},
		config.DefaultPipelineConfig("test"))
	require.NoError(t, err)
	return src
}

func TestEmitsMessagesUntilPeerCloses(t *testing.T) {
	srv := feedServer(t, []string{"first", "second"})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	src := newSource(t, wsURL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := src.Open(ctx, "")
	require.NoError(t, err)
	defer src.Close()

	var payloads []string
	ids := map[string]bool{}
	for it := range stream.Items {
		payloads = append(payloads, string(it.Raw))
		ids[it.ID] = true
	}
	for err := range stream.Errors {
		t.Fatalf("unexpected stream error: %v", err)
	}

	assert.Equal(t, []string{"first", "second"}, payloads)
	assert.Len(t, ids, 2, "every message gets a distinct identity")
}

func TestDialFailureSurfacesAsConnectionError(t *testing.T) {
	src := newSource(t, "ws://127.0.0.1:1/feed")
	_, err := src.Open(context.Background(), "")
	assert.Error(t, err)
}

func TestFactoryRequiresURL(t *testing.T) {
	_, err := registry.CreateSource(
		&config.ConnectorConfig{Type: "websocket"},
		config.DefaultPipelineConfig("test"))
	assert.Error(t, err)
}
