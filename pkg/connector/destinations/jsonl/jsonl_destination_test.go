package jsonl

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/models"
)

func newDest(t *testing.T, path string, options map[string]string) core.Destination {
	t.Helper()
	if options == nil {
		options = map[string]string{}
	}
	options["path"] = path
	dst, err := registry.CreateDestination(
		&config.ConnectorConfig{Type: "jsonl", Options: options},
		config.DefaultPipelineConfig("test"))
	require.NoError(t, err)
	return dst
}

func item(id string, data map[string]interface{}) *models.Item {
	it := models.New("src", data)
	it.ID = id
	return it
}

func TestWritesOneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	dst := newDest(t, path, nil)
	ctx := context.Background()

	require.NoError(t, dst.Open(ctx))
	require.NoError(t, dst.Send(ctx, item("a", map[string]interface{}{"v": "1"})))
	require.NoError(t, dst.Send(ctx, item("b", map[string]interface{}{"v": "2"})))
	require.NoError(t, dst.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ID)
		assert.Equal(t, "src", rec.Source)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestGzipCompressedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl.gz")
	dst := newDest(t, path, map[string]string{"compress": "gzip"})
	ctx := context.Background()

	require.NoError(t, dst.Open(ctx))
	require.NoError(t, dst.Send(ctx, item("a", map[string]interface{}{"v": "1"})))
	require.NoError(t, dst.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	require.True(t, scanner.Scan())
	var rec record
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "a", rec.ID)
	assert.False(t, scanner.Scan())
}

func TestSendBeforeOpenFails(t *testing.T) {
	dst := newDest(t, filepath.Join(t.TempDir(), "out.jsonl"), nil)
	err := dst.Send(context.Background(), item("a", nil))
	assert.Error(t, err)
}

func TestAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	ctx := context.Background()

	first := newDest(t, path, nil)
	require.NoError(t, first.Open(ctx))
	require.NoError(t, first.Send(ctx, item("a", nil)))
	require.NoError(t, first.Close())

	second := newDest(t, path, nil)
	require.NoError(t, second.Open(ctx))
	require.NoError(t, second.Send(ctx, item("b", nil)))
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"a"`)
	assert.Contains(t, string(data), `"id":"b"`)
}
