package transformers

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func build(t *testing.T, typeName string, options map[string]string) core.Transformer {
	t.Helper()
	tr, err := registry.CreateTransformer(
		&config.ConnectorConfig{Type: typeName, Options: options},
		config.DefaultPipelineConfig("test"))
	require.NoError(t, err)
	return tr
}

func TestUppercaseFoldsStringsAndRaw(t *testing.T) {
	tr := build(t, "uppercase", nil)

	in := models.New("src", map[string]interface{}{"text": "hello", "n": 3})
	in.Raw = []byte("raw line")
	out, err := tr.Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "HELLO", out.Data["text"])
	assert.Equal(t, 3, out.Data["n"])
	assert.Equal(t, "RAW LINE", string(out.Raw))
	// The input is untouched.
	assert.Equal(t, "hello", in.Data["text"])
}

func TestFilterKeepMode(t *testing.T) {
	tr := build(t, "filter", map[string]string{"keywords": "alert, Error"})

	kept, err := tr.Process(context.Background(), models.NewRaw("src", []byte("disk ERROR on node 3")))
	require.NoError(t, err)
	assert.NotNil(t, kept)

	dropped, err := tr.Process(context.Background(), models.NewRaw("src", []byte("all quiet")))
	require.NoError(t, err)
	assert.Nil(t, dropped)
}

func TestFilterDropMode(t *testing.T) {
	tr := build(t, "filter", map[string]string{"keywords": "spam", "mode": "drop"})

	dropped, err := tr.Process(context.Background(),
		models.New("src", map[string]interface{}{"subject": "buy SPAM now"}))
	require.NoError(t, err)
	assert.Nil(t, dropped)

	kept, err := tr.Process(context.Background(),
		models.New("src", map[string]interface{}{"subject": "weekly report"}))
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestFilterRejectsBadMode(t *testing.T) {
	_, err := registry.CreateTransformer(
		&config.ConnectorConfig{Type: "filter", Options: map[string]string{"keywords": "x", "mode": "invert"}},
		config.DefaultPipelineConfig("test"))
	assert.Error(t, err)
}

func TestCSVToMapParsesLine(t *testing.T) {
	tr := build(t, "csv_to_map", map[string]string{"columns": "name, city, age"})

	out, err := tr.Process(context.Background(), models.NewRaw("src", []byte(`ada,"london, uk",36`)))
	require.NoError(t, err)
	assert.Equal(t, "ada", out.Data["name"])
	assert.Equal(t, "london, uk", out.Data["city"])
	assert.Equal(t, "36", out.Data["age"])
	assert.Nil(t, out.Raw)
}

func TestCSVToMapFieldCountMismatchIsPermanent(t *testing.T) {
	tr := build(t, "csv_to_map", map[string]string{"columns": "a,b,c"})

	_, err := tr.Process(context.Background(), models.NewRaw("src", []byte("1,2")))
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err), "bad rows must not be retried")
}

func TestDedupDropsRepeatedContent(t *testing.T) {
	tr := build(t, "dedup", map[string]string{"capacity": "1000"})

	first := models.NewRaw("src", []byte("payload"))
	first.ID = "id-1"
	out, err := tr.Process(context.Background(), first)
	require.NoError(t, err)
	assert.NotNil(t, out)

	// Same content under a different identity is still a duplicate.
	second := models.NewRaw("src", []byte("payload"))
	second.ID = "id-2"
	out, err = tr.Process(context.Background(), second)
	require.NoError(t, err)
	assert.Nil(t, out)

	third := models.NewRaw("src", []byte("different"))
	out, err = tr.Process(context.Background(), third)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestEncryptSealsPayload(t *testing.T) {
	key := "000102030405060708090a0b0c0d0e0f"
	tr := build(t, "encrypt", map[string]string{"key": key})

	in := models.NewRaw("src", []byte("secret payload"))
	out, err := tr.Process(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, in.Raw, out.Raw)

	// Decrypt out-of-band to prove the envelope is sound.
	rawKey, err := hex.DecodeString(key)
	require.NoError(t, err)
	block, err := aes.NewCipher(rawKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	sealed, err := base64.StdEncoding.DecodeString(string(out.Raw))
	require.NoError(t, err)
	require.Greater(t, len(sealed), gcm.NonceSize())
	plain, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(plain))
}

func TestEncryptRejectsBadKey(t *testing.T) {
	_, err := registry.CreateTransformer(
		&config.ConnectorConfig{Type: "encrypt", Options: map[string]string{"key": "abcd"}},
		config.DefaultPipelineConfig("test"))
	assert.Error(t, err)
}
