package transformers

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"

	json "github.com/goccy/go-json"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterTransformer("encrypt", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Transformer, error) {
		keyHex := cfg.Option("key", "")
		if keyHex == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "encrypt transformer requires a hex key option")
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "key must be hex encoded")
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "key must be 16, 24 or 32 bytes")
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build cipher")
		}
		return &Encrypt{name: cfg.BindingName(), gcm: gcm}, nil
	})
}

// Encrypt seals the item payload with AES-GCM and replaces it with the
// base64 ciphertext (nonce prepended). Structured data is serialized to
// JSON before sealing; downstream destinations see only the raw form.
type Encrypt struct {
	name string
	gcm  cipher.AEAD
}

// Name implements core.Transformer.
func (t *Encrypt) Name() string { return t.name }

// Process implements core.Transformer.
func (t *Encrypt) Process(ctx context.Context, item *models.Item) (*models.Item, error) {
	plaintext := item.Raw
	if len(item.Data) > 0 {
		var err error
		plaintext, err = json.Marshal(item.Data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "payload not serializable")
		}
	}

	nonce := make([]byte, t.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to generate nonce")
	}
	sealed := t.gcm.Seal(nonce, nonce, plaintext, nil)

	out := item.Clone()
	out.Data = nil
	out.Raw = []byte(base64.StdEncoding.EncodeToString(sealed))
	return out, nil
}
